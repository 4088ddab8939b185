package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

type publishOptions struct {
	file    string
	timeout time.Duration
}

func newPublishCmd(global *globalOptions) *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish <event-type>",
		Short: "Publish a domain event as the CRUD layer would",
		Long: `Send a domain event to the publish endpoint. The payload is read from
--file, or from stdin when --file is "-".

Event types: ` + eventTypeList() + `

Examples:
  collabctl publish task-updated --file update.json
  echo '{"taskId":"t1","workspaceId":"w1"}' | collabctl publish task-created -f -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, global, opts, domain.EventType(args[0]))
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "Payload file, or - for stdin")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func runPublish(cmd *cobra.Command, global *globalOptions, opts *publishOptions, eventType domain.EventType) error {
	if global.token == "" {
		return fmt.Errorf("a token is required: pass --token or set $%s", tokenEnv)
	}

	payload, err := readPayload(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}
	// Catch typos locally before the server rejects them.
	if _, err := domain.DecodeEvent(eventType, payload); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(global.server, "/") + "/api/v1/events"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+global.token)

	httpClient := &http.Client{Timeout: opts.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish %s: server returned %d: %s", eventType, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	printSuccess(cmd.OutOrStdout(), "published %s", eventType)
	return nil
}

func readPayload(stdin io.Reader, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func eventTypeList() string {
	names := make([]string, len(domain.EventTypes))
	for i, t := range domain.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
