package commands

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorrc/workspace-realtime/internal/client"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/clock"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/logging"
)

type watchOptions struct {
	workspace  string
	notify     bool
	typingTask string
	verbose    bool
}

func newWatchCmd(global *globalOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream realtime activity for a workspace",
		Long: `Connect to the realtime endpoint and print every event, presence change,
typing indicator and notification as it arrives.

The connection is re-established with exponential backoff after a drop
(1s, 2s, 4s, 8s, 16s). After five failed attempts the client goes offline;
press Enter to try again.

With --typing-task, every line typed on stdin counts as a keystroke on that
task and an empty line stops typing.

Examples:
  # Watch a workspace with terminal notifications
  collabctl watch --workspace w1 --notify

  # Simulate typing on a task
  collabctl watch --workspace w1 --typing-task t42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", "", "Workspace to join")
	cmd.Flags().BoolVar(&opts.notify, "notify", false, "Show a terminal banner for notifications")
	cmd.Flags().StringVar(&opts.typingTask, "typing-task", "", "Task id to send typing indicators for")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log connection details")
	return cmd
}

func runWatch(cmd *cobra.Command, global *globalOptions, opts *watchOptions) error {
	out := cmd.OutOrStdout()

	if global.token == "" {
		return fmt.Errorf("a token is required: pass --token or set $%s", tokenEnv)
	}
	wsURL, err := websocketURL(global.server)
	if err != nil {
		return err
	}
	dialer, err := client.NewWebSocketDialer(wsURL)
	if err != nil {
		return err
	}

	level := "error"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.NewLogger(logging.Config{
		Level:       level,
		Format:      "text",
		Output:      cmd.ErrOrStderr(),
		ServiceName: "collabctl",
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := client.NewController(dialer, clock.System{}, client.Options{
		Token: global.token,
		Push:  &terminalNotifier{out: out, enabled: opts.notify},
	}, logger)
	defer ctrl.Close()

	ctrl.OnStateChange(func(s client.State) {
		printState(out, s)
		if s == client.StateOffline {
			printWarning(out, "gave up reconnecting; press Enter to retry")
		}
	})
	ctrl.Subscribe(func(msg domain.ServerMessage) {
		printMessage(out, msg)
	})

	if opts.workspace != "" {
		if err := ctrl.JoinWorkspace(opts.workspace); err != nil {
			return err
		}
	}
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}

	var typing *client.TypingDebouncer
	if opts.typingTask != "" {
		typing = client.NewTypingDebouncer(ctrl, clock.System{}, 0, 0)
	}
	go readInput(cmd.InOrStdin(), ctrl, typing, opts.typingTask, logger)

	<-ctx.Done()
	if typing != nil {
		_ = typing.Stop()
	}
	printSuccess(out, "disconnected (%d notifications received)", ctrl.NotificationCount())
	return nil
}

// readInput turns stdin lines into keystrokes. Any line retries an offline client.
func readInput(in io.Reader, ctrl *client.Controller, typing *client.TypingDebouncer, taskID string, logger *slog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctrl.State() == client.StateOffline {
			ctrl.Reconnect()
			continue
		}
		if typing == nil {
			continue
		}

		var err error
		if strings.TrimSpace(scanner.Text()) == "" {
			err = typing.Stop()
		} else {
			err = typing.Keystroke(taskID)
		}
		if err != nil {
			logger.Debug("typing indicator not sent", "error", err)
		}
	}
}

// websocketURL derives the realtime endpoint from the service base URL.
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", server, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/ws"
	u.RawQuery = ""
	return u.String(), nil
}
