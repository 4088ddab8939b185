package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/workspace-realtime/internal/auth"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd("test")
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := execute(t, "")

	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "watch")
	assert.Contains(t, out, "publish")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "", "--unknown-flag", "value")

	assert.Error(t, err)
}

func TestTokenCommand_MintsValidToken(t *testing.T) {
	out, err := execute(t, "", "token", "--secret", "s3cret", "--user", "u1", "--name", "Ada", "--ttl", "1h")
	require.NoError(t, err)

	identity, err := auth.NewTokenManager("s3cret", time.Hour).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "Ada", identity.DisplayName)
}

func TestTokenCommand_RequiresUserAndSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := execute(t, "", "token", "--user", "u1")
	assert.ErrorContains(t, err, "secret")

	_, err = execute(t, "", "token", "--secret", "s3cret")
	assert.ErrorContains(t, err, "--user")
}

func TestPublishCommand_PostsEnvelope(t *testing.T) {
	var gotAuth string
	var gotBody struct {
		Type    domain.EventType `json:"type"`
		Payload json.RawMessage  `json:"payload"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	payload := `{"taskId":"t1","workspaceId":"w1","title":"Write docs"}`
	out, err := execute(t, payload, "publish", "task-created", "--server", srv.URL, "--token", "tok")
	require.NoError(t, err)

	assert.Contains(t, out, "published task-created")
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, domain.EventTaskCreated, gotBody.Type)
	assert.JSONEq(t, payload, string(gotBody.Payload))
}

func TestPublishCommand_ReadsFile(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"taskId":"t1","workspaceId":"w1"}`), 0o600))

	_, err := execute(t, "", "publish", "task-deleted", "-f", file, "--server", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestPublishCommand_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"validation failed"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		stdin   string
		args    []string
		wantErr string
	}{
		{"missing token", `{}`, []string{"publish", "task-created", "--server", srv.URL, "--token", ""}, "token is required"},
		{"invalid json", `{`, []string{"publish", "task-created", "--server", srv.URL, "--token", "tok"}, "not valid JSON"},
		{"unknown type", `{}`, []string{"publish", "task-exploded", "--server", srv.URL, "--token", "tok"}, "unknown"},
		{"server rejects", `{"taskId":"t1"}`, []string{"publish", "task-created", "--server", srv.URL, "--token", "tok"}, "422"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.stdin, tt.args...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWatchCommand_RequiresToken(t *testing.T) {
	_, err := execute(t, "", "watch", "--token", "")

	assert.ErrorContains(t, err, "token is required")
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/v1/ws", false},
		{"https://collab.example.com/", "wss://collab.example.com/api/v1/ws", false},
		{"wss://collab.example.com/base", "wss://collab.example.com/base/api/v1/ws", false},
		{"ftp://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := websocketURL(tt.server)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	payload, err := json.Marshal(domain.TypingPayload{TaskID: "t1", UserID: "u2", IsTyping: true})
	require.NoError(t, err)

	printMessage(&buf, domain.ServerMessage{Type: domain.ServerUserTyping, Payload: payload, SentAt: time.Now()})

	assert.Contains(t, buf.String(), "is typing on t1")
}
