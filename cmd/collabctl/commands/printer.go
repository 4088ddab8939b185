package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/lorrc/workspace-realtime/internal/client"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

var (
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed, color.Bold)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta, color.Bold)
	faint   = color.New(color.Faint)
)

func printSuccess(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

func printWarning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! "+format+"\n", a...)
}

func printError(w io.Writer, err error) {
	red.Fprintf(w, "Error: %v\n", err)
}

func printState(w io.Writer, s client.State) {
	c := yellow
	switch s {
	case client.StateConnected:
		c = green
	case client.StateOffline:
		c = red
	}
	c.Fprintf(w, "[%s] %s\n", clockStamp(time.Now()), s)
}

// printMessage renders one server message as a single line.
func printMessage(w io.Writer, msg domain.ServerMessage) {
	stamp := faint.Sprint(clockStamp(msg.SentAt))

	switch msg.Type {
	case domain.ServerUserJoined:
		var p domain.PresencePayload
		if msg.Decode(&p) == nil {
			fmt.Fprintf(w, "%s %s %s\n", stamp, green.Sprint("+"), displayName(p.User.DisplayName, p.User.UserID))
			return
		}
	case domain.ServerUserLeft:
		var p domain.UserLeftPayload
		if msg.Decode(&p) == nil {
			fmt.Fprintf(w, "%s %s %s\n", stamp, yellow.Sprint("-"), displayName(p.DisplayName, p.UserID))
			return
		}
	case domain.ServerUsersOnline:
		var p domain.UsersOnlinePayload
		if msg.Decode(&p) == nil {
			fmt.Fprintf(w, "%s online in %s: %d\n", stamp, p.WorkspaceID, len(p.Users))
			for _, u := range p.Users {
				fmt.Fprintf(w, "    %s\n", displayName(u.DisplayName, u.UserID))
			}
			return
		}
	case domain.ServerUserTyping:
		var p domain.TypingPayload
		if msg.Decode(&p) == nil {
			verb := "stopped typing on"
			if p.IsTyping {
				verb = "is typing on"
			}
			fmt.Fprintf(w, "%s %s %s %s\n", stamp, faint.Sprint(p.UserID), verb, p.TaskID)
			return
		}
	case domain.ServerNotification:
		var n domain.NotificationEnvelope
		if msg.Decode(&n) == nil {
			fmt.Fprintf(w, "%s %s %s: %s\n", stamp, magenta.Sprint("*"), n.Title, n.Message)
			return
		}
	case domain.ServerPong:
		return
	}

	fmt.Fprintf(w, "%s %s %s\n", stamp, cyan.Sprint(msg.Type), string(msg.Payload))
}

func displayName(name, userID string) string {
	if name == "" {
		return userID
	}
	return name + " (" + userID + ")"
}

func clockStamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Local().Format("15:04:05")
}

// terminalNotifier shows notifications as a highlighted banner with a bell.
type terminalNotifier struct {
	out     io.Writer
	enabled bool
}

func (n *terminalNotifier) Permitted() bool {
	return n.enabled
}

func (n *terminalNotifier) Push(notification domain.NotificationEnvelope) error {
	_, err := magenta.Fprintf(n.out, "\a>>> %s\n    %s\n", notification.Title, notification.Message)
	return err
}
