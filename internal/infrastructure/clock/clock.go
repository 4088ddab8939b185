// Package clock provides the wall-clock ports.Clock.
package clock

import (
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// System is the real-time ports.Clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// AfterFunc runs fn on its own goroutine after d.
func (System) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return time.AfterFunc(d, fn)
}
