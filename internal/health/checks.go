package health

import (
	"context"
	"sync"
	"time"

	"imbridge/internal/protocol"
)

// KeymapSource is the part of a seat the keymap check reads.
type KeymapSource interface {
	Keymap() (protocol.Keymap, error)
	RepeatInfo() protocol.RepeatInfo
}

// KeymapCheck reports degraded while the seat has no keymap to send
// input methods.
func KeymapCheck(seat KeymapSource) Check {
	return func(ctx context.Context) CheckResult {
		km, err := seat.Keymap()
		if err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "no keymap for input methods",
				Error:   err.Error(),
			}
		}
		repeat := seat.RepeatInfo()
		return CheckResult{
			Status:  StatusHealthy,
			Message: "keymap loaded",
			Details: map[string]any{
				"size":         km.Size,
				"repeat_rate":  repeat.Rate,
				"repeat_delay": repeat.Delay,
			},
		}
	}
}

// InputMethodCheck reports degraded while no input method is bound.
// count returns the number of live input methods.
func InputMethodCheck(count func() int) Check {
	return func(ctx context.Context) CheckResult {
		n := count()
		if n == 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "no input method bound",
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "input methods bound",
			Details: map[string]any{"count": n},
		}
	}
}

// ErrorTracker remembers the outcome of the last attempt at some
// recurring operation, such as a configuration reload.
type ErrorTracker struct {
	mu   sync.Mutex
	err  error
	when time.Time
}

// Record stores err (nil for success) as the latest outcome.
func (t *ErrorTracker) Record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.when = time.Now()
}

// Last returns when the latest outcome was recorded and the outcome.
func (t *ErrorTracker) Last() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.when, t.err
}

// Check reports degraded while the latest recorded outcome is an error.
func (t *ErrorTracker) Check(what string) Check {
	return func(ctx context.Context) CheckResult {
		when, err := t.Last()
		if err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: what + " failed",
				Error:   err.Error(),
				Details: map[string]any{"at": when},
			}
		}
		return CheckResult{Status: StatusHealthy, Message: what + " ok"}
	}
}
