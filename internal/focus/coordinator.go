// Package focus restores the user's tab focus around agent turns.
// Turns may open or activate tabs as a side effect of tool use; the
// coordinator snaps focus back to wherever the user actually was.
// Everything here is advisory: a missing tab or a failed activation is
// logged and otherwise ignored.
package focus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TabID identifies a tab in the host environment.
type TabID int

// TabHost is the host environment surface the coordinator drives.
type TabHost interface {
	// ActivateTab brings a tab to the foreground.
	ActivateTab(ctx context.Context, id TabID) error
	// ActiveTab reports the currently focused tab, if any.
	ActiveTab(ctx context.Context) (TabID, bool)
}

// NopHost is a TabHost for environments without tab control.
type NopHost struct{}

func (NopHost) ActivateTab(context.Context, TabID) error { return nil }
func (NopHost) ActiveTab(context.Context) (TabID, bool)  { return 0, false }

// startDelay compensates for tabs a turn may create or activate
// shortly after it begins.
const startDelay = 500 * time.Millisecond

// Coordinator tracks the most recently user-activated tab and
// re-activates it around turn boundaries.
type Coordinator struct {
	host   TabHost
	logger *slog.Logger

	// after schedules a delayed call; replaced in tests.
	after func(d time.Duration, f func())

	mu      sync.Mutex
	last    TabID
	hasLast bool
}

// NewCoordinator creates a Coordinator over the given host.
func NewCoordinator(host TabHost, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		host:   host,
		logger: logger,
		after:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// TabActivated records a user tab activation signal.
func (c *Coordinator) TabActivated(id TabID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = id
	c.hasLast = true
}

// WindowFocused records a window focus change by asking the host which
// tab is now active.
func (c *Coordinator) WindowFocused(ctx context.Context) {
	id, ok := c.host.ActiveTab(ctx)
	if !ok {
		return
	}
	c.TabActivated(id)
}

// TurnStartedFrom marks a turn start originating from a specific tab:
// that tab becomes the focus-restore target before the delayed refocus.
func (c *Coordinator) TurnStartedFrom(id TabID) {
	c.TabActivated(id)
	c.TurnStarted()
}

// TurnStarted schedules a refocus shortly after the turn begins.
func (c *Coordinator) TurnStarted() {
	c.after(startDelay, func() { c.refocus(context.Background()) })
}

// TurnEnded refocuses immediately.
func (c *Coordinator) TurnEnded() {
	c.refocus(context.Background())
}

func (c *Coordinator) refocus(ctx context.Context) {
	c.mu.Lock()
	id, ok := c.last, c.hasLast
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.host.ActivateTab(ctx, id); err != nil {
		c.logger.Debug("tab refocus failed", "tab", id, "error", err)
	}
}
