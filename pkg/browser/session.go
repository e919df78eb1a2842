// Package browser defines the capability boundary to a real browser. The run
// engine consumes these interfaces; concrete drivers live under adapters/.
package browser

import (
	"context"
	"time"

	"github.com/odvcencio/testpilot/pkg/locator"
)

// Runtime creates isolated browser sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Close() error
}

// Session is the port implemented by browser adapters. One session owns one
// page; sessions are never shared between runs.
type Session interface {
	ID() string

	// Navigation
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error

	// Input
	Click(ctx context.Context, sel locator.Selector) error
	DoubleClick(ctx context.Context, sel locator.Selector) error
	Hover(ctx context.Context, sel locator.Selector) error
	Fill(ctx context.Context, sel locator.Selector, value string) error
	SelectOption(ctx context.Context, sel locator.Selector, value string) error
	Clear(ctx context.Context, sel locator.Selector) error
	Press(ctx context.Context, key string) error

	// Inspection
	WaitVisible(ctx context.Context, sel locator.Selector, timeout time.Duration) error
	Exists(ctx context.Context, sel locator.Selector) (bool, error)
	IsVisible(ctx context.Context, sel locator.Selector) (bool, error)
	Text(ctx context.Context, sel locator.Selector) (string, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// Capture
	Screenshot(ctx context.Context) ([]byte, error)
	// VideoPath returns the location of the recorded video artifact, if the
	// adapter supports recording and it was enabled for this session.
	VideoPath() (string, bool)

	// Subscribe registers a listener for page telemetry. Must be called before
	// the first navigation to observe everything.
	Subscribe(EventListener)

	Close() error
}

// EventListener receives page telemetry as it happens. Implementations must
// not block; events are delivered from the driver's event loop.
type EventListener interface {
	OnConsole(ConsoleEvent)
	OnRequest(RequestEvent)
	OnResponse(ResponseEvent)
	OnRequestFailed(RequestFailedEvent)
}
