package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout is the per-strategy visibility wait.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNoStrategies means the bundle carried nothing to resolve with.
	ErrNoStrategies = errors.New("locator bundle has no strategies")
	// ErrElementNotFound means every present strategy was attempted and none
	// located a visible element within its timeout.
	ErrElementNotFound = errors.New("ELEMENT_NOT_FOUND")
)

// Page is the subset of a browser session the resolver needs.
type Page interface {
	WaitVisible(ctx context.Context, sel Selector, timeout time.Duration) error
	Exists(ctx context.Context, sel Selector) (bool, error)
}

// Resolution is the winning strategy and its compiled query.
type Resolution struct {
	Selector Selector
	Strategy string
}

// Resolve tries each present strategy in priority order, waiting up to timeout
// for the strategy's element to become visible. A strategy that times out is
// not retried. On total failure the error names every attempted strategy.
func Resolve(ctx context.Context, page Page, bundle *Bundle, timeout time.Duration) (Resolution, error) {
	sels := bundle.Selectors()
	if len(sels) == 0 {
		return Resolution{}, ErrNoStrategies
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempted := make([]string, 0, len(sels))
	for _, sel := range sels {
		attempted = append(attempted, sel.Strategy)
		if err := page.WaitVisible(ctx, sel, timeout); err != nil {
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			continue
		}
		return Resolution{Selector: sel, Strategy: sel.Strategy}, nil
	}
	return Resolution{}, fmt.Errorf("%w: no locator strategy succeeded, tried: %s",
		ErrElementNotFound, strings.Join(attempted, ", "))
}

// FirstPresent returns the first strategy whose element is attached to the
// page, without any visibility wait. Asserting that something is hidden must
// not wait for it to become visible first. found is false when no strategy
// matched an attached element, which callers typically treat as "hidden".
func FirstPresent(ctx context.Context, page Page, bundle *Bundle) (res Resolution, found bool, err error) {
	sels := bundle.Selectors()
	if len(sels) == 0 {
		return Resolution{}, false, ErrNoStrategies
	}
	for _, sel := range sels {
		ok, err := page.Exists(ctx, sel)
		if err != nil {
			return Resolution{}, false, err
		}
		if ok {
			return Resolution{Selector: sel, Strategy: sel.Strategy}, true, nil
		}
	}
	return Resolution{Selector: sels[0], Strategy: sels[0].Strategy}, false, nil
}
