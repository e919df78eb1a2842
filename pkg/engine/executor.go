package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/locator"
	"github.com/odvcencio/testpilot/pkg/logging"
	"github.com/odvcencio/testpilot/pkg/metrics"
	"github.com/odvcencio/testpilot/pkg/storage"
)

// StepOutcome is everything the orchestrator needs to persist for one step.
// Execute never returns an error; failures are carried in Status and Err.
type StepOutcome struct {
	Status      string
	Duration    time.Duration
	Err         string
	LocatorUsed string
	Screenshot  []byte
}

// Executor runs a single step against a browser session.
type Executor struct {
	locatorTimeout time.Duration
	log            *logging.Logger
	metrics        *metrics.Collector
}

func NewExecutor(locatorTimeout time.Duration, log *logging.Logger, m *metrics.Collector) *Executor {
	if locatorTimeout <= 0 {
		locatorTimeout = locator.DefaultTimeout
	}
	return &Executor{locatorTimeout: locatorTimeout, log: log, metrics: m}
}

// Execute performs one step. The returned outcome is FAILED on any error,
// PASSED otherwise; a screenshot is attempted either way and its absence is
// never an error on its own.
func (e *Executor) Execute(ctx context.Context, runID string, sess browser.Session, step storage.TestStep) StepOutcome {
	start := time.Now()
	out := StepOutcome{Status: storage.StepStatusPassed}

	locatorUsed, err := e.perform(ctx, runID, sess, step)
	out.LocatorUsed = locatorUsed
	out.Duration = time.Since(start)
	if err != nil {
		out.Status = storage.StepStatusFailed
		out.Err = err.Error()
		e.log.Warn(logging.CategoryStep, "step_failed", runID, err.Error(), map[string]any{
			"stepId": step.ID,
			"action": step.Action,
		})
	}

	if shot, shotErr := sess.Screenshot(ctx); shotErr == nil {
		out.Screenshot = shot
	} else {
		e.log.Debug(logging.CategoryStep, "screenshot_failed", runID, shotErr.Error(), map[string]any{
			"stepId": step.ID,
		})
	}

	e.metrics.RecordStep(strings.ToLower(step.Action), out.Status, out.Duration)
	return out
}

func (e *Executor) perform(ctx context.Context, runID string, sess browser.Session, step storage.TestStep) (string, error) {
	action := strings.ToLower(strings.TrimSpace(step.Action))
	switch action {
	case "navigate", "goto":
		if step.Value == "" {
			return "", fmt.Errorf("navigate action requires a URL value")
		}
		return "", sess.Navigate(ctx, step.Value)

	case "refresh", "reload":
		return "", sess.Reload(ctx)

	case "go_back", "back":
		return "", sess.Back(ctx)

	case "click":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", err
		}
		return res.Strategy, sess.Click(ctx, res.Selector)

	case "double_click", "dblclick":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", err
		}
		return res.Strategy, sess.DoubleClick(ctx, res.Selector)

	case "hover":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", err
		}
		return res.Strategy, sess.Hover(ctx, res.Selector)

	case "fill", "type":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", err
		}
		return res.Strategy, sess.Fill(ctx, res.Selector, step.Value)

	case "select":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", err
		}
		return res.Strategy, sess.SelectOption(ctx, res.Selector, step.Value)

	case "clear":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", err
		}
		return res.Strategy, sess.Clear(ctx, res.Selector)

	case "press":
		if step.Value == "" {
			return "", fmt.Errorf("press action requires a key value")
		}
		return "", sess.Press(ctx, step.Value)

	case "wait":
		return "", e.wait(ctx, step.Value)

	case "assert", "verify":
		return e.assert(ctx, runID, sess, step)

	default:
		return "", fmt.Errorf("unknown action type: %s", step.Action)
	}
}

func (e *Executor) resolve(ctx context.Context, runID string, sess browser.Session, step storage.TestStep) (locator.Resolution, error) {
	if step.Locators == nil || step.Locators.Empty() {
		return locator.Resolution{}, fmt.Errorf("%s action requires locators", strings.ToLower(step.Action))
	}
	res, err := locator.Resolve(ctx, sess, step.Locators, e.locatorTimeout)
	if err != nil {
		return locator.Resolution{}, err
	}
	e.metrics.RecordLocatorResolution(res.Strategy)
	e.log.Debug(logging.CategoryLocator, "locator_resolved", runID, res.Selector.Query, map[string]any{
		"strategy": res.Strategy,
	})
	return res, nil
}

// wait sleeps for the step's value in seconds. A missing or unparseable value
// means one second.
func (e *Executor) wait(ctx context.Context, value string) error {
	seconds := 1.0
	if value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			seconds = parsed
		}
	}
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// assertionKinds are the keyword fallbacks when the recorded step carries no
// explicit assertion type, checked in order against the lowercased
// description. Each kind matches both its spaced and underscore spellings.
var assertionKinds = []struct {
	keywords []string
	kind     string
}{
	{[]string{"text equals", "text_equals"}, "text_equals"},
	{[]string{"text contains", "text_contains"}, "text_contains"},
	{[]string{"not visible", "not_visible", "hidden"}, "not_visible"},
	{[]string{"visible"}, "visible"},
	{[]string{"url contains", "url_contains"}, "url_contains"},
	{[]string{"url equals", "url_equals"}, "url_equals"},
	{[]string{"title contains", "title_contains"}, "title_contains"},
	{[]string{"title equals", "title_equals"}, "title_equals"},
}

func assertionType(step storage.TestStep) string {
	if step.Locators != nil && step.Locators.AssertionType != "" {
		return strings.ToLower(step.Locators.AssertionType)
	}
	desc := strings.ToLower(step.Description)
	for _, k := range assertionKinds {
		for _, keyword := range k.keywords {
			if strings.Contains(desc, keyword) {
				return k.kind
			}
		}
	}
	return "visible"
}

func (e *Executor) assert(ctx context.Context, runID string, sess browser.Session, step storage.TestStep) (string, error) {
	kind := assertionType(step)
	switch kind {
	case "visible":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", fmt.Errorf("expected element to be visible: %w", err)
		}
		return res.Strategy, nil

	case "not_visible", "hidden":
		if step.Locators == nil || step.Locators.Empty() {
			return "", fmt.Errorf("assert action requires locators")
		}
		res, found, err := locator.FirstPresent(ctx, sess, step.Locators)
		if err != nil {
			return "", err
		}
		if !found {
			// Detached counts as hidden.
			return res.Strategy, nil
		}
		visible, err := sess.IsVisible(ctx, res.Selector)
		if err != nil {
			return res.Strategy, err
		}
		if visible {
			return res.Strategy, fmt.Errorf("expected element to be hidden but it is visible: %s", res.Selector.Query)
		}
		return res.Strategy, nil

	case "contains_text", "text_contains":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", fmt.Errorf("expected element with text: %w", err)
		}
		text, err := sess.Text(ctx, res.Selector)
		if err != nil {
			return res.Strategy, err
		}
		if !strings.Contains(text, step.Value) {
			return res.Strategy, fmt.Errorf("expected element text to contain %q, got %q", step.Value, text)
		}
		return res.Strategy, nil

	case "text_equals":
		res, err := e.resolve(ctx, runID, sess, step)
		if err != nil {
			return "", fmt.Errorf("expected element with text: %w", err)
		}
		text, err := sess.Text(ctx, res.Selector)
		if err != nil {
			return res.Strategy, err
		}
		if text != step.Value {
			return res.Strategy, fmt.Errorf("expected element text to equal %q, got %q", step.Value, text)
		}
		return res.Strategy, nil

	case "url_contains", "url_equals":
		current, err := sess.URL(ctx)
		if err != nil {
			return "", err
		}
		return "", matchValue("URL", kind == "url_equals", current, step.Value)

	case "title_contains", "title_equals":
		current, err := sess.Title(ctx)
		if err != nil {
			return "", err
		}
		return "", matchValue("title", kind == "title_equals", current, step.Value)

	default:
		return "", fmt.Errorf("unknown assertion type: %s", kind)
	}
}

// matchValue compares a page property against the expectation. The contains
// form treats the expectation as a regular expression, falling back to a
// substring check when it does not compile.
func matchValue(what string, exact bool, current, want string) error {
	if exact {
		if current != want {
			return fmt.Errorf("expected %s to equal %q, got %q", what, want, current)
		}
		return nil
	}
	if re, err := regexp.Compile(want); err == nil {
		if re.MatchString(current) {
			return nil
		}
	} else if strings.Contains(current, want) {
		return nil
	}
	return fmt.Errorf("expected %s to contain %q, got %q", what, want, current)
}
