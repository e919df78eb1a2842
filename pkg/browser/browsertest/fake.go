// Package browsertest provides an in-memory browser.Runtime for tests. The
// fake page is a map of queries to visibility; actions are recorded rather
// than performed.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/locator"
)

// Runtime hands out fake sessions. Prepare, when set, seeds each new session
// before it is returned.
type Runtime struct {
	Prepare func(*Session)

	mu       sync.Mutex
	configs  []browser.SessionConfig
	sessions []*Session
	closed   bool
}

// NewSession implements browser.Runtime.
func (r *Runtime) NewSession(_ context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	s := NewSession(cfg.SessionID)
	if r.Prepare != nil {
		r.Prepare(s)
	}
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return s, nil
}

// Close implements browser.Runtime.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Configs returns the session configs seen so far.
func (r *Runtime) Configs() []browser.SessionConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]browser.SessionConfig(nil), r.configs...)
}

// Sessions returns every session created so far.
func (r *Runtime) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session(nil), r.sessions...)
}

// Session is a scripted browser.Session.
type Session struct {
	mu sync.Mutex

	id        string
	url       string
	title     string
	listeners []browser.EventListener
	closed    bool

	// Page state keyed by compiled query.
	Visible map[string]bool
	Present map[string]bool
	Texts   map[string]string

	// Failure injection keyed by action name ("click", "fill", "navigate", ...).
	FailActions map[string]error
	// ScreenshotErr makes Screenshot fail when set.
	ScreenshotErr error
	// BeforeAction, when set, runs before every input action. Tests use it to
	// block a step while cancellation is requested.
	BeforeAction func(action string)

	// Video is returned by VideoPath when non-empty.
	Video string

	// Actions records every performed action as "name:query".
	Actions []string
}

// NewSession creates an empty fake session.
func NewSession(id string) *Session {
	return &Session{
		id:      id,
		url:     "about:blank",
		Visible: make(map[string]bool),
		Present: make(map[string]bool),
		Texts:   make(map[string]string),
	}
}

// ShowElement marks a query as attached and visible.
func (s *Session) ShowElement(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Present[query] = true
	s.Visible[query] = true
}

// AttachHidden marks a query as attached but not visible.
func (s *Session) AttachHidden(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Present[query] = true
	s.Visible[query] = false
}

// SetTitle sets the page title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
}

func (s *Session) ID() string { return s.id }

func (s *Session) act(name, query string) error {
	s.mu.Lock()
	before := s.BeforeAction
	s.mu.Unlock()
	if before != nil {
		before(name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Actions = append(s.Actions, name+":"+query)
	if err := s.FailActions[name]; err != nil {
		return err
	}
	return nil
}

func (s *Session) Navigate(_ context.Context, url string) error {
	if err := s.act("navigate", url); err != nil {
		return err
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

func (s *Session) Reload(context.Context) error { return s.act("refresh", "") }
func (s *Session) Back(context.Context) error   { return s.act("go_back", "") }

func (s *Session) Click(_ context.Context, sel locator.Selector) error {
	return s.act("click", sel.Query)
}

func (s *Session) DoubleClick(_ context.Context, sel locator.Selector) error {
	return s.act("double_click", sel.Query)
}

func (s *Session) Hover(_ context.Context, sel locator.Selector) error {
	return s.act("hover", sel.Query)
}

func (s *Session) Fill(_ context.Context, sel locator.Selector, value string) error {
	return s.act("fill", sel.Query+"="+value)
}

func (s *Session) SelectOption(_ context.Context, sel locator.Selector, value string) error {
	return s.act("select", sel.Query+"="+value)
}

func (s *Session) Clear(_ context.Context, sel locator.Selector) error {
	return s.act("clear", sel.Query)
}

func (s *Session) Press(_ context.Context, key string) error {
	return s.act("press", key)
}

func (s *Session) WaitVisible(ctx context.Context, sel locator.Selector, timeout time.Duration) error {
	s.mu.Lock()
	visible := s.Visible[sel.Query]
	s.mu.Unlock()
	if visible {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for %s", sel.Query)
	}
}

func (s *Session) Exists(_ context.Context, sel locator.Selector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Present[sel.Query], nil
}

func (s *Session) IsVisible(_ context.Context, sel locator.Selector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Visible[sel.Query], nil
}

func (s *Session) Text(_ context.Context, sel locator.Selector) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Texts[sel.Query], nil
}

func (s *Session) URL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *Session) Title(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title, nil
}

func (s *Session) Screenshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	return []byte("fake-png"), nil
}

func (s *Session) VideoPath() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Video, s.Video != ""
}

func (s *Session) Subscribe(l browser.EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) snapshotListeners() []browser.EventListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.EventListener(nil), s.listeners...)
}

// EmitConsole delivers a console event to all listeners.
func (s *Session) EmitConsole(ev browser.ConsoleEvent) {
	for _, l := range s.snapshotListeners() {
		l.OnConsole(ev)
	}
}

// EmitRequest delivers a request event to all listeners.
func (s *Session) EmitRequest(ev browser.RequestEvent) {
	for _, l := range s.snapshotListeners() {
		l.OnRequest(ev)
	}
}

// EmitResponse delivers a response event to all listeners.
func (s *Session) EmitResponse(ev browser.ResponseEvent) {
	for _, l := range s.snapshotListeners() {
		l.OnResponse(ev)
	}
}

// EmitRequestFailed delivers a request-failure event to all listeners.
func (s *Session) EmitRequestFailed(ev browser.RequestFailedEvent) {
	for _, l := range s.snapshotListeners() {
		l.OnRequestFailed(ev)
	}
}
