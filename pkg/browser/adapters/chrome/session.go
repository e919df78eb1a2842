package chrome

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/locator"
)

type session struct {
	id          string
	cfg         Config
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	recordVideo bool
	frameDir    string

	mu         sync.Mutex
	listener   browser.EventListener
	currentURL string
	frameCount int
	closed     bool
}

var _ browser.Session = (*session)(nil)

func (s *session) ID() string { return s.id }

func (s *session) Subscribe(l browser.EventListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// listen wires DevTools events to the subscribed listener and, when recording,
// starts the screencast. Registered once per session before the first action.
func (s *session) listen() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			s.onConsole(ev)
		case *network.EventRequestWillBeSent:
			s.onRequest(ev)
		case *network.EventResponseReceived:
			s.onResponse(ev)
		case *network.EventLoadingFailed:
			s.onLoadingFailed(ev)
		case *page.EventFrameNavigated:
			if ev.Frame.ParentID == "" {
				s.mu.Lock()
				s.currentURL = ev.Frame.URL
				s.mu.Unlock()
			}
		case *page.EventScreencastFrame:
			s.onScreencastFrame(ev)
		}
	})

	_ = chromedp.Run(s.ctx, network.Enable())
	if s.recordVideo {
		_ = chromedp.Run(s.ctx, page.StartScreencast().
			WithFormat(page.ScreencastFormatPng).
			WithEveryNthFrame(2))
	}
}

func (s *session) subscriber() browser.EventListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

func (s *session) onConsole(ev *cdpruntime.EventConsoleAPICalled) {
	l := s.subscriber()
	if l == nil {
		return
	}
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		if len(arg.Value) > 0 {
			var v interface{}
			if err := json.Unmarshal(arg.Value, &v); err == nil {
				parts = append(parts, fmt.Sprint(v))
				continue
			}
			parts = append(parts, string(arg.Value))
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	s.mu.Lock()
	url := s.currentURL
	s.mu.Unlock()
	l.OnConsole(browser.ConsoleEvent{
		Level: string(ev.Type),
		Text:  strings.Join(parts, " "),
		URL:   url,
		Time:  time.Now(),
	})
}

func (s *session) onRequest(ev *network.EventRequestWillBeSent) {
	l := s.subscriber()
	if l == nil {
		return
	}
	l.OnRequest(browser.RequestEvent{
		RequestID:    string(ev.RequestID),
		Method:       ev.Request.Method,
		URL:          ev.Request.URL,
		ResourceType: string(ev.Type),
		Time:         time.Now(),
	})
}

func (s *session) onResponse(ev *network.EventResponseReceived) {
	l := s.subscriber()
	if l == nil {
		return
	}
	var contentLength int64
	if v, ok := ev.Response.Headers["Content-Length"]; ok {
		if str, ok := v.(string); ok {
			contentLength, _ = strconv.ParseInt(str, 10, 64)
		}
	}
	if contentLength == 0 && ev.Response.EncodedDataLength > 0 {
		contentLength = int64(ev.Response.EncodedDataLength)
	}
	l.OnResponse(browser.ResponseEvent{
		RequestID:     string(ev.RequestID),
		URL:           ev.Response.URL,
		Status:        int(ev.Response.Status),
		StatusText:    ev.Response.StatusText,
		ContentLength: contentLength,
		Time:          time.Now(),
	})
}

func (s *session) onLoadingFailed(ev *network.EventLoadingFailed) {
	l := s.subscriber()
	if l == nil {
		return
	}
	l.OnRequestFailed(browser.RequestFailedEvent{
		RequestID: string(ev.RequestID),
		ErrorText: ev.ErrorText,
		Time:      time.Now(),
	})
}

func (s *session) onScreencastFrame(ev *page.EventScreencastFrame) {
	data, err := base64.StdEncoding.DecodeString(ev.Data)
	if err == nil {
		s.mu.Lock()
		n := s.frameCount
		s.frameCount++
		s.mu.Unlock()
		name := filepath.Join(s.frameDir, fmt.Sprintf("frame-%06d.png", n))
		_ = os.WriteFile(name, data, 0o644)
	}
	go func() {
		_ = chromedp.Run(s.ctx, page.ScreencastFrameAck(ev.SessionID))
	}()
}

// run executes chromedp actions bounded by the adapter's action timeout.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return browser.ErrSessionClosed
	}
	runCtx, cancel := mergeDeadline(s.ctx, ctx, s.cfg.ActionTimeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// mergeDeadline bounds the session context with the action timeout and stops
// early if the caller's context is done first.
func mergeDeadline(sessCtx, callCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(sessCtx, timeout)
	stop := context.AfterFunc(callCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func queryOption(sel locator.Selector) chromedp.QueryOption {
	if sel.Kind == locator.KindXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *session) Reload(ctx context.Context) error {
	return s.run(ctx, chromedp.Reload())
}

func (s *session) Back(ctx context.Context) error {
	return s.run(ctx, chromedp.NavigateBack())
}

func (s *session) Click(ctx context.Context, sel locator.Selector) error {
	return s.run(ctx, chromedp.Click(sel.Query, queryOption(sel)))
}

func (s *session) DoubleClick(ctx context.Context, sel locator.Selector) error {
	return s.run(ctx, chromedp.DoubleClick(sel.Query, queryOption(sel)))
}

func (s *session) Hover(ctx context.Context, sel locator.Selector) error {
	expr := elementExpr(sel, `
		el.scrollIntoView({block: "center"});
		const rect = el.getBoundingClientRect();
		el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true, clientX: rect.x + rect.width / 2, clientY: rect.y + rect.height / 2}));
		el.dispatchEvent(new MouseEvent("mouseenter", {clientX: rect.x + rect.width / 2, clientY: rect.y + rect.height / 2}));
		return true;`)
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hover: element not found: %s", sel.Query)
	}
	return nil
}

func (s *session) Fill(ctx context.Context, sel locator.Selector, value string) error {
	return s.run(ctx,
		chromedp.Clear(sel.Query, queryOption(sel)),
		chromedp.SendKeys(sel.Query, value, queryOption(sel)),
	)
}

func (s *session) SelectOption(ctx context.Context, sel locator.Selector, value string) error {
	return s.run(ctx, chromedp.SetValue(sel.Query, value, queryOption(sel)))
}

func (s *session) Clear(ctx context.Context, sel locator.Selector) error {
	return s.run(ctx, chromedp.Clear(sel.Query, queryOption(sel)))
}

func (s *session) Press(ctx context.Context, key string) error {
	return s.run(ctx, chromedp.KeyEvent(namedKey(key)))
}

func (s *session) WaitVisible(ctx context.Context, sel locator.Selector, timeout time.Duration) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return browser.ErrSessionClosed
	}
	runCtx, cancel := mergeDeadline(s.ctx, ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(sel.Query, queryOption(sel))); err != nil {
		return fmt.Errorf("timeout waiting for %s: %w", sel.Query, err)
	}
	return nil
}

func (s *session) Exists(ctx context.Context, sel locator.Selector) (bool, error) {
	expr := elementExpr(sel, `return true;`)
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *session) IsVisible(ctx context.Context, sel locator.Selector) (bool, error) {
	expr := elementExpr(sel, `
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;`)
	var visible bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (s *session) Text(ctx context.Context, sel locator.Selector) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Text(sel.Query, &out, queryOption(sel))); err != nil {
		return "", err
	}
	return out, nil
}

func (s *session) URL(ctx context.Context) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Location(&out)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *session) Title(ctx context.Context) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Title(&out)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *session) VideoPath() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recordVideo || s.frameCount == 0 {
		return "", false
	}
	return s.frameDir, true
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.recordVideo {
		stopCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
		_ = chromedp.Run(stopCtx, page.StopScreencast())
		cancel()
	}
	s.cancel()
	s.allocCancel()
	return nil
}

// elementExpr builds an IIFE that locates the selector's element and runs body
// with it bound to el, returning false when nothing matches.
func elementExpr(sel locator.Selector, body string) string {
	finder := `document.querySelector(` + jsString(sel.Query) + `)`
	if sel.Kind == locator.KindXPath {
		finder = `document.evaluate(` + jsString(sel.Query) + `, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`
	}
	return `(() => {
		const el = ` + finder + `;
		if (!el) return false;
		` + body + `
	})()`
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// namedKey maps the recorded key names onto the DevTools key runes; plain
// characters pass through unchanged.
func namedKey(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "delete", "del":
		return kb.Delete
	case "arrowup", "up":
		return kb.ArrowUp
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowleft", "left":
		return kb.ArrowLeft
	case "arrowright", "right":
		return kb.ArrowRight
	case "home":
		return kb.Home
	case "end":
		return kb.End
	case "pageup":
		return kb.PageUp
	case "pagedown":
		return kb.PageDown
	case "space":
		return " "
	}
	return key
}
