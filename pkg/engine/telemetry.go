package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/storage"
)

// telemetryCollector implements browser.EventListener for one run. It buffers
// everything in memory; the orchestrator persists it in bulk at finalization.
type telemetryCollector struct {
	mu sync.Mutex

	errors []storage.TestError

	// Request log, XHR/fetch only. pending maps request id to its log entry
	// until the response or failure arrives.
	requests []*storage.NetworkRequest
	pending  map[string]*pendingRequest

	// methods tracks the method of every request regardless of resource type,
	// so 4xx/5xx responses can be annotated with it.
	methods map[string]string
}

type pendingRequest struct {
	entry *storage.NetworkRequest
	start time.Time
}

func newTelemetryCollector() *telemetryCollector {
	return &telemetryCollector{
		pending: make(map[string]*pendingRequest),
		methods: make(map[string]string),
	}
}

func (c *telemetryCollector) OnConsole(ev browser.ConsoleEvent) {
	if ev.Level != "error" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, storage.TestError{
		Type:      storage.ErrorTypeConsole,
		Message:   ev.Text,
		URL:       ev.URL,
		Timestamp: ev.Time,
	})
}

func isTrackedResourceType(resourceType string) bool {
	switch strings.ToLower(resourceType) {
	case "xhr", "fetch":
		return true
	}
	return false
}

func (c *telemetryCollector) OnRequest(ev browser.RequestEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[ev.RequestID] = ev.Method
	if !isTrackedResourceType(ev.ResourceType) {
		return
	}
	entry := &storage.NetworkRequest{
		Method:       ev.Method,
		URL:          ev.URL,
		ResourceType: ev.ResourceType,
		Timestamp:    ev.Time,
	}
	c.requests = append(c.requests, entry)
	c.pending[ev.RequestID] = &pendingRequest{entry: entry, start: ev.Time}
}

func (c *telemetryCollector) OnResponse(ev browser.ResponseEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Every 4xx/5xx response is an error log entry, whatever the resource type.
	if ev.Status >= 400 {
		errorContext := fmt.Sprintf(`{"method":%q,"status":%d}`, c.methods[ev.RequestID], ev.Status)
		c.errors = append(c.errors, storage.TestError{
			Type:      storage.ErrorTypeNetwork,
			Message:   fmt.Sprintf("%d %s", ev.Status, ev.StatusText),
			URL:       ev.URL,
			Context:   errorContext,
			Timestamp: ev.Time,
		})
	}

	p, ok := c.pending[ev.RequestID]
	if !ok {
		return
	}
	delete(c.pending, ev.RequestID)
	p.entry.Status = ev.Status
	p.entry.StatusText = ev.StatusText
	p.entry.ResponseSize = ev.ContentLength
	p.entry.DurationMs = ev.Time.Sub(p.start).Milliseconds()
}

func (c *telemetryCollector) OnRequestFailed(ev browser.RequestFailedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[ev.RequestID]
	if !ok {
		return
	}
	delete(c.pending, ev.RequestID)
	p.entry.Failed = true
	p.entry.ErrorText = ev.ErrorText
	p.entry.DurationMs = ev.Time.Sub(p.start).Milliseconds()
}

// appendError records a step- or run-level error in capture order.
func (c *telemetryCollector) appendError(errType, message, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, storage.TestError{
		Type:      errType,
		Message:   message,
		URL:       url,
		Timestamp: time.Now(),
	})
}

// capturedErrors returns the errors in capture order.
func (c *telemetryCollector) capturedErrors() []storage.TestError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]storage.TestError(nil), c.errors...)
}

// capturedRequests returns the request log in capture order.
func (c *telemetryCollector) capturedRequests() []storage.NetworkRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.NetworkRequest, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, *r)
	}
	return out
}
