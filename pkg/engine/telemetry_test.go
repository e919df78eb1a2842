package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/storage"
)

func TestTelemetryConsoleErrorsOnly(t *testing.T) {
	c := newTelemetryCollector()
	now := time.Now()
	c.OnConsole(browser.ConsoleEvent{Level: "log", Text: "booted", Time: now})
	c.OnConsole(browser.ConsoleEvent{Level: "warning", Text: "deprecated", Time: now})
	c.OnConsole(browser.ConsoleEvent{Level: "error", Text: "TypeError: x is undefined", URL: "https://app.test/cart", Time: now})

	errs := c.capturedErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, storage.ErrorTypeConsole, errs[0].Type)
	assert.Equal(t, "TypeError: x is undefined", errs[0].Message)
	assert.Equal(t, "https://app.test/cart", errs[0].URL)
}

func TestTelemetryTracksOnlyXHRAndFetch(t *testing.T) {
	c := newTelemetryCollector()
	now := time.Now()
	c.OnRequest(browser.RequestEvent{RequestID: "1", Method: "GET", URL: "https://app.test/app.js", ResourceType: "Script", Time: now})
	c.OnRequest(browser.RequestEvent{RequestID: "2", Method: "GET", URL: "https://app.test/api/cart", ResourceType: "XHR", Time: now})
	c.OnRequest(browser.RequestEvent{RequestID: "3", Method: "POST", URL: "https://app.test/api/order", ResourceType: "Fetch", Time: now})

	reqs := c.capturedRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "https://app.test/api/cart", reqs[0].URL)
	assert.Equal(t, "https://app.test/api/order", reqs[1].URL)
}

func TestTelemetryCorrelatesResponse(t *testing.T) {
	c := newTelemetryCollector()
	start := time.Now()
	c.OnRequest(browser.RequestEvent{RequestID: "7", Method: "GET", URL: "https://app.test/api/me", ResourceType: "fetch", Time: start})
	c.OnResponse(browser.ResponseEvent{RequestID: "7", URL: "https://app.test/api/me", Status: 200, StatusText: "OK", ContentLength: 512, Time: start.Add(80 * time.Millisecond)})

	reqs := c.capturedRequests()
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, 200, r.Status)
	assert.Equal(t, "OK", r.StatusText)
	assert.Equal(t, int64(512), r.ResponseSize)
	assert.Equal(t, int64(80), r.DurationMs)
	assert.False(t, r.Failed)
}

func TestTelemetryHTTPErrorResponse(t *testing.T) {
	c := newTelemetryCollector()
	now := time.Now()
	// The failing request is a plain document load, outside the request log,
	// but it still lands in the error log with its method attached.
	c.OnRequest(browser.RequestEvent{RequestID: "9", Method: "POST", URL: "https://app.test/login", ResourceType: "Document", Time: now})
	c.OnResponse(browser.ResponseEvent{RequestID: "9", URL: "https://app.test/login", Status: 502, StatusText: "Bad Gateway", Time: now})

	errs := c.capturedErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, storage.ErrorTypeNetwork, errs[0].Type)
	assert.Equal(t, "502 Bad Gateway", errs[0].Message)
	assert.Equal(t, `{"method":"POST","status":502}`, errs[0].Context)

	assert.Empty(t, c.capturedRequests(), "document request must stay out of the request log")
}

func TestTelemetryRequestFailure(t *testing.T) {
	c := newTelemetryCollector()
	start := time.Now()
	c.OnRequest(browser.RequestEvent{RequestID: "4", Method: "GET", URL: "https://app.test/api/slow", ResourceType: "xhr", Time: start})
	c.OnRequestFailed(browser.RequestFailedEvent{RequestID: "4", ErrorText: "net::ERR_CONNECTION_RESET", Time: start.Add(30 * time.Millisecond)})

	reqs := c.capturedRequests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Failed)
	assert.Equal(t, "net::ERR_CONNECTION_RESET", reqs[0].ErrorText)
	assert.Equal(t, int64(30), reqs[0].DurationMs)
}

func TestTelemetryLateResponseIgnored(t *testing.T) {
	c := newTelemetryCollector()
	c.OnResponse(browser.ResponseEvent{RequestID: "ghost", URL: "https://app.test/api/x", Status: 200, Time: time.Now()})
	c.OnRequestFailed(browser.RequestFailedEvent{RequestID: "ghost", Time: time.Now()})

	assert.Empty(t, c.capturedRequests())
	assert.Empty(t, c.capturedErrors())
}
