// Package chrome drives a Chromium browser over the DevTools protocol. It is
// the production adapter behind the browser.Session port.
package chrome

import "time"

// Config holds adapter-wide settings shared by every session.
type Config struct {
	// ExecPath overrides the browser binary. Empty means chromedp's lookup.
	ExecPath string

	// ActionTimeout bounds each individual page action.
	ActionTimeout time.Duration
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		ActionTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	return c
}
