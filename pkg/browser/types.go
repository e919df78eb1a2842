package browser

import "time"

// Viewport defines the page viewport size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionConfig configures a browser session.
type SessionConfig struct {
	SessionID   string   `json:"session_id"`
	Headless    bool     `json:"headless"`
	Viewport    Viewport `json:"viewport"`
	RecordVideo bool     `json:"record_video"`
	// ArtifactDir is where the session writes video frames and similar
	// artifacts. Ignored when RecordVideo is false.
	ArtifactDir string `json:"artifact_dir,omitempty"`
}

// DefaultSessionConfig returns the recommended session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Headless: true,
		Viewport: Viewport{Width: 1280, Height: 720},
	}
}

// ConsoleEvent is one console message emitted by the page.
type ConsoleEvent struct {
	Level string
	Text  string
	URL   string
	Time  time.Time
}

// RequestEvent marks a network request leaving the page.
type RequestEvent struct {
	RequestID    string
	Method       string
	URL          string
	ResourceType string
	Time         time.Time
}

// ResponseEvent marks a response arriving for an earlier request.
type ResponseEvent struct {
	RequestID     string
	URL           string
	Status        int
	StatusText    string
	ContentLength int64
	Time          time.Time
}

// RequestFailedEvent marks a request that never completed.
type RequestFailedEvent struct {
	RequestID string
	ErrorText string
	Time      time.Time
}
