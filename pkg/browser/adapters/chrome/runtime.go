package chrome

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/odvcencio/testpilot/pkg/browser"
)

// Runtime implements browser.Runtime. Each session gets its own browser
// process via a dedicated exec allocator, so runs cannot leak state into each
// other through profiles or cookies.
type Runtime struct {
	cfg Config

	mu     sync.Mutex
	closed bool
}

var _ browser.Runtime = (*Runtime)(nil)

func NewRuntime(cfg Config) *Runtime {
	return &Runtime{cfg: cfg.withDefaults()}
}

func (r *Runtime) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, browser.ErrUnavailable
	}
	r.mu.Unlock()

	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = browser.DefaultSessionConfig().Viewport
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}

	var frameDir string
	if cfg.RecordVideo {
		if cfg.ArtifactDir == "" {
			return nil, fmt.Errorf("video recording requires an artifact directory")
		}
		frameDir = filepath.Join(cfg.ArtifactDir, cfg.SessionID)
		if err := os.MkdirAll(frameDir, 0o755); err != nil {
			return nil, fmt.Errorf("create video directory: %w", err)
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &session{
		id:          cfg.SessionID,
		cfg:         r.cfg,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		frameDir:    frameDir,
		recordVideo: cfg.RecordVideo,
	}

	// Starting the browser up front surfaces launch failures here instead of
	// on the first action.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s.listen()

	return s, nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
