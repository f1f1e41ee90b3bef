package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"sarkari-pulse/logger"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// idleWindow is how long the network must stay quiet before the DOM is read
const idleWindow = 500 * time.Millisecond

// RenderOptions configures the headless browser
type RenderOptions struct {
	UserDataDir string
	Stealth     bool
	// ControlURL connects to an already running browser instead of launching one
	ControlURL string
}

// RenderFetcher fetches pages through a headless browser (rod)
type RenderFetcher struct {
	browser *rod.Browser
	stealth bool
	logger  *slog.Logger
}

// NewRenderFetcher launches (or connects to) a browser
func NewRenderFetcher(opts RenderOptions) (*RenderFetcher, error) {
	log := logger.WithComponent("render-fetcher")

	controlURL := opts.ControlURL
	if controlURL == "" {
		u, err := launchBrowser(opts.UserDataDir, log)
		if err != nil {
			return nil, err
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &RenderFetcher{
		browser: browser,
		stealth: opts.Stealth,
		logger:  log,
	}, nil
}

func launchBrowser(userDataDir string, log *slog.Logger) (string, error) {
	if userDataDir != "" {
		if err := os.MkdirAll(userDataDir, 0755); err != nil {
			log.Warn("failed to create browser data directory", "dir", userDataDir, "error", err)
			userDataDir = ""
		}
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true).
		Leakless(false).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-sync").
		Set("disable-translate").
		Set("mute-audio").
		Set("no-zygote")
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}

	for _, path := range []string{
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
	} {
		if _, err := os.Stat(path); err == nil {
			l = l.Bin(path)
			break
		}
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	log.Info("browser launched", "control_url", u)
	return u, nil
}

// Close closes the browser
func (rf *RenderFetcher) Close() error {
	if rf.browser != nil {
		return rf.browser.Close()
	}
	return nil
}

// Fetch implements the Fetcher interface
func (rf *RenderFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	full := req.FullURL()
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	page, err := rf.newPage()
	if err != nil {
		return nil, &Error{Kind: KindRender, URL: full, Err: err}
	}
	defer page.Close()

	p := page.Context(ctx)

	var waitIdle func()
	if req.WaitIdle {
		waitIdle = p.WaitRequestIdle(idleWindow, nil, nil, nil)
	}

	if err := p.Navigate(full); err != nil {
		return nil, classifyRender(ctx, full, err)
	}
	if waitIdle != nil {
		waitIdle()
	}
	if err := p.WaitLoad(); err != nil {
		rf.logger.Warn("page did not finish loading, continuing anyway", "url", full, "error", err)
	}
	if ctx.Err() != nil {
		return nil, classify(full, ctx.Err())
	}

	html, err := p.HTML()
	if err != nil {
		return nil, classifyRender(ctx, full, err)
	}

	rf.logger.Debug("page rendered", "url", full, "bytes", len(html))

	return &Payload{
		Kind:       HTML,
		URL:        full,
		StatusCode: 200,
		Body:       []byte(html),
		Cursor:     Cursor{Total: -1},
		FetchedAt:  time.Now(),
	}, nil
}

// newPage opens a tab, recovering from rod panics
func (rf *RenderFetcher) newPage() (page *rod.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while creating page: %v", r)
		}
	}()
	if rf.stealth {
		return stealth.Page(rf.browser)
	}
	return rf.browser.Page(proto.TargetCreateTarget{URL: ""})
}

func classifyRender(ctx context.Context, u string, err error) *Error {
	if ctx.Err() != nil {
		return classify(u, ctx.Err())
	}
	return &Error{Kind: KindRender, URL: u, Err: err}
}
