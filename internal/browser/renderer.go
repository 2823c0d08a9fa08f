// Package browser implements the last-resort escalation: rendering a page
// in a real browser engine to defeat script-gated block pages that a raw
// HTTP fetch cannot pass.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/mazen160/go-random"
	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/fetch"
	"github.com/soccerdata/tmfetch/internal/identity"
	"github.com/soccerdata/tmfetch/internal/pacing"
)

// Config controls the renderer.
type Config struct {
	Headless bool
	// BehavioralSimulation adds scrolling between navigation and capture.
	BehavioralSimulation bool
	// DefaultTimeout applies when Render is called with a zero timeout.
	DefaultTimeout time.Duration
}

// Renderer renders pages with headless Chrome. Every Render call runs in a
// freshly launched browser so no cookies, cache or fingerprint state leaks
// between targets; teardown happens on every exit path.
type Renderer struct {
	cfg        Config
	identities *identity.Pool
	logger     *zap.Logger
}

// New constructs a Renderer.
func New(cfg Config, identities *identity.Pool, logger *zap.Logger) *Renderer {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, identities: identities, logger: logger}
}

type viewport struct {
	width, height int64
}

var viewports = []viewport{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
}

// Render navigates to target, waits for the document to settle within
// timeout, and returns the fully rendered HTML. Exceeding the timeout is a
// RenderTimeoutError; no retry happens inside this component.
func (r *Renderer) Render(ctx context.Context, target string, timeout time.Duration) (fetch.Page, error) {
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := newDocumentMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	ident := r.identities.Select("")
	vp := randomViewport()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.setupAction(ident),
		chromedp.EmulateViewport(vp.width, vp.height),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	actions = append(actions, r.settleActions()...)
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fetch.Page{}, &fetch.RenderTimeoutError{URL: target, Timeout: timeout}
		}
		return fetch.Page{}, fmt.Errorf("browser render: %w", err)
	}

	status, headers, docURL := meta.snapshot(target, finalURL)
	return fetch.Page{
		URL:         docURL,
		StatusCode:  status,
		Headers:     headers,
		Body:        []byte(html),
		Duration:    time.Since(start),
		UsedBrowser: true,
	}, nil
}

func (r *Renderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	headless := "new"
	if !r.cfg.Headless {
		headless = "false"
	}
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
}

// setupAction applies the identity override and the stealth script before
// navigation.
func (r *Renderer) setupAction(ident identity.Identity) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(ident.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(ident.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(ident.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		return nil
	})
}

// settleActions waits out potential anti-bot checks after navigation.
func (r *Renderer) settleActions() []chromedp.Action {
	if !r.cfg.BehavioralSimulation {
		return []chromedp.Action{
			chromedp.Sleep(pacing.Jitter(200*time.Millisecond, 500*time.Millisecond)),
		}
	}
	return []chromedp.Action{
		chromedp.Sleep(pacing.Jitter(500*time.Millisecond, time.Second)),
		chromedp.Evaluate(`window.scrollTo(0, Math.floor(document.body.scrollHeight/2))`, nil),
		chromedp.Sleep(pacing.Jitter(200*time.Millisecond, 500*time.Millisecond)),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(pacing.Jitter(300*time.Millisecond, 600*time.Millisecond)),
	}
}

func randomViewport() viewport {
	i, err := random.IntRange(0, len(viewports))
	if err != nil {
		return viewports[0]
	}
	return viewports[i]
}
