package fetch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/monitor"
)

// ClientConfig controls the fetch facade.
type ClientConfig struct {
	// BrowserEnabled turns on escalation to the renderer after a
	// blocked-exhausted retry loop.
	BrowserEnabled bool
	// BrowserTimeout is the render ceiling passed to the renderer.
	BrowserTimeout time.Duration
	// OperationTimeout caps one whole Fetch call across all retries.
	// Zero means the caller's context is the only ceiling.
	OperationTimeout time.Duration
}

// Client is the caller-facing surface of the resilience layer: it acquires a
// session, runs the retry loop through it, escalates to the browser fallback
// when blocked attempts exhaust the budget, and always releases the session.
type Client struct {
	pool     SessionPool
	retry    *RetryManager
	renderer Renderer
	mon      *monitor.Monitor
	cfg      ClientConfig
	logger   *zap.Logger
}

// NewClient constructs a Client. renderer may be nil when browser fallback
// is disabled.
func NewClient(
	pool SessionPool,
	retry *RetryManager,
	renderer Renderer,
	mon *monitor.Monitor,
	cfg ClientConfig,
	logger *zap.Logger,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		pool:     pool,
		retry:    retry,
		renderer: renderer,
		mon:      mon,
		cfg:      cfg,
		logger:   logger,
	}
}

// Fetch retrieves target and returns the raw content or a typed failure
// from the error taxonomy.
func (c *Client) Fetch(ctx context.Context, target string) (Page, error) {
	if c.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer cancel()
	}

	handle, err := c.pool.Acquire(ctx)
	if err != nil {
		return Page{}, err
	}
	current := handle
	defer func() { c.pool.Release(current) }()

	page, final, err := c.retry.Execute(ctx, target, handle, sessionFetch)
	current = final
	if err == nil {
		return page, nil
	}

	if c.shouldEscalate(err) {
		return c.renderFallback(ctx, target, err)
	}
	return Page{}, err
}

func (c *Client) shouldEscalate(err error) bool {
	if !c.cfg.BrowserEnabled || c.renderer == nil {
		return false
	}
	var exhausted *RetriesExhaustedError
	return errors.As(err, &exhausted) && exhausted.Class == ClassBlocked
}

// renderFallback is the last-resort escalation: one isolated browser render,
// no retries around it.
func (c *Client) renderFallback(ctx context.Context, target string, httpErr error) (Page, error) {
	c.logger.Info("escalating to browser fallback",
		zap.String("url", target),
		zap.Error(httpErr),
	)
	page, err := c.renderer.Render(ctx, target, c.cfg.BrowserTimeout)
	if err != nil {
		c.mon.RecordBrowserRequest(false)
		c.logger.Warn("browser fallback failed",
			zap.String("url", target),
			zap.Error(err),
		)
		return Page{}, err
	}
	c.mon.RecordBrowserRequest(true)
	page.UsedBrowser = true
	return page, nil
}

func sessionFetch(ctx context.Context, handle SessionHandle, target string) (Page, error) {
	return handle.Do(ctx, target)
}
