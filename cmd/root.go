// Package cmd wires the tmfetch CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/browser"
	"github.com/soccerdata/tmfetch/internal/config"
	"github.com/soccerdata/tmfetch/internal/fetch"
	"github.com/soccerdata/tmfetch/internal/identity"
	"github.com/soccerdata/tmfetch/internal/logging"
	"github.com/soccerdata/tmfetch/internal/monitor"
	"github.com/soccerdata/tmfetch/internal/pacing"
	"github.com/soccerdata/tmfetch/internal/session"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tmfetch",
		Short: "Resilient page fetcher for bot-hostile sites.",
		Long: `tmfetch fetches pages from sites that actively resist automated access.
It rotates browser identities across a capped session pool, classifies every
response, retries with exponential backoff, and escalates to a real browser
render when repeated blocks exhaust the retry budget.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file (environment variables take precedence)")
	return cmd
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.AddCommand(newFetchCmd(), newServeCmd(), newStatsCmd())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stack is the assembled resilience layer shared by the subcommands.
type stack struct {
	cfg      config.Config
	logger   *zap.Logger
	mon      *monitor.Monitor
	sessions *session.Manager
	client   *fetch.Client
}

func buildStack() (*stack, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	mon := monitor.New(true)
	identities := identity.NewPool(identity.Options{
		Referer:          "https://www.transfermarkt.com/",
		ProxyURLs:        cfg.Proxy.AllProxyURLs(),
		DisableThreshold: cfg.Proxy.DisableThreshold,
		Cooldown:         cfg.Proxy.Cooldown,
	})
	pacer := pacing.New(cfg.Session.DelayMin, cfg.Session.DelayMax, cfg.Session.GlobalRPS)
	sessions := session.NewManager(session.Config{
		SessionTimeout: cfg.Session.Timeout,
		MaxSessions:    cfg.Session.MaxSessions,
		MaxConcurrent:  cfg.Session.MaxConcurrentRequests,
		AcquireTimeout: cfg.Session.AcquireTimeout,
		RequestTimeout: cfg.Retry.RequestTimeout,
	}, identities, pacer, mon, logger)

	classifier := fetch.NewClassifier(fetch.ClassifierOptions{
		MinHTMLBytes:      cfg.Detect.MinHTMLBytes,
		BrandToken:        cfg.Detect.BrandToken,
		BlockSignatures:   cfg.Detect.BlockSignatures,
		CaptchaSignatures: cfg.Detect.CaptchaSignatures,
		MarkerSelectors:   cfg.Detect.MarkerSelectors,
	})
	retry := fetch.NewRetryManager(classifier, sessions, mon, fetch.RetryConfig{
		MaxRetries:   cfg.Retry.MaxAttempts,
		BaseDelay:    cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		JitterFactor: 0.1,
	}, logger)

	var renderer fetch.Renderer
	if cfg.Browser.Enabled {
		renderer = browser.New(browser.Config{
			Headless:             cfg.Browser.Headless,
			BehavioralSimulation: cfg.Browser.BehavioralSimulation,
			DefaultTimeout:       cfg.Browser.Timeout,
		}, identities, logger)
	}

	client := fetch.NewClient(sessions, retry, renderer, mon, fetch.ClientConfig{
		BrowserEnabled:   cfg.Browser.Enabled,
		BrowserTimeout:   cfg.Browser.Timeout,
		OperationTimeout: cfg.Retry.OperationTimeout,
	}, logger)

	return &stack{
		cfg:      cfg,
		logger:   logger,
		mon:      mon,
		sessions: sessions,
		client:   client,
	}, nil
}
