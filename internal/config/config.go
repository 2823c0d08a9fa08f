// Package config loads and validates fetcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Session SessionConfig
	Retry   RetryConfig
	Browser BrowserConfig
	Proxy   ProxyConfig
	Detect  DetectConfig
	Server  ServerConfig
	Logging LoggingConfig
}

// SessionConfig governs the session pool and request pacing.
type SessionConfig struct {
	Timeout               time.Duration
	MaxSessions           int
	MaxConcurrentRequests int
	DelayMin              time.Duration
	DelayMax              time.Duration
	AcquireTimeout        time.Duration
	GlobalRPS             float64
}

// RetryConfig controls the attempt loop.
type RetryConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	OperationTimeout time.Duration
	RequestTimeout   time.Duration
}

// BrowserConfig configures the headless rendering fallback.
type BrowserConfig struct {
	Enabled              bool
	Timeout              time.Duration
	Headless             bool
	BehavioralSimulation bool
}

// ProxyConfig holds either a single credentialed endpoint or a list of
// discrete proxy URLs, plus health scoring knobs.
type ProxyConfig struct {
	Host             string
	Port             string
	Username         string
	Password         string
	URLs             []string
	DisableThreshold int
	Cooldown         time.Duration
}

// DetectConfig is the site-dependent block heuristic data. It is
// configuration, not logic: signature and selector lists can be swapped per
// deployment without touching the classifier.
type DetectConfig struct {
	BlockSignatures   []string
	CaptchaSignatures []string
	MarkerSelectors   []string
	MinHTMLBytes      int
	BrandToken        string
}

// ServerConfig controls the observability HTTP server.
type ServerConfig struct {
	Port int
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool
	Level       string
}

const maxProxyURLEntries = 10

// Load builds a Config from the environment and an optional config file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Session: SessionConfig{
			Timeout:               time.Duration(v.GetInt("SESSION_TIMEOUT")) * time.Second,
			MaxSessions:           v.GetInt("MAX_SESSIONS"),
			MaxConcurrentRequests: v.GetInt("MAX_CONCURRENT_REQUESTS"),
			DelayMin:              secondsFloat(v.GetFloat64("REQUEST_DELAY_MIN")),
			DelayMax:              secondsFloat(v.GetFloat64("REQUEST_DELAY_MAX")),
			AcquireTimeout:        time.Duration(v.GetInt("ACQUIRE_TIMEOUT")) * time.Second,
			GlobalRPS:             v.GetFloat64("GLOBAL_RPS"),
		},
		Retry: RetryConfig{
			MaxAttempts:      v.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseDelay:        time.Duration(v.GetInt("RETRY_BASE_DELAY_MS")) * time.Millisecond,
			MaxDelay:         time.Duration(v.GetInt("RETRY_MAX_DELAY_MS")) * time.Millisecond,
			OperationTimeout: time.Duration(v.GetInt("OPERATION_TIMEOUT")) * time.Second,
			RequestTimeout:   time.Duration(v.GetInt("REQUEST_TIMEOUT")) * time.Second,
		},
		Browser: BrowserConfig{
			Enabled:              v.GetBool("ENABLE_BROWSER_SCRAPING"),
			Timeout:              time.Duration(v.GetInt("BROWSER_TIMEOUT")) * time.Millisecond,
			Headless:             v.GetBool("BROWSER_HEADLESS"),
			BehavioralSimulation: v.GetBool("ENABLE_BEHAVIORAL_SIMULATION"),
		},
		Proxy: ProxyConfig{
			Host:             v.GetString("PROXY_HOST"),
			Port:             v.GetString("PROXY_PORT"),
			Username:         v.GetString("PROXY_USERNAME"),
			Password:         v.GetString("PROXY_PASSWORD"),
			URLs:             proxyURLs(v),
			DisableThreshold: v.GetInt("PROXY_DISABLE_THRESHOLD"),
			Cooldown:         time.Duration(v.GetInt("PROXY_COOLDOWN_SECONDS")) * time.Second,
		},
		Detect: DetectConfig{
			BlockSignatures:   splitList(v.GetString("BLOCK_SIGNATURES")),
			CaptchaSignatures: splitList(v.GetString("CAPTCHA_SIGNATURES")),
			MarkerSelectors:   splitList(v.GetString("MARKER_SELECTORS")),
			MinHTMLBytes:      v.GetInt("MIN_HTML_BYTES"),
			BrandToken:        v.GetString("BRAND_TOKEN"),
		},
		Server: ServerConfig{
			Port: v.GetInt("STATS_PORT"),
		},
		Logging: LoggingConfig{
			Development: v.GetBool("LOG_DEVELOPMENT"),
			Level:       v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SESSION_TIMEOUT", 3600)
	v.SetDefault("MAX_SESSIONS", 50)
	v.SetDefault("MAX_CONCURRENT_REQUESTS", 10)
	v.SetDefault("REQUEST_DELAY_MIN", 1.0)
	v.SetDefault("REQUEST_DELAY_MAX", 3.0)
	v.SetDefault("ACQUIRE_TIMEOUT", 30)
	v.SetDefault("GLOBAL_RPS", 0.0)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY_MS", 1000)
	v.SetDefault("RETRY_MAX_DELAY_MS", 8000)
	v.SetDefault("OPERATION_TIMEOUT", 120)
	v.SetDefault("REQUEST_TIMEOUT", 30)
	v.SetDefault("ENABLE_BROWSER_SCRAPING", true)
	v.SetDefault("BROWSER_TIMEOUT", 30000)
	v.SetDefault("BROWSER_HEADLESS", true)
	v.SetDefault("ENABLE_BEHAVIORAL_SIMULATION", false)
	v.SetDefault("PROXY_DISABLE_THRESHOLD", 5)
	v.SetDefault("PROXY_COOLDOWN_SECONDS", 300)
	v.SetDefault("BLOCK_SIGNATURES", strings.Join([]string{
		"access denied",
		"you have been blocked",
		"your access has been blocked",
		"rate limit exceeded",
		"too many requests",
	}, ","))
	v.SetDefault("CAPTCHA_SIGNATURES", "recaptcha,hcaptcha")
	v.SetDefault("MARKER_SELECTORS", "")
	v.SetDefault("MIN_HTML_BYTES", 1000)
	v.SetDefault("BRAND_TOKEN", "transfermarkt")
	v.SetDefault("STATS_PORT", 8080)
	v.SetDefault("LOG_DEVELOPMENT", true)
	v.SetDefault("LOG_LEVEL", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0")
	}
	if c.Session.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be > 0")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be > 0")
	}
	if c.Session.DelayMax < c.Session.DelayMin {
		return fmt.Errorf("REQUEST_DELAY_MAX must be >= REQUEST_DELAY_MIN")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY_MS must be >= RETRY_BASE_DELAY_MS")
	}
	if c.Browser.Enabled && c.Browser.Timeout <= 0 {
		return fmt.Errorf("BROWSER_TIMEOUT must be > 0 when browser scraping is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("STATS_PORT must be > 0")
	}
	if (c.Proxy.Host == "") != (c.Proxy.Port == "") {
		return fmt.Errorf("PROXY_HOST and PROXY_PORT must be set together")
	}
	return nil
}

// SingleProxyURL assembles the credentialed proxy endpoint, if configured.
func (c ProxyConfig) SingleProxyURL() string {
	if c.Host == "" || c.Port == "" {
		return ""
	}
	if c.Username != "" && c.Password != "" {
		return fmt.Sprintf("http://%s:%s@%s:%s", c.Username, c.Password, c.Host, c.Port)
	}
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// AllProxyURLs returns every configured proxy endpoint.
func (c ProxyConfig) AllProxyURLs() []string {
	var urls []string
	if single := c.SingleProxyURL(); single != "" {
		urls = append(urls, single)
	}
	urls = append(urls, c.URLs...)
	return urls
}

func proxyURLs(v *viper.Viper) []string {
	var urls []string
	for i := 1; i <= maxProxyURLEntries; i++ {
		if u := v.GetString(fmt.Sprintf("PROXY_URL_%d", i)); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func secondsFloat(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
