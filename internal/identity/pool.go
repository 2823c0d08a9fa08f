// Package identity holds rotating browser fingerprints and proxy endpoints.
// It is pure bookkeeping: selection policy and health scoring, no network I/O.
package identity

import (
	"net/http"
	"strings"
	"time"

	"github.com/mazen160/go-random"
)

// Identity is an immutable user-agent plus header template presented to the
// remote server. The header set is randomized at selection time so two
// hand-outs of the same user-agent still differ slightly.
type Identity struct {
	UserAgent string
	Headers   http.Header
}

// DefaultUserAgents is a curated list of real browser fingerprints. The set
// is fixed at process start; twelve entries give enough rotation entropy.
var DefaultUserAgents = []string{
	// Chrome Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	// Chrome macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	// Firefox Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/120.0",
	// Firefox macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/121.0",
	// Safari macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	// Edge Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
	// Chrome Linux
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.9,de;q=0.8",
	"en-US,en;q=0.9,fr;q=0.8",
	"en-US,en;q=0.9,nl;q=0.8",
}

type secFetchVariant struct {
	dest, mode, site, user string
}

var secFetchVariants = []secFetchVariant{
	{"navigate", "navigate", "same-origin", "?1"},
	{"document", "navigate", "same-origin", "?1"},
	{"navigate", "navigate", "none", "?1"},
}

// Options configures a Pool.
type Options struct {
	UserAgents       []string
	Referer          string
	ProxyURLs        []string
	DisableThreshold int
	Cooldown         time.Duration
}

// Pool selects identities and tracks proxy endpoint health.
type Pool struct {
	userAgents []string
	referer    string
	proxies    *proxySet
}

// NewPool builds a Pool. An empty user-agent list falls back to the default
// fingerprint set.
func NewPool(opts Options) *Pool {
	uas := opts.UserAgents
	if len(uas) == 0 {
		uas = DefaultUserAgents
	}
	return &Pool{
		userAgents: uas,
		referer:    opts.Referer,
		proxies:    newProxySet(opts.ProxyURLs, opts.DisableThreshold, opts.Cooldown),
	}
}

// Select returns an identity whose user-agent differs from prevUserAgent, so
// a rotating session never repeats its own previous fingerprint. With a
// single-entry pool the repeat is unavoidable and allowed.
func (p *Pool) Select(prevUserAgent string) Identity {
	idx := randIndex(len(p.userAgents))
	if p.userAgents[idx] == prevUserAgent && len(p.userAgents) > 1 {
		idx = (idx + 1 + randIndex(len(p.userAgents)-1)) % len(p.userAgents)
	}
	ua := p.userAgents[idx]
	return Identity{UserAgent: ua, Headers: p.headerTemplate(ua)}
}

// headerTemplate builds browser-like headers with light randomization to
// avoid a stable request fingerprint.
func (p *Pool) headerTemplate(userAgent string) http.Header {
	sf := secFetchVariants[randIndex(len(secFetchVariants))]

	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", acceptLanguages[randIndex(len(acceptLanguages))])
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", sf.dest)
	h.Set("Sec-Fetch-Mode", sf.mode)
	h.Set("Sec-Fetch-Site", sf.site)
	h.Set("Sec-Fetch-User", sf.user)
	h.Set("Cache-Control", "max-age=0")
	h.Set("DNT", "1")
	if p.referer != "" {
		h.Set("Referer", p.referer)
	}

	if strings.Contains(userAgent, "Chrome") {
		h.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
		h.Set("Sec-Ch-Ua-Mobile", "?0")
		platform := `"macOS"`
		if strings.Contains(userAgent, "Windows") {
			platform = `"Windows"`
		}
		h.Set("Sec-Ch-Ua-Platform", platform)
	}
	return h
}

// PickProxy returns a random enabled proxy endpoint, or nil when no proxies
// are configured or all are cooling down.
func (p *Pool) PickProxy() *ProxyEndpoint {
	return p.proxies.pick()
}

// ReportProxy feeds an outcome back into the endpoint's health score.
// Failed or blocked outcomes past the threshold disable the endpoint until
// its cooldown elapses.
func (p *Pool) ReportProxy(endpoint *ProxyEndpoint, healthy bool) {
	p.proxies.report(endpoint, healthy)
}

// UserAgentCount reports the size of the fingerprint set.
func (p *Pool) UserAgentCount() int {
	return len(p.userAgents)
}

// ProxyCounts reports configured and currently-enabled proxy endpoints.
func (p *Pool) ProxyCounts() (total, enabled int) {
	return p.proxies.counts()
}

func randIndex(n int) int {
	if n <= 1 {
		return 0
	}
	i, err := random.IntRange(0, n)
	if err != nil {
		return 0
	}
	return i
}
