// Package session implements the pooled session layer: logical client
// contexts (identity + cookie jar + concurrency budget) reused across
// requests, with capped allocation and cooperative waiting.
package session

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/soccerdata/tmfetch/internal/fetch"
	"github.com/soccerdata/tmfetch/internal/identity"
)

// Session is a stateful client context owned exclusively by the Manager.
// Cookie and header state accumulate in the resty client across requests;
// the bookkeeping fields are guarded by the Manager's mutex.
type Session struct {
	id       string
	identity identity.Identity
	proxy    *identity.ProxyEndpoint
	client   *resty.Client

	createdAt     time.Time
	lastUsed      time.Time
	outstanding   int
	totalRequests int64
}

func newSession(ident identity.Identity, proxy *identity.ProxyEndpoint, requestTimeout time.Duration, now time.Time) (*Session, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client.SetCookieJar(jar)
	client.SetTimeout(requestTimeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	for key, values := range ident.Headers {
		if len(values) > 0 {
			client.SetHeader(key, values[0])
		}
	}
	if proxy != nil {
		client.SetProxy(proxy.URL)
	}

	return &Session{
		id:        uuid.NewString(),
		identity:  ident,
		proxy:     proxy,
		client:    client,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

func (s *Session) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.lastUsed) > timeout
}

// handle is an acquired concurrency slot on a Session. It satisfies
// fetch.SessionHandle.
type handle struct {
	m *Manager
	s *Session
}

func (h *handle) ID() string        { return h.s.id }
func (h *handle) UserAgent() string { return h.s.identity.UserAgent }

// Do applies the jittered pacing delay, then performs one GET through the
// session's client. Proxy health is reported on every outcome.
func (h *handle) Do(ctx context.Context, target string) (fetch.Page, error) {
	if err := h.m.pacer.Wait(ctx); err != nil {
		return fetch.Page{}, fmt.Errorf("pacing wait: %w", err)
	}

	start := time.Now()
	resp, err := h.s.client.R().SetContext(ctx).Get(target)
	elapsed := time.Since(start)

	h.m.touch(h.s)

	if err != nil {
		h.m.identities.ReportProxy(h.s.proxy, false)
		return fetch.Page{}, err
	}

	status := resp.StatusCode()
	h.m.identities.ReportProxy(h.s.proxy, status != 403 && status != 429 && status < 500)

	finalURL := target
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}
	return fetch.Page{
		URL:        finalURL,
		StatusCode: status,
		Headers:    resp.Header(),
		Body:       resp.Body(),
		Duration:   elapsed,
	}, nil
}
