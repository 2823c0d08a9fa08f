package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// substantialBodyBytes is the size above which a branded 403 page is assumed
// to be real content served with an odd status rather than a block page.
const substantialBodyBytes = 5000

// ClassifierOptions carries the site-dependent heuristic data. The signature
// and selector lists are deployment configuration, not classifier logic.
type ClassifierOptions struct {
	MinHTMLBytes      int
	BrandToken        string
	BlockSignatures   []string
	CaptchaSignatures []string
	MarkerSelectors   []string
}

// Classifier maps a raw attempt outcome onto exactly one Classification.
type Classifier struct {
	minHTMLBytes      int
	brandToken        []byte
	blockSignatures   [][]byte
	captchaSignatures [][]byte
	markerSelectors   []string
}

// NewClassifier builds a Classifier from heuristic configuration.
func NewClassifier(opts ClassifierOptions) *Classifier {
	return &Classifier{
		minHTMLBytes:      opts.MinHTMLBytes,
		brandToken:        bytes.ToLower([]byte(strings.TrimSpace(opts.BrandToken))),
		blockSignatures:   lowerAll(opts.BlockSignatures),
		captchaSignatures: lowerAll(opts.CaptchaSignatures),
		markerSelectors:   opts.MarkerSelectors,
	}
}

// Classify tags one attempt. The returned reason is human-readable context
// for logs and errors; the Classification alone drives the retry loop.
func (c *Classifier) Classify(page Page, err error) (Classification, string) {
	if err != nil {
		// Raw transport failures (timeouts, resets, TLS) are infrastructure
		// level. Malformed targets never reach the transport; they are
		// rejected before the attempt loop starts.
		return ClassTransient, err.Error()
	}

	body := bytes.ToLower(page.Body)

	switch {
	case page.StatusCode == 403:
		if len(page.Body) > substantialBodyBytes && c.branded(body) {
			// A substantial branded page behind a 403 is real content.
			break
		}
		return ClassBlocked, "status 403"
	case page.StatusCode == 429:
		return ClassBlocked, "status 429"
	case page.StatusCode >= 500:
		return ClassTransient, "server error status"
	case page.StatusCode >= 400:
		if reason, ok := c.matchSignatures(body, c.blockSignatures); ok {
			return ClassBlocked, reason
		}
		return ClassFatal, "definitive client error status"
	}

	if c.minHTMLBytes > 0 && len(page.Body) < c.minHTMLBytes && !c.branded(body) {
		return ClassBlocked, "suspiciously short unbranded body"
	}
	if reason, ok := c.captchaGate(body); ok {
		return ClassBlocked, reason
	}
	if sel, missing := c.missingMarker(page.Body); missing {
		return ClassBlocked, "structural marker absent: " + sel
	}
	return ClassSuccess, ""
}

func (c *Classifier) branded(lowerBody []byte) bool {
	return len(c.brandToken) > 0 && bytes.Contains(lowerBody, c.brandToken)
}

func (c *Classifier) matchSignatures(lowerBody []byte, signatures [][]byte) (string, bool) {
	for _, sig := range signatures {
		if len(sig) > 0 && bytes.Contains(lowerBody, sig) {
			return "block signature: " + string(sig), true
		}
	}
	return "", false
}

// captchaGate detects script-gated CAPTCHA challenges. A bare "captcha"
// mention is not enough; it must be paired with a solve/verify prompt or one
// of the configured provider signatures.
func (c *Classifier) captchaGate(lowerBody []byte) (string, bool) {
	if reason, ok := c.matchSignatures(lowerBody, c.captchaSignatures); ok {
		return reason, true
	}
	if bytes.Contains(lowerBody, []byte("captcha")) &&
		(bytes.Contains(lowerBody, []byte("solve")) || bytes.Contains(lowerBody, []byte("verify"))) {
		return "captcha challenge", true
	}
	return "", false
}

// missingMarker reports the first configured structural selector absent from
// the document. An unparseable body counts as missing.
func (c *Classifier) missingMarker(body []byte) (string, bool) {
	if len(c.markerSelectors) == 0 || len(body) == 0 {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "unparseable document", true
	}
	for _, sel := range c.markerSelectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return sel, true
		}
	}
	return "", false
}

func lowerAll(values []string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, bytes.ToLower([]byte(v)))
	}
	return out
}
