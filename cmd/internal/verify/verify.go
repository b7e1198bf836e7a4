// Package verify checks bot-protection tokens with Cloudflare Turnstile.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/metrics"
)

// DefaultTurnstileURL is Cloudflare's siteverify endpoint.
const DefaultTurnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrVerificationFailed is returned for any non-success answer or transport failure.
// It is an identity.ErrExternal.
var ErrVerificationFailed = fmt.Errorf("bot verification failed: %w", identity.ErrExternal)

// Verifier verifies a client-supplied bot-protection token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Noop accepts every token. Only wired when no secret is configured outside production.
type Noop struct{}

// Verify always succeeds.
func (Noop) Verify(context.Context, string, string) error { return nil }

// Turnstile calls the siteverify API. A single attempt is made; there are no retries.
type Turnstile struct {
	secret     string
	url        string
	httpClient *http.Client
}

// TurnstileOption configures Turnstile.
type TurnstileOption func(*Turnstile)

// WithURL points the verifier at another endpoint (tests).
func WithURL(u string) TurnstileOption {
	return func(t *Turnstile) { t.url = strings.TrimSpace(u) }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) TurnstileOption {
	return func(t *Turnstile) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// NewTurnstile constructs a Turnstile verifier with a 10s client timeout.
func NewTurnstile(secret string, opts ...TurnstileOption) *Turnstile {
	t := &Turnstile{
		secret:     secret,
		url:        DefaultTurnstileURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

type siteverifyRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
	RemoteIP string `json:"remoteip,omitempty"`
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts {secret, response} and requires success=true.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.External.WithLabelValues("turnstile", "missing").Inc()
		return fmt.Errorf("%w: missing token", ErrVerificationFailed)
	}

	body, err := json.Marshal(siteverifyRequest{Secret: t.secret, Response: token, RemoteIP: remoteIP})
	if err != nil {
		return err
	}

	resp, err := t.post(ctx, body)
	if err != nil {
		metrics.External.WithLabelValues("turnstile", "error").Inc()
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResp(resp); err != nil {
		metrics.External.WithLabelValues("turnstile", "error").Inc()
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		metrics.External.WithLabelValues("turnstile", "error").Inc()
		return fmt.Errorf("%w: decode: %v", ErrVerificationFailed, err)
	}
	if !out.Success {
		metrics.External.WithLabelValues("turnstile", "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(out.ErrorCodes, ","))
	}

	metrics.External.WithLabelValues("turnstile", "ok").Inc()
	return nil
}

func (t *Turnstile) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.httpClient.Do(req)
}

// checkResp returns an error for non-2xx responses, including a bounded slice of the body.
func checkResp(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("siteverify returned %d: %s", resp.StatusCode, string(b))
}
