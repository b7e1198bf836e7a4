// Package relay forwards access-request submissions to Formspree.
//
// Relaying is best-effort: callers log and count failures but never fail
// the submission because of them.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clubhouse/cmd/internal/metrics"
)

// DefaultBaseURL is the Formspree form endpoint prefix.
const DefaultBaseURL = "https://formspree.io/f/"

// Submission is the payload relayed for each access request.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	ZipCode string `json:"zipCode"`
	Reason  string `json:"reason"`
}

// Relayer forwards a submission somewhere outside the club.
type Relayer interface {
	Relay(ctx context.Context, s Submission) error
}

// Noop drops submissions. Used when no form id is configured.
type Noop struct{}

// Relay does nothing.
func (Noop) Relay(context.Context, Submission) error { return nil }

// Formspree posts submissions to https://formspree.io/f/{formID}.
type Formspree struct {
	baseURL    string
	formID     string
	httpClient *http.Client
}

// FormspreeOption configures Formspree.
type FormspreeOption func(*Formspree)

// WithBaseURL replaces the Formspree base URL (tests).
func WithBaseURL(base string) FormspreeOption {
	return func(f *Formspree) {
		f.baseURL = strings.TrimRight(base, "/") + "/"
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) FormspreeOption {
	return func(f *Formspree) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// NewFormspree constructs a relay for formID with a 10s client timeout.
func NewFormspree(formID string, opts ...FormspreeOption) *Formspree {
	f := &Formspree{
		baseURL:    DefaultBaseURL,
		formID:     strings.TrimSpace(formID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Relay posts s as JSON. Non-2xx answers are errors.
func (f *Formspree) Relay(ctx context.Context, s Submission) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+f.formID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		metrics.External.WithLabelValues("formspree", "error").Inc()
		return fmt.Errorf("formspree: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.External.WithLabelValues("formspree", "rejected").Inc()
		return fmt.Errorf("formspree returned %d: %s", resp.StatusCode, string(b))
	}

	metrics.External.WithLabelValues("formspree", "ok").Inc()
	return nil
}
