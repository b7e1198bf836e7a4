// Package main provides a CI-friendly smoke test for the clubhouse admin feed.
//
// It validates:
//   - admin login and session cookie
//   - feed handshake and subprotocol selection
//   - feed.hello as the first frame
//   - ping -> pong
//   - an anonymous access request showing up as access_request.submitted
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "clubhouse.admin.v1"
	maxReadBytes = 1 << 20 // 1MiB

	typeHello     = "feed.hello"
	typePing      = "feed.ping"
	typePong      = "feed.pong"
	typeError     = "feed.error"
	typeSubmitted = "access_request.submitted"
)

// event mirrors the feed envelope.
type event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type feedClient struct {
	conn  *websocket.Conn
	inbox chan event
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the feed handshake")
		username = flag.String("username", "admin", "admin username")
		password = flag.String("password", os.Getenv("CLUB_SMOKE_PASSWORD"), "admin password (default $CLUB_SMOKE_PASSWORD)")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	base, err := url.Parse(*baseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -base: %q", *baseURL)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	cookie := mustLogin(root, base, *username, *password, *timeout)
	if *verbose {
		fmt.Printf("logged in as %s (cookie %s)\n", *username, cookie.Name)
	}

	c := mustConnect(root, feedURL(base), *origin, cookie, *timeout)
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "bye") }()

	var hello struct {
		ClientID string `json:"client_id"`
		UserID   string `json:"user_id"`
	}
	mustDecode(c.mustReadUntilType(root, typeHello, *timeout, nil), &hello)
	if hello.ClientID == "" || hello.UserID == "" {
		fatalf("feed.hello missing ids: %+v", hello)
	}

	mustWrite(root, c.conn, event{Type: typePing, TS: time.Now().UTC()}, *timeout)
	c.mustReadUntilType(root, typePong, *timeout, nil)

	email := fmt.Sprintf("smoke-%d@example.org", time.Now().UnixNano())
	mustSubmitRequest(root, base, email, *timeout)

	var submitted struct {
		RequestID string `json:"request_id"`
		Email     string `json:"email"`
	}
	mustDecode(c.mustReadUntilType(root, typeSubmitted, *timeout, map[string]struct{}{typePong: {}}), &submitted)
	if !strings.EqualFold(submitted.Email, email) {
		fatalf("submitted email mismatch: got=%q want=%q", submitted.Email, email)
	}

	fmt.Printf("OK: client=%s admin=%s request=%s\n", hello.ClientID, hello.UserID, submitted.RequestID)
}

func feedURL(base *url.URL) string {
	u := *base
	u.Scheme = "ws"
	if base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/admin/feed"
	return u.String()
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// noRedirect keeps the 303 from /login so its Set-Cookie can be read.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func mustLogin(parent context.Context, base *url.URL, username, password string, stepTimeout time.Duration) *http.Cookie {
	body := mustJSON(map[string]string{"username": username, "password": password})
	resp := mustPost(parent, base.JoinPath("login").String(), body, stepTimeout)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusSeeOther {
		fatalf("login: status=%d body=%s", resp.StatusCode, readSnippet(resp.Body))
	}
	if loc := resp.Header.Get("Location"); loc != "/admin" {
		fatalf("login: redirected to %q, user is not an admin", loc)
	}
	for _, c := range resp.Cookies() {
		if c.Value != "" {
			return c
		}
	}
	fatalf("login: no session cookie")
	return nil
}

func mustSubmitRequest(parent context.Context, base *url.URL, email string, stepTimeout time.Duration) {
	body := mustJSON(map[string]any{
		"name":          "Smoke Test",
		"email":         email,
		"zipCode":       "12345",
		"reason":        "feed smoke test",
		"agreeToValues": true,
	})
	resp := mustPost(parent, base.JoinPath("api", "request-access").String(), body, stepTimeout)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		fatalf("request-access: status=%d body=%s", resp.StatusCode, readSnippet(resp.Body))
	}
}

func mustPost(parent context.Context, target string, body []byte, stepTimeout time.Duration) *http.Response {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fatalf("build request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := noRedirect.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	return resp
}

func mustConnect(parent context.Context, wsURL, origin string, cookie *http.Cookie, stepTimeout time.Duration) *feedClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Cookie", cookie.String())

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", wsURL, err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &feedClient{
		conn:  conn,
		inbox: make(chan event, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *feedClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var ev event
			if err := json.Unmarshal(data, &ev); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if ev.Type == "" || ev.ID == "" {
				select {
				case c.errCh <- errors.New("bad envelope: missing type or id"):
				default:
				}
				return
			}

			select {
			case c.inbox <- ev:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *feedClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case ev, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if ev.Type == wantType {
				return ev
			}
			if ev.Type == typeError {
				var ep struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				}
				_ = json.Unmarshal(ev.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			if _, ok := skipTypes[ev.Type]; ok {
				continue
			}
			fatalf("unexpected event type: got=%q want=%q", ev.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, ev event, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(ev)); err != nil {
		fatalf("write %s: %v", ev.Type, err)
	}
}

func mustDecode(ev event, v any) {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		fatalf("unmarshal %s payload: %v", ev.Type, err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "SMOKE FAIL: "+format+"\n", args...)
	os.Exit(1)
}
