package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/gate"
	"clubhouse/cmd/internal/auth/session"

	"github.com/coder/websocket"
)

// Gateway is the WebSocket entrypoint of the admin feed.
//
// It enforces the origin allowlist and subprotocol, keeps the connection
// alive with pings, and pumps Hub events to the administrator.
type Gateway struct {
	log *slog.Logger
	hub *Hub
	cfg GatewayConfig

	// websocket.Accept only trusts same-host origins unless the host is
	// listed here, so the patterns are derived from the allowlist.
	originPatterns []string

	sessions SessionChecker
}

// SessionChecker re-resolves the session behind an open feed connection.
// *session.Manager satisfies it.
type SessionChecker interface {
	Validate(ctx context.Context, tok string) (identity.User, session.Session, error)
	TokenFromRequest(r *http.Request) (string, bool)
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithSessionCheck makes every heartbeat re-validate the connection's
// session and admin flag; the feed closes once either is gone.
func WithSessionCheck(s SessionChecker) GatewayOption {
	return func(g *Gateway) { g.sessions = s }
}

// NewGateway constructs a Gateway bound to hub.
func NewGateway(log *slog.Logger, hub *Hub, cfg GatewayConfig, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.normalized()
	g := &Gateway{
		log:            log,
		hub:            hub,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Hub returns the hub the gateway serves.
func (g *Gateway) Hub() *Hub { return g.hub }

// Serve upgrades an administrator's request and runs the feed until either
// side goes away. It has the gate.Handler signature.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	if err := gate.RequireAdmin(id); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := g.checkOrigin(r); err != nil {
		g.log.Info("feed.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("feed.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("feed.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	clientID, err := NewClientID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(clientID, id.User.ID, g.cfg.SendQueue)

	var token string
	if g.sessions != nil {
		token, _ = g.sessions.TokenFromRequest(r)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client.ID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Hello is queued before registering so it is always the first frame.
	g.send(client, TypeFeedHello, HelloPayload{ClientID: client.ID, UserID: client.UserID})
	g.hub.Register(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, token, shutdown)
	}()

	g.readLoop(ctx, conn, client, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			// Unregistered by the hub: tell the peer why.
			if client.Revoked() {
				shutdown(websocket.StatusPolicyViolation, "access revoked")
			} else {
				shutdown(websocket.StatusPolicyViolation, "too slow")
			}
			return
		case ev := <-client.Send:
			if err := writeEvent(ctx, conn, ev, g.cfg.WriteTimeout); err != nil {
				g.log.Info("feed.write.fail", "client_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, token string, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			if err := g.recheck(ctx, token); err != nil {
				g.log.Info("feed.session.revoked", "client_id", client.ID, "user_id", client.UserID, "err", err)
				shutdown(websocket.StatusPolicyViolation, "access revoked")
				return
			}

			pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()

			if err != nil {
				failures++
				g.log.Info("feed.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// recheck confirms the connection's session is still live and still
// belongs to an administrator. Without a SessionChecker it always passes.
func (g *Gateway) recheck(ctx context.Context, token string) error {
	if g.sessions == nil {
		return nil
	}
	if token == "" {
		return session.ErrInvalidSession
	}
	u, sess, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	return gate.RequireAdmin(gate.Identity{User: &u, Session: &sess})
}

// readLoop also services pong frames for Ping, so it runs for the whole
// connection even though administrators rarely send anything.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	limiter := newFrameLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if isExpectedClose(err) {
				shutdown(websocket.StatusNormalClosure, "peer closed")
			} else {
				g.log.Info("feed.read.fail", "client_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if !limiter.allow(time.Now()) {
			g.send(client, TypeFeedError, ErrorPayload{Code: "rate_limited", Message: "too many frames"})
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			g.send(client, TypeFeedError, ErrorPayload{Code: "bad_json", Message: "invalid JSON"})
			continue
		}
		if err := ev.Validate(); err != nil {
			g.send(client, TypeFeedError, ErrorPayload{Code: "unsupported", Message: err.Error()})
			continue
		}
		g.send(client, TypeFeedPong, nil)
	}
}

// send queues a control frame for one client, dropping it when the queue is full.
func (g *Gateway) send(client *Client, typ string, payload any) {
	ev, err := NewEvent(typ, payload, time.Now().UTC())
	if err != nil {
		g.log.Error("feed.event.fail", "type", typ, "err", err)
		return
	}
	select {
	case <-client.Done():
	case client.Send <- ev:
	default:
	}
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func isExpectedClose(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}

func (g *Gateway) checkOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	host := originHost(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", a == origin:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost extracts the lower-cased host of a URL or host[:port] string.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(s)
}

func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if a == "*" {
			h = "*"
		}
		if h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}
