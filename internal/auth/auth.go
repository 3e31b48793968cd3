// Package auth is the credential store: it persists the personal
// access token and runs the interactive browser + websocket login flow
// when no valid token exists.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skratchdot/open-golang/open"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/metrics"
)

// Config configures the credential store.
type Config struct {
	// TokenPath is where the access token is persisted.
	TokenPath string
	// AuthURL is the browser authorization page.
	AuthURL string
	// SocketURL is the websocket endpoint that delivers the token.
	SocketURL string
	// SafetyGap is subtracted from token lifetimes; zero means
	// DefaultSafetyGap.
	SafetyGap time.Duration
}

// socketConn is the subset of *websocket.Conn the login flow uses.
type socketConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Store validates, refreshes and persists the access token. CheckAuth
// is safe to call repeatedly and concurrently; only the first caller
// without a valid token pays for the interactive flow.
type Store struct {
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	// openBrowser and dial are replaced in tests.
	openBrowser func(url string) error
	dial        func(ctx context.Context, url string) (socketConn, error)

	mu     sync.Mutex
	cached string
}

// NewStore creates a credential store.
func NewStore(cfg Config, clk clock.Clock) *Store {
	if cfg.SafetyGap <= 0 {
		cfg.SafetyGap = DefaultSafetyGap
	}
	return &Store{
		cfg:         cfg,
		clock:       clk,
		log:         logging.Component("auth"),
		openBrowser: open.Run,
		dial: func(ctx context.Context, u string) (socketConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
			return conn, err
		},
	}
}

// CheckAuth returns a valid access token. Fast path: a cached or
// previously saved token that is not expired. Slow path: the
// interactive login flow, which opens a browser window.
func (s *Store) CheckAuth(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if s.cached != "" && !TokenExpired(s.cached, s.cfg.SafetyGap, now) {
		return s.cached, nil
	}

	saved, err := loadTokenFile(s.cfg.TokenPath)
	if err != nil {
		s.log.Warn("failed to read saved token", "error", err)
	}
	if saved != "" && !TokenExpired(saved, s.cfg.SafetyGap, now) {
		s.cached = saved
		return saved, nil
	}

	token, err := s.interactiveLogin(ctx)
	if err != nil {
		return "", err
	}

	if err := saveTokenFile(s.cfg.TokenPath, token, s.clock.Now()); err != nil {
		// The login succeeded; a failed save only costs another login
		// next run.
		s.log.Warn("failed to persist token", "error", err)
	}

	if m := metrics.Get(); m != nil {
		m.AuthRefreshes.Inc()
	}

	s.cached = token
	return token, nil
}

// Invalidate drops the in-memory token so the next CheckAuth re-reads
// the file or re-authenticates.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = ""
}

// socketEvent is one message on the login channel.
type socketEvent struct {
	Event   string `json:"event"`
	Room    string `json:"room,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

// interactiveLogin opens the authorization page carrying a random
// session key, joins the matching websocket room, and blocks until the
// backend pushes back an access token or an error event.
func (s *Store) interactiveLogin(ctx context.Context) (string, error) {
	sessionKey := uuid.NewString()

	authorizeURL := fmt.Sprintf("%s?session=%s", s.cfg.AuthURL, url.QueryEscape(sessionKey))

	conn, err := s.dial(ctx, s.cfg.SocketURL)
	if err != nil {
		return "", fmt.Errorf("dial login socket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(socketEvent{Event: "join", Room: sessionKey}); err != nil {
		return "", fmt.Errorf("join login room: %w", err)
	}

	s.log.Info("opening browser for authorization", "url", authorizeURL)
	if err := s.openBrowser(authorizeURL); err != nil {
		// The user can still follow the URL from the log line.
		s.log.Warn("failed to open browser", "error", err)
	}

	type loginResult struct {
		token string
		err   error
	}
	resultCh := make(chan loginResult, 1)

	go func() {
		for {
			var evt socketEvent
			if err := conn.ReadJSON(&evt); err != nil {
				resultCh <- loginResult{err: fmt.Errorf("read login socket: %w", err)}
				return
			}
			switch evt.Event {
			case "access-token":
				resultCh <- loginResult{token: evt.Token}
				return
			case "access-token-error":
				resultCh <- loginResult{err: fmt.Errorf("authorization rejected: %s", evt.Message)}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", res.err
		}
		if res.token == "" {
			return "", fmt.Errorf("authorization returned empty token")
		}
		s.log.Info("authorization complete")
		return res.token, nil
	}
}
