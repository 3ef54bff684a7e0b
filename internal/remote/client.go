package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

const (
	pingInterval   = 30 * time.Second
	requestTimeout = 10 * time.Second
	// re-authenticate this long before the session token expires
	authSlack = 2 * time.Minute
)

// Config holds remote store connection settings.
type Config struct {
	// BaseURL of the hosted store, e.g. https://sync.example.com
	BaseURL string
	FamID   string
	// DeviceID identifies this device to the store's anonymous auth.
	DeviceID string
}

// Client talks to the hosted store over HTTP (read, merge-write, auth) and a
// websocket (realtime subscription).
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Client. It performs no I/O; call EnsureAuth or let the
// first operation trigger it.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

var _ Store = (*Client)(nil)

type sessionRequest struct {
	FamID    string `json:"famId"`
	DeviceID string `json:"deviceId"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

// EnsureAuth establishes an anonymous session keyed by family and device id.
// A still-valid token is reused; expiry is taken from the token's own claims.
func (c *Client) EnsureAuth(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-authSlack)) {
		return nil
	}

	body, err := json.Marshal(sessionRequest{FamID: c.cfg.FamID, DeviceID: c.cfg.DeviceID})
	if err != nil {
		return fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session request: status %d", resp.StatusCode)
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode session response: %w", err)
	}
	if sr.Token == "" {
		return fmt.Errorf("session response missing token")
	}

	c.token = sr.Token
	c.tokenExpiry = tokenExpiry(sr.Token)
	return nil
}

// tokenExpiry extracts the exp claim without verifying the signature (the
// store is the verifier; the client only needs to know when to re-auth).
// Tokens without a readable expiry get a conservative one-hour lifetime.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if claims.ExpiresAt != nil {
			return claims.ExpiresAt.Time
		}
	}
	return time.Now().Add(time.Hour)
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) docURL() string {
	return c.cfg.BaseURL + "/api/households/" + url.PathEscape(c.cfg.FamID)
}

// Read performs a point read of the household document.
func (c *Client) Read(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := c.EnsureAuth(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build read request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read document: status %d", resp.StatusCode)
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fields, nil
}

// Write merges the named top-level fields into the household document,
// creating the document if it does not exist.
func (c *Client) Write(ctx context.Context, patch map[string]any) error {
	if err := c.EnsureAuth(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.docURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.currentToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("write document: status %d", resp.StatusCode)
	}
	return nil
}

// Subscribe dials the store's websocket and delivers every pushed snapshot to
// onSnapshot until cancelled. Dial failures and dropped connections are
// reported through onError and retried with capped exponential backoff; a
// successful reconnect resumes delivery with a fresh backoff.
func (c *Client) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (cancel func()) {
	ctx, cancelFn := context.WithCancel(ctx)

	go func() {
		for ctx.Err() == nil {
			backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(500*time.Millisecond))

			var conn *ws.Conn
			err := retry.Do(ctx, backoff, func(ctx context.Context) error {
				dialed, err := c.dial(ctx)
				if err != nil {
					onError(err)
					return retry.RetryableError(err)
				}
				conn = dialed
				return nil
			})
			if err != nil {
				return // context ended
			}

			if err := c.serve(ctx, conn, onSnapshot); err != nil && ctx.Err() == nil {
				c.logger.Warn("subscription dropped, reconnecting", "error", err)
				onError(err)
			}
		}
	}()

	return cancelFn
}

func (c *Client) dial(ctx context.Context) (*ws.Conn, error) {
	if err := c.EnsureAuth(ctx); err != nil {
		return nil, err
	}

	wsURL := strings.Replace(c.cfg.BaseURL, "http", "ws", 1) +
		"/api/households/" + url.PathEscape(c.cfg.FamID) + "/watch"

	conn, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + c.currentToken()}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial watch socket: %w", err)
	}
	// Snapshot documents hold a whole household; lift the default read limit.
	conn.SetReadLimit(8 << 20)
	return conn, nil
}

// serve reads push frames until the connection fails or ctx ends. It also
// sends periodic pings to detect stale connections.
func (c *Client) serve(ctx context.Context, conn *ws.Conn, onSnapshot SnapshotFunc) error {
	defer conn.Close(ws.StatusNormalClosure, "")

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(pingCtx); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read push frame: %w", err)
		}

		var frame pushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("ignoring undecodable push frame", "error", err)
			continue
		}

		switch frame.Type {
		case "snapshot":
			onSnapshot(frame.Doc)
		case "error":
			c.logger.Warn("store reported error", "detail", frame.Detail)
		default:
			// Unknown frame types are forward-compatibility, not failures.
		}
	}
}
