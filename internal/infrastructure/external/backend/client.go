// Package backend implements the authenticated channel to the game
// backend. Every request is throttled locally, carries the session
// token and an HMAC signature, and (outside development) is only sent
// to a server presenting a pinned certificate. Failures are fail-fast:
// no retries, no queueing; the caller and the event bus decide what to
// do next.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/pkg/crypto"
)

// ClientConfig contains configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the backend base URL.
	BaseURL string

	// APIKey identifies the client build to the backend.
	APIKey string

	// DeviceID is sent with every request for server-side abuse
	// correlation.
	DeviceID string

	// SigningSecret keys the request HMAC. Required when SigningEnabled.
	SigningSecret []byte

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// SigningEnabled attaches X-Signature headers.
	SigningEnabled bool

	// Local throttle settings.
	ThrottleBurst     int
	ThrottleWindow    time.Duration
	ThrottleIdleReset time.Duration

	// PinningEnabled enforces the certificate allow-list. Disabled in
	// development builds so local servers with self-signed certs work.
	PinningEnabled   bool
	PinnedCertHashes []string

	// Bus receives request/session events. Optional.
	Bus shared.EventPublisher

	// Logger for structured logging.
	Logger *slog.Logger

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Client is the backend API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	throttle   *throttle
	logger     *slog.Logger
	bus        shared.EventPublisher

	sessionMu sync.RWMutex
	session   Session
	playerID  string

	now func() time.Time
}

// NewClient creates a backend client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.PinningEnabled {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: newPinnedTLSConfig(config.PinnedCertHashes),
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		throttle:   newThrottle(config.ThrottleBurst, config.ThrottleWindow, config.ThrottleIdleReset, config.Now),
		logger:     config.Logger,
		bus:        config.Bus,
		now:        config.Now,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session management
// ═══════════════════════════════════════════════════════════════════════════

// Authenticate signs in and stores the resulting session for subsequent
// authorized requests.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Session, error) {
	resp, err := c.do(ctx, http.MethodPost, EndpointSignIn, creds, false)
	if err != nil {
		return Session{}, err
	}

	var payload authPayload
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		return Session{}, shared.WrapError("channel", "Authenticate", shared.ErrExternalService, "malformed auth payload", err)
	}
	if payload.AccessToken == "" {
		return Session{}, shared.NewDomainError("channel", "Authenticate", shared.ErrExternalService, "empty access token")
	}

	session := newSession(payload.AccessToken, payload.ExpiresIn, c.now())

	c.sessionMu.Lock()
	c.session = session
	c.playerID = creds.PlayerID
	c.sessionMu.Unlock()

	c.logger.Info("session opened", "player_id", creds.PlayerID, "expires_at", session.ExpiresAt)
	c.publish(shared.NewSessionEvent(shared.EventSessionOpened, creds.PlayerID))
	return session, nil
}

// LogOut discards the current session.
func (c *Client) LogOut() {
	c.sessionMu.Lock()
	playerID := c.playerID
	had := c.session.Token != ""
	c.session = Session{}
	c.playerID = ""
	c.sessionMu.Unlock()

	if had {
		c.publish(shared.NewSessionEvent(shared.EventSessionClosed, playerID))
	}
}

// Session returns the current session and whether it is still valid.
func (c *Client) Session() (Session, bool) {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session, c.session.Valid(c.now())
}

// authorize returns the bearer token or fails fast, before any bytes
// are sent.
func (c *Client) authorize() (string, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session.Token == "" {
		return "", shared.ErrSessionMissing
	}
	if !c.session.Valid(c.now()) {
		playerID := c.playerID
		c.session = Session{}
		c.playerID = ""
		c.publish(shared.NewSessionEvent(shared.EventSessionExpired, playerID))
		return "", shared.ErrSessionExpired
	}
	return c.session.Token, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Typed operations
// ═══════════════════════════════════════════════════════════════════════════

// FetchProfile fetches the authenticated player's profile.
func (c *Client) FetchProfile(ctx context.Context) (*ProfileDTO, error) {
	var out ProfileDTO
	if err := c.getJSON(ctx, EndpointProfile, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncState uploads a state summary for server-side verification.
func (c *Client) SyncState(ctx context.Context, req SyncRequestDTO) (*SyncResultDTO, error) {
	resp, err := c.do(ctx, http.MethodPost, EndpointStateSync, req, true)
	if err != nil {
		return nil, err
	}
	var out SyncResultDTO
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return nil, shared.WrapError("channel", "SyncState", shared.ErrExternalService, "malformed sync payload", err)
	}
	return &out, nil
}

// FetchLeaderboard fetches the current leaderboard.
func (c *Client) FetchLeaderboard(ctx context.Context) ([]LeaderboardEntryDTO, error) {
	var out []LeaderboardEntryDTO
	if err := c.getJSON(ctx, EndpointLeaderboard, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchCatalog fetches the store catalog.
func (c *Client) FetchCatalog(ctx context.Context) ([]CatalogItemDTO, error) {
	var out []CatalogItemDTO
	if err := c.getJSON(ctx, EndpointCatalog, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchLiveEvents fetches the live event schedule.
func (c *Client) FetchLiveEvents(ctx context.Context) ([]LiveEventDTO, error) {
	var out []LiveEventDTO
	if err := c.getJSON(ctx, EndpointEvents, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return shared.WrapError("channel", "Get", shared.ErrExternalService, "malformed payload", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Request pipeline
// ═══════════════════════════════════════════════════════════════════════════

// do runs one request through throttle, authorization, signing and the
// wire. Exactly one attempt: a failed request surfaces immediately.
func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}, requireAuth bool) (*APIResponse, error) {
	if !c.throttle.allow(endpoint) {
		c.logger.Warn("request throttled locally", "endpoint", endpoint)
		c.publish(shared.NewCommunicationErrorEvent(endpoint, "local throttle burst exceeded", true))
		return nil, shared.ErrEndpointFlooded
	}

	var token string
	if requireAuth {
		var err error
		if token, err = c.authorize(); err != nil {
			return nil, err
		}
	}

	var body []byte
	var bodyReader io.Reader
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, shared.WrapError("channel", "do", shared.ErrInvalidInput, "marshal payload", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	fullURL := c.config.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, shared.WrapError("channel", "do", shared.ErrInvalidInput, "create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-Api-Key", c.config.APIKey)
	}
	if c.config.DeviceID != "" {
		req.Header.Set("X-Device-Id", c.config.DeviceID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.config.SigningEnabled {
		c.sign(req, method, fullURL, body)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := "request failed"
		kind := shared.ErrExternalService
		if errors.Is(err, context.DeadlineExceeded) {
			reason, kind = "request timed out", shared.ErrTimeout
		}
		c.logger.Warn("backend request failed", "endpoint", endpoint, "error", err)
		c.publish(shared.NewCommunicationErrorEvent(endpoint, reason, false))
		return nil, shared.WrapError("channel", "do", kind, reason, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.publish(shared.NewCommunicationErrorEvent(endpoint, "read response", false))
		return nil, shared.WrapError("channel", "do", shared.ErrExternalService, "read response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.LogOut()
		c.publish(shared.NewCommunicationErrorEvent(endpoint, "unauthorized", false))
		return nil, shared.NewDomainError("channel", "do", shared.ErrNotAuthenticated, "backend rejected session")
	}
	if resp.StatusCode >= 400 {
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		c.publish(shared.NewCommunicationErrorEvent(endpoint, reason, false))
		return nil, shared.NewDomainError("channel", "do", shared.ErrExternalService, reason)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		c.publish(shared.NewCommunicationErrorEvent(endpoint, "malformed response", false))
		return nil, shared.WrapError("channel", "do", shared.ErrExternalService, "unmarshal response", err)
	}
	if !apiResp.Success {
		c.publish(shared.NewCommunicationErrorEvent(endpoint, apiResp.Reason, false))
		return nil, shared.NewDomainError("channel", "do", shared.ErrExternalService, "backend error: "+apiResp.Reason)
	}

	c.publish(shared.NewRequestCompletedEvent(endpoint, resp.StatusCode, c.now().Sub(start)))
	return &apiResp, nil
}

// sign attaches X-Timestamp and X-Signature. The MAC covers the method,
// full URL, timestamp and body, so a captured request cannot be replayed
// against another endpoint or with an altered payload.
func (c *Client) sign(req *http.Request, method, fullURL string, body []byte) {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	var msg bytes.Buffer
	msg.WriteString(method)
	msg.WriteByte('\n')
	msg.WriteString(fullURL)
	msg.WriteByte('\n')
	msg.WriteString(timestamp)
	msg.WriteByte('\n')
	msg.Write(body)

	sig := crypto.Sign(c.config.SigningSecret, msg.Bytes())
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(sig))
}

func (c *Client) publish(event shared.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(event); err != nil {
		c.logger.Error("event publish failed", "event_type", event.EventType(), "error", err)
	}
}
