// Package mattermost sets the user's custom status through the Mattermost
// REST API (v4).
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matclab/automattermostatus/internal/policy"
	"github.com/matclab/automattermostatus/internal/secret"
	"github.com/matclab/automattermostatus/internal/version"
	"go.uber.org/zap"
)

const (
	loginPath        = "/api/v4/users/login"
	customStatusPath = "/api/v4/users/me/status/custom"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4 << 10
)

// Config holds the publisher settings.
type Config struct {
	URL     string
	User    string
	Timeout time.Duration
}

// Client publishes custom statuses. Password credentials are exchanged for a
// session token, which is cached until the server rejects it.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
	logger  *zap.Logger

	mu      sync.Mutex
	session string
}

// New validates cfg and returns a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse mattermost url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("mattermost url %q: must be an absolute http(s) URL", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		user:    cfg.User,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type customStatus struct {
	Emoji     string `json:"emoji"`
	Text      string `json:"text"`
	Duration  string `json:"duration,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Publish sets the custom status to status. A zero expiresAt requests no
// expiration. Setting the same status twice is harmless.
func (c *Client) Publish(ctx context.Context, status policy.StatusTemplate, expiresAt time.Time, sec secret.Secret) error {
	body := customStatus{Emoji: status.Emoji, Text: status.Text}
	if !expiresAt.IsZero() {
		body.Duration = "date_and_time"
		body.ExpiresAt = expiresAt.Format(time.RFC3339)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal custom status: %w", err)
	}

	if sec.Kind() == secret.Token {
		return c.setStatus(ctx, payload, sec.Value())
	}

	token, cached, err := c.sessionToken(ctx, sec)
	if err != nil {
		return err
	}
	err = c.setStatus(ctx, payload, token)
	if cached && isUnauthorized(err) {
		c.logger.Info("session token rejected, logging in again")
		c.dropSession()
		if token, _, err = c.sessionToken(ctx, sec); err != nil {
			return err
		}
		err = c.setStatus(ctx, payload, token)
	}
	return err
}

func (c *Client) setStatus(ctx context.Context, payload []byte, token string) error {
	const op = "set custom status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+customStatusPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("custom status updated", zap.Int("status_code", resp.StatusCode))
	return nil
}

// sessionToken returns the cached session token, logging in when there is
// none. cached reports whether the token came from the cache.
func (c *Client) sessionToken(ctx context.Context, sec secret.Secret) (token string, cached bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return c.session, true, nil
	}
	token, err = c.login(ctx, sec)
	if err != nil {
		return "", false, err
	}
	c.session = token
	return token, false, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

func (c *Client) login(ctx context.Context, sec secret.Secret) (string, error) {
	const op = "login"
	if c.user == "" {
		return "", &Error{Op: op, Kind: ErrAuth, Message: "no user configured for password login"}
	}
	payload, err := json.Marshal(map[string]string{
		"login_id": c.user,
		"password": sec.Value(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req, op)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	token := resp.Header.Get("Token")
	if token == "" {
		return "", &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrRejected, Message: "response carries no session token"}
	}
	c.logger.Debug("logged in", zap.String("user", c.user))
	return token, nil
}

// do sends req and turns transport failures and non-2xx answers into *Error.
// On success the caller owns resp.Body.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "automattermostatus/"+version.Short())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: op, Kind: ErrTransient, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Kind:       classify(resp.StatusCode),
		Message:    serverMessage(resp.Body),
	}
}

// serverMessage extracts the "message" field of a Mattermost error body.
func serverMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}

func isUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusUnauthorized
}
