// Package sunco talks to the Sunshine Conversations v1.1 appUser API.
package sunco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lhdbsbz/adarelay/internal/identity"
	"github.com/lhdbsbz/adarelay/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.smooch.io"
	apiVersion     = "/v1.1"
)

type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Auth       string // AuthBasic (default) | AuthJWT
	// ScopeByTenant mixes the tenant id into appUser ids.
	ScopeByTenant bool
}

// NewClient returns a client whose requests give up after timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Auth:       AuthBasic,
	}
}

// ExternalID is the userId the platform knows this ticket by.
func (c *Client) ExternalID(creds Credentials, ticketID string) string {
	if c.ScopeByTenant {
		return identity.ExternalID(ticketID, creds.TenantID)
	}
	return identity.ExternalID(ticketID, "")
}

// ResolveOrCreateUser returns the platform's internal appUser id for a ticket,
// creating the appUser on first contact. Lookup and create are two calls; a
// concurrent caller may create in between, in which case the create fails and
// the error is returned as is.
func (c *Client) ResolveOrCreateUser(ctx context.Context, creds Credentials, ticketID string) (string, error) {
	externalID := c.ExternalID(creds, ticketID)

	user, err := c.GetUser(ctx, creds, externalID)
	if err == nil {
		slog.Debug("found existing appUser", "ticketId", ticketID, "externalId", externalID, "appUserId", user.ID)
		return user.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("get appUser: %w", err)
	}

	user, err = c.CreateUser(ctx, creds, externalID)
	if err != nil {
		return "", fmt.Errorf("create appUser: %w", err)
	}
	slog.Info("created appUser", "ticketId", ticketID, "externalId", externalID, "appUserId", user.ID)
	return user.ID, nil
}

// GetUser looks an appUser up by its external userId.
func (c *Client) GetUser(ctx context.Context, creds Credentials, externalID string) (*AppUser, error) {
	var env appUserEnvelope
	path := "/apps/" + url.PathEscape(creds.AppID) + "/appusers/" + url.PathEscape(externalID)
	if err := c.do(ctx, "get_user", creds, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	if env.AppUser == nil || env.AppUser.ID == "" {
		return nil, &APIError{StatusCode: http.StatusNotFound, Body: "empty appUser"}
	}
	return env.AppUser, nil
}

func (c *Client) CreateUser(ctx context.Context, creds Credentials, externalID string) (*AppUser, error) {
	var env appUserEnvelope
	path := "/apps/" + url.PathEscape(creds.AppID) + "/appusers"
	body := map[string]any{"userId": externalID}
	if err := c.do(ctx, "create_user", creds, http.MethodPost, path, body, &env); err != nil {
		return nil, err
	}
	if env.AppUser == nil || env.AppUser.ID == "" {
		return nil, fmt.Errorf("create appUser: response has no appUser id")
	}
	return env.AppUser, nil
}

// PostMessage sends text as the appUser and returns the new message id.
func (c *Client) PostMessage(ctx context.Context, creds Credentials, appUserID, text string) (string, error) {
	var env messageEnvelope
	body := map[string]any{
		"role": RoleAppUser,
		"type": "text",
		"text": text,
	}
	if err := c.do(ctx, "post_message", creds, http.MethodPost, c.messagesPath(creds, appUserID), body, &env); err != nil {
		return "", err
	}
	if env.Message == nil || env.Message.ID == "" {
		return "", fmt.Errorf("post message: response has no message id")
	}
	return env.Message.ID, nil
}

// ListMessages returns the first page of the appUser's history, oldest first.
func (c *Client) ListMessages(ctx context.Context, creds Credentials, appUserID string) ([]Message, error) {
	var env messagesEnvelope
	if err := c.do(ctx, "list_messages", creds, http.MethodGet, c.messagesPath(creds, appUserID), nil, &env); err != nil {
		return nil, err
	}
	return env.Messages, nil
}

func (c *Client) messagesPath(creds Credentials, appUserID string) string {
	return "/apps/" + url.PathEscape(creds.AppID) + "/appusers/" + url.PathEscape(appUserID) + "/messages"
}

func (c *Client) do(ctx context.Context, op string, creds Credentials, method, path string, body, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, status).Inc()
		metrics.UpstreamRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+apiVersion+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req, creds); err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request, creds Credentials) error {
	if c.Auth == AuthJWT {
		token, err := AppToken(creds.KeyID, creds.Secret)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	req.SetBasicAuth(creds.KeyID, creds.Secret)
	return nil
}

// AppToken signs an app-scoped JWT: HS256 with the key secret, key id in "kid".
func AppToken(keyID, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": "app"})
	token.Header["kid"] = keyID
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign app token: %w", err)
	}
	return signed, nil
}
