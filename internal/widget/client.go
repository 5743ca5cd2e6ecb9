package widget

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
	"time"
)

// ErrSetupRequired matches an *HTTPError telling the agent to finish setup.
var ErrSetupRequired = errors.New("relay: setup required")

const codeSetupRequired = "SETUP_REQUIRED"

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay error (status %d): %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrSetupRequired && e.Code == codeSetupRequired
}

// Client calls the relay's /api/messages endpoints. TenantID is sent as
// hashedId; leave it empty for a single-tenant relay.
type Client struct {
	BaseURL    string
	TenantID   string
	HTTPClient *http.Client
}

// NewClient returns a client whose requests give up after timeout.
func NewClient(baseURL, tenantID string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		TenantID:   tenantID,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type sendBody struct {
	TicketID        string `json:"ticketId"`
	CustomerMessage string `json:"customerMessage"`
	HashedID        string `json:"hashedId,omitempty"`
}

func (c *Client) Send(ctx context.Context, ticketID, conversation string) (string, error) {
	data, err := json.Marshal(sendBody{TicketID: ticketID, CustomerMessage: conversation, HashedID: c.TenantID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/messages", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("relay response has no messageId")
	}
	return out.MessageID, nil
}

func (c *Client) Latest(ctx context.Context, ticketID, after string) (*Message, error) {
	q := url.Values{}
	q.Set("ticketId", ticketID)
	if c.TenantID != "" {
		q.Set("hashedId", c.TenantID)
	}
	if after != "" {
		q.Set("after", after)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var out struct {
		LatestMessage *Message `json:"latestMessage"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.LatestMessage, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &HTTPError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
