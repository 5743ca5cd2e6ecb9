package sunco

import (
	"errors"
	"fmt"
)

// Message roles as reported by the platform.
const (
	RoleAppUser  = "appUser"
	RoleAppMaker = "appMaker"
)

// Auth modes.
const (
	AuthBasic = "basic"
	AuthJWT   = "jwt"
)

// Credentials are the per-app API key pair. TenantID is empty in single-tenant mode.
type Credentials struct {
	TenantID string
	AppID    string
	KeyID    string
	Secret   string
}

type AppUser struct {
	ID     string `json:"_id"`
	UserID string `json:"userId"`
}

// Message is one entry of an appUser's conversation. Order in a list is the
// platform's chronological order.
type Message struct {
	ID       string  `json:"_id"`
	Role     string  `json:"role"`
	Type     string  `json:"type,omitempty"`
	Text     string  `json:"text"`
	AuthorID string  `json:"authorId,omitempty"`
	Name     string  `json:"name,omitempty"`
	Received float64 `json:"received,omitempty"`
}

type appUserEnvelope struct {
	AppUser *AppUser `json:"appUser"`
}

type messageEnvelope struct {
	Message *Message `json:"message"`
}

type messagesEnvelope struct {
	Messages []Message `json:"messages"`
}

// ErrNotFound matches any *APIError with status 404.
var ErrNotFound = errors.New("sunco: not found")

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sunco API error (status %d): %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// IsAuth returns true if the key pair was rejected.
func (e *APIError) IsAuth() bool { return e.StatusCode == 401 || e.StatusCode == 403 }
