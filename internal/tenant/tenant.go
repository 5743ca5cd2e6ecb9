// Package tenant stores per-installation Sunshine Conversations credentials.
//
// A record is written once by the setup form and then only read: every relay
// request carrying a hashedId resolves it here. There is no update or delete.
package tenant

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("tenant configuration not found")
	ErrInvalid  = errors.New("tenant configuration incomplete")
)

// Config is one installation's upstream credentials. JSON names follow the
// setup form fields.
type Config struct {
	TenantID     string    `json:"tenantId"`
	AppID        string    `json:"suncoAppId"`
	KeyID        string    `json:"suncoKeyId"`
	Secret       string    `json:"suncoSecret"`
	InstanceName string    `json:"adaInstanceName"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (c Config) Validate() error {
	if c.AppID == "" || c.KeyID == "" || c.Secret == "" {
		return ErrInvalid
	}
	return nil
}

// Store is a write-once key-value map from tenant id to Config.
type Store interface {
	// Save assigns a fresh tenant id, persists cfg under it and returns the id.
	Save(ctx context.Context, cfg Config) (string, error)
	// Load returns ErrNotFound when no record exists for id.
	Load(ctx context.Context, id string) (*Config, error)
	Close() error
}

// NewID returns an unguessable 32-char hex tenant id. The source is a random
// (crypto/rand backed) UUIDv4, digested so ids share the ticket-hash format.
func NewID() string {
	sum := md5.Sum([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

// prepare validates cfg and stamps id and creation time.
func prepare(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.TenantID = NewID()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	return cfg, nil
}
