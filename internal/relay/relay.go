// Package relay composes tenant lookup, ticket identity and the upstream client
// into the two operations the widget uses: send a conversation and fetch the
// latest reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lhdbsbz/adarelay/internal/events"
	"github.com/lhdbsbz/adarelay/internal/sunco"
	"github.com/lhdbsbz/adarelay/internal/tenant"
)

var (
	// ErrConfigNotFound means neither the tenant store nor the single-tenant
	// settings hold credentials for the request. The widget sends the agent to setup.
	ErrConfigNotFound = errors.New("relay: configuration not found")
	ErrInvalidRequest = errors.New("relay: invalid request")
)

// Upstream is the subset of *sunco.Client the relay needs.
type Upstream interface {
	ExternalID(creds sunco.Credentials, ticketID string) string
	ResolveOrCreateUser(ctx context.Context, creds sunco.Credentials, ticketID string) (string, error)
	PostMessage(ctx context.Context, creds sunco.Credentials, appUserID, text string) (string, error)
	ListMessages(ctx context.Context, creds sunco.Credentials, appUserID string) ([]sunco.Message, error)
}

// CredentialsFunc returns single-tenant credentials, ok=false when unset.
type CredentialsFunc func() (sunco.Credentials, bool)

type Service struct {
	Tenants  tenant.Store
	Upstream Upstream
	// Fallback serves requests without a tenant id. May be nil.
	Fallback CredentialsFunc
	Events   events.Publisher
}

type SendRequest struct {
	TicketID string
	Text     string
	TenantID string
}

type LatestRequest struct {
	TicketID string
	TenantID string
	// After is accepted for protocol compatibility; the list is not filtered by it.
	After string
}

// Setup stores a new tenant configuration and returns its id.
func (s *Service) Setup(ctx context.Context, cfg tenant.Config) (string, error) {
	id, err := s.Tenants.Save(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("save tenant: %w", err)
	}
	s.publish(ctx, events.NewEnvelope(events.TenantCreated, events.TenantCreatedData{
		TenantID:     id,
		InstanceName: cfg.InstanceName,
	}))
	return id, nil
}

// Send posts text to the ticket's appUser, creating the appUser if needed, and
// returns the upstream message id.
func (s *Service) Send(ctx context.Context, req SendRequest) (string, error) {
	if req.TicketID == "" {
		return "", fmt.Errorf("%w: ticketId required", ErrInvalidRequest)
	}
	if req.Text == "" {
		return "", fmt.Errorf("%w: message text required", ErrInvalidRequest)
	}
	creds, err := s.credentials(ctx, req.TenantID)
	if err != nil {
		return "", err
	}

	appUserID, err := s.Upstream.ResolveOrCreateUser(ctx, creds, req.TicketID)
	if err != nil {
		return "", err
	}
	messageID, err := s.Upstream.PostMessage(ctx, creds, appUserID, req.Text)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	slog.Info("message relayed", "ticketId", req.TicketID, "tenant", req.TenantID, "messageId", messageID)

	s.publish(ctx, events.NewEnvelope(events.MessageSent, events.MessageSentData{
		TenantID:   req.TenantID,
		TicketHash: s.Upstream.ExternalID(creds, req.TicketID),
		MessageID:  messageID,
	}))
	return messageID, nil
}

// Latest returns the last message of the ticket's conversation, or nil when
// the conversation is empty.
func (s *Service) Latest(ctx context.Context, req LatestRequest) (*sunco.Message, error) {
	if req.TicketID == "" {
		return nil, fmt.Errorf("%w: ticketId required", ErrInvalidRequest)
	}
	creds, err := s.credentials(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	appUserID, err := s.Upstream.ResolveOrCreateUser(ctx, creds, req.TicketID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Upstream.ListMessages(ctx, creds, appUserID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	latest := msgs[len(msgs)-1]
	slog.Debug("latest message fetched", "ticketId", req.TicketID, "messageId", latest.ID, "role", latest.Role)
	return &latest, nil
}

func (s *Service) credentials(ctx context.Context, tenantID string) (sunco.Credentials, error) {
	if tenantID == "" {
		if s.Fallback != nil {
			if creds, ok := s.Fallback(); ok {
				return creds, nil
			}
		}
		return sunco.Credentials{}, fmt.Errorf("%w: no tenant id and no single-tenant credentials", ErrConfigNotFound)
	}

	cfg, err := s.Tenants.Load(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return sunco.Credentials{}, fmt.Errorf("%w: tenant %s", ErrConfigNotFound, tenantID)
	}
	if err != nil {
		return sunco.Credentials{}, fmt.Errorf("load tenant: %w", err)
	}
	return sunco.Credentials{
		TenantID: cfg.TenantID,
		AppID:    cfg.AppID,
		KeyID:    cfg.KeyID,
		Secret:   cfg.Secret,
	}, nil
}

func (s *Service) publish(ctx context.Context, env events.Envelope) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, env); err != nil {
		slog.Warn("event publish failed", "type", env.Meta.Type, "error", err)
	}
}
