package http

import (
	"context"

	"github.com/go-sender-api/internal/domain"
)

// SenderRepository is the minimal interface the router requires from the
// sender store.
type SenderRepository interface {
	// GetMeta loads the tenant's aggregate row; nil when the tenant has
	// never created a sender.
	GetMeta(ctx context.Context, tenantID string) (*domain.TenantMeta, error)
	Create(ctx context.Context, s *domain.Sender, observed *domain.TenantMeta) error
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	// ListByTenant returns the tenant's senders via the tenant GSI;
	// callers must not assume any ordering.
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Sender, error)
	Update(ctx context.Context, tenantID, senderID string, updates map[string]interface{}) error
	UpdateConditional(ctx context.Context, tenantID, senderID string, updates map[string]interface{}, condField string, condValue interface{}) error
	Delete(ctx context.Context, tenantID, senderID string) error
}

// DomainRepository is the minimal interface the router requires from the
// domain verification record store.
type DomainRepository interface {
	Upsert(ctx context.Context, rec *domain.DomainVerificationRecord) error
	Get(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error)
	UpdateConditional(ctx context.Context, tenantID, dom string, updates map[string]interface{}, condField string, condValue interface{}) error
	Delete(ctx context.Context, tenantID, dom string) error
}

// Verifier is the provider-side verification collaborator. Calls are
// fallible remote calls; the services issue at most one attempt per explicit
// user action and never retry internally.
type Verifier interface {
	InitiateMailboxVerification(ctx context.Context, email string) (string, error)
	InitiateDomainVerification(ctx context.Context, dom string) (string, []domain.DNSRecord, error)
	PollVerificationStatus(ctx context.Context, identity string) (domain.VerificationStatus, string, error)
	DeleteIdentity(ctx context.Context, identity string) error
}

// EventPublisher emits fire-and-forget domain events.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, detail interface{}) error
}
