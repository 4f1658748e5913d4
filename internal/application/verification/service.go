package verification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sender-api/internal/domain"
)

// Event types published on verification outcomes.
const (
	EventSenderVerified = "sender.verified"
	EventDomainVerified = "domain.verified"
)

// Service owns the verification status state machine: polling the provider,
// applying transitions, propagating a domain's status to every dependent
// sender, and re-issuing attempts.
type Service interface {
	Poll(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	Reverify(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	GetDomain(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error)
	DeleteDomain(ctx context.Context, tenantID, dom string) error
}

type senderStore interface {
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Sender, error)
	UpdateConditional(ctx context.Context, tenantID, senderID string, updates map[string]interface{}, condField string, condValue interface{}) error
}

type domainStore interface {
	Upsert(ctx context.Context, rec *domain.DomainVerificationRecord) error
	Get(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error)
	UpdateConditional(ctx context.Context, tenantID, dom string, updates map[string]interface{}, condField string, condValue interface{}) error
	Delete(ctx context.Context, tenantID, dom string) error
}

type verifier interface {
	InitiateMailboxVerification(ctx context.Context, email string) (string, error)
	InitiateDomainVerification(ctx context.Context, dom string) (string, []domain.DNSRecord, error)
	PollVerificationStatus(ctx context.Context, identity string) (domain.VerificationStatus, string, error)
	DeleteIdentity(ctx context.Context, identity string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, eventType string, detail interface{}) error
}

// DynamoDB attribute names used in partial update maps.
const (
	fieldVerificationStatus   = "verification_status"
	fieldVerifiedAt           = "verified_at"
	fieldFailureReason        = "failure_reason"
	fieldProviderIdentity     = "provider_identity"
	fieldLastVerificationSent = "last_verification_sent"
)

type service struct {
	senders  senderStore
	domains  domainStore
	verifier verifier
	events   eventPublisher
	timeout  time.Duration
}

type ServiceDeps struct {
	SenderRepo senderStore
	DomainRepo domainStore
	Verifier   verifier
	Events     eventPublisher
	// VerificationTimeout is the window after which an unresolved attempt
	// is reported as timed out on poll. Deployment configuration, never
	// hardcoded here.
	VerificationTimeout time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		senders:  deps.SenderRepo,
		domains:  deps.DomainRepo,
		verifier: deps.Verifier,
		events:   deps.Events,
		timeout:  deps.VerificationTimeout,
	}
}

// Poll asks the provider for the current state of a pending attempt and
// applies the resulting transition. Polling a resolved sender is a no-op.
func (s *service) Poll(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	snd, err := s.senders.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, err
	}
	if snd.VerificationStatus != domain.StatusPending {
		return snd, nil
	}
	if snd.ProviderIdentity == "" {
		return nil, fmt.Errorf("verification was never initiated for this sender; re-verify first: %w", domain.ErrBadRequest)
	}

	status, reason, err := s.verifier.PollVerificationStatus(ctx, snd.ProviderIdentity)
	if err != nil {
		return nil, fmt.Errorf("polling verification status: %w", domain.ErrInternal)
	}

	switch status {
	case domain.StatusVerified:
		return s.resolve(ctx, snd, domain.StatusVerified, "")
	case domain.StatusFailed:
		return s.resolve(ctx, snd, domain.StatusFailed, reason)
	default:
		if snd.LastVerificationSent != nil && s.timeout > 0 && time.Since(*snd.LastVerificationSent) > s.timeout {
			return s.resolve(ctx, snd, domain.StatusTimedOut, "verification not resolved within the allowed window")
		}
		return snd, nil
	}
}

// resolve applies a terminal status. For domain senders the shared record
// transitions first and the status then propagates to every dependent sender.
func (s *service) resolve(ctx context.Context, snd *domain.Sender, to domain.VerificationStatus, reason string) (*domain.Sender, error) {
	if snd.VerificationType == domain.VerificationTypeDomain {
		if err := s.propagateDomainStatus(ctx, snd.TenantID, snd.Domain, to, reason); err != nil {
			return nil, err
		}
	} else {
		if err := s.transitionSender(ctx, snd, to, reason); err != nil {
			return nil, err
		}
		if to == domain.StatusVerified {
			s.publish(ctx, EventSenderVerified, snd)
		}
	}
	return s.senders.Get(ctx, snd.TenantID, snd.SenderID)
}

// transitionSender moves one sender through the state machine with a write
// conditioned on the status it was read at. Re-applying the current status
// is a no-op, which is what makes propagation retries idempotent.
func (s *service) transitionSender(ctx context.Context, snd *domain.Sender, to domain.VerificationStatus, reason string) error {
	if snd.VerificationStatus == to {
		return nil
	}
	if err := domain.ValidateStatusTransition(snd.VerificationStatus, to); err != nil {
		return err
	}

	updates := map[string]interface{}{
		fieldVerificationStatus: to,
	}
	now := time.Now().UTC()
	switch to {
	case domain.StatusVerified:
		updates[fieldVerifiedAt] = now
		updates[fieldFailureReason] = ""
	case domain.StatusFailed, domain.StatusTimedOut:
		updates[fieldFailureReason] = reason
	}
	if err := s.senders.UpdateConditional(ctx, snd.TenantID, snd.SenderID, updates, fieldVerificationStatus, snd.VerificationStatus); err != nil {
		return err
	}
	snd.VerificationStatus = to
	if to == domain.StatusVerified {
		snd.VerifiedAt = &now
		snd.FailureReason = ""
	} else {
		snd.FailureReason = reason
	}
	return nil
}

// propagateDomainStatus transitions the shared domain record and then every
// sender on that domain. Each sender update is independently conditioned, so
// a partial failure is recoverable: resubmitting the same request completes
// the remainder and already-updated senders are skipped.
func (s *service) propagateDomainStatus(ctx context.Context, tenantID, dom string, to domain.VerificationStatus, reason string) error {
	rec, err := s.domains.Get(ctx, tenantID, dom)
	if err != nil {
		return err
	}
	if rec.VerificationStatus != to {
		if err := domain.ValidateStatusTransition(rec.VerificationStatus, to); err != nil {
			return err
		}
		updates := map[string]interface{}{
			fieldVerificationStatus: to,
		}
		if to == domain.StatusVerified {
			updates[fieldVerifiedAt] = time.Now().UTC()
		}
		if err := s.domains.UpdateConditional(ctx, tenantID, dom, updates, fieldVerificationStatus, rec.VerificationStatus); err != nil {
			return err
		}
		if to == domain.StatusVerified {
			s.publish(ctx, EventDomainVerified, rec)
		}
	}

	all, err := s.senders.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	var incomplete int
	for i := range all {
		if all[i].Domain != dom {
			continue
		}
		was := all[i].VerificationStatus
		if err := s.transitionSender(ctx, &all[i], to, reason); err != nil {
			incomplete++
			log.Printf("WARN: propagating %s to sender %s: %v", to, all[i].SenderID, err)
			continue
		}
		if to == domain.StatusVerified && was != to {
			s.publish(ctx, EventSenderVerified, &all[i])
		}
	}
	if incomplete > 0 {
		return fmt.Errorf("status propagation incomplete for %d sender(s), retry the request: %w", incomplete, domain.ErrInternal)
	}
	return nil
}

// Reverify re-issues the verification attempt, the only way out of a
// terminal state. Domain senders get a regenerated DNS record set and every
// sender on the domain resets to pending.
func (s *service) Reverify(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	snd, err := s.senders.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if snd.VerificationType == domain.VerificationTypeDomain {
		if err := s.reissueDomain(ctx, snd, now); err != nil {
			return nil, err
		}
	} else {
		ref, vErr := s.verifier.InitiateMailboxVerification(ctx, snd.Email)
		if vErr != nil {
			return nil, fmt.Errorf("initiating mailbox verification: %w", domain.ErrInternal)
		}
		if err := s.resetSender(ctx, snd, ref, now); err != nil {
			return nil, err
		}
	}
	return s.senders.Get(ctx, tenantID, senderID)
}

func (s *service) reissueDomain(ctx context.Context, snd *domain.Sender, now time.Time) error {
	ref, records, err := s.verifier.InitiateDomainVerification(ctx, snd.Domain)
	if err != nil {
		return fmt.Errorf("initiating domain verification: %w", domain.ErrInternal)
	}

	createdAt := now
	if rec, gErr := s.domains.Get(ctx, snd.TenantID, snd.Domain); gErr == nil {
		createdAt = rec.CreatedAt
	}
	// Whole-record replace: the new DNS record set appears atomically.
	fresh := &domain.DomainVerificationRecord{
		Domain:             snd.Domain,
		TenantID:           snd.TenantID,
		VerificationStatus: domain.StatusPending,
		DNSRecords:         records,
		ProviderIdentity:   ref,
		CreatedAt:          createdAt,
		UpdatedAt:          now,
	}
	if err := s.domains.Upsert(ctx, fresh); err != nil {
		return err
	}

	all, err := s.senders.ListByTenant(ctx, snd.TenantID)
	if err != nil {
		return err
	}
	var incomplete int
	for i := range all {
		if all[i].Domain != snd.Domain {
			continue
		}
		if err := s.resetSender(ctx, &all[i], ref, now); err != nil {
			incomplete++
			log.Printf("WARN: resetting sender %s to pending: %v", all[i].SenderID, err)
		}
	}
	if incomplete > 0 {
		return fmt.Errorf("re-verify incomplete for %d sender(s), retry the request: %w", incomplete, domain.ErrInternal)
	}
	return nil
}

// resetSender returns a sender to pending with a fresh attempt timestamp,
// conditioned on the status it was read at.
func (s *service) resetSender(ctx context.Context, snd *domain.Sender, ref string, now time.Time) error {
	updates := map[string]interface{}{
		fieldVerificationStatus:   domain.StatusPending,
		fieldProviderIdentity:     ref,
		fieldLastVerificationSent: now,
		fieldFailureReason:        "",
		fieldVerifiedAt:           nil,
	}
	return s.senders.UpdateConditional(ctx, snd.TenantID, snd.SenderID, updates, fieldVerificationStatus, snd.VerificationStatus)
}

func (s *service) GetDomain(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error) {
	return s.domains.Get(ctx, tenantID, dom)
}

// DeleteDomain removes the verification record once no sender references the
// domain. Reference counting is implicit: the tenant's sender list is
// re-queried at the time of deletion.
func (s *service) DeleteDomain(ctx context.Context, tenantID, dom string) error {
	all, err := s.senders.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	var inUse int
	for i := range all {
		if all[i].Domain == dom {
			inUse++
		}
	}
	if inUse > 0 {
		return fmt.Errorf("domain %s is still used by %d sender(s): %w", dom, inUse, domain.ErrConflict)
	}

	rec, err := s.domains.Get(ctx, tenantID, dom)
	if err != nil {
		return err
	}
	if err := s.domains.Delete(ctx, tenantID, dom); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if rec.ProviderIdentity != "" {
		if err := s.verifier.DeleteIdentity(ctx, rec.ProviderIdentity); err != nil {
			log.Printf("WARN: deleting provider identity %s: %v", rec.ProviderIdentity, err)
		}
	}
	return nil
}

// publish emits a verification event. Emission is best effort: failures are
// logged and never surface as request failures.
func (s *service) publish(ctx context.Context, eventType string, detail interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, detail); err != nil {
		log.Printf("WARN: publishing %s event: %v", eventType, err)
	}
}
