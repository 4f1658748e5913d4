package sender

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-sender-api/internal/domain"
	"github.com/go-sender-api/internal/pkg/id"
)

// Event types published on sender lifecycle changes.
const (
	EventSenderCreated = "sender.created"
	EventSenderDeleted = "sender.deleted"
)

// Service is the sender lifecycle manager: creation gated by tier quota and
// capabilities, default-sender bookkeeping, updates restricted to mutable
// fields, and deletion with default promotion.
type Service interface {
	Create(ctx context.Context, tenantID, tier string, req domain.CreateSenderRequest) (*domain.Sender, error)
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	List(ctx context.Context, tenantID string) ([]domain.Sender, error)
	Limits(ctx context.Context, tenantID, tier string) (*domain.TierLimits, error)
	Update(ctx context.Context, tenantID, senderID string, req domain.UpdateSenderRequest) (*domain.Sender, error)
	Delete(ctx context.Context, tenantID, senderID string) error
}

type senderStore interface {
	GetMeta(ctx context.Context, tenantID string) (*domain.TenantMeta, error)
	Create(ctx context.Context, s *domain.Sender, observed *domain.TenantMeta) error
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Sender, error)
	Update(ctx context.Context, tenantID, senderID string, updates map[string]interface{}) error
	UpdateConditional(ctx context.Context, tenantID, senderID string, updates map[string]interface{}, condField string, condValue interface{}) error
	Delete(ctx context.Context, tenantID, senderID string) error
}

type domainStore interface {
	Upsert(ctx context.Context, rec *domain.DomainVerificationRecord) error
	Get(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error)
	Delete(ctx context.Context, tenantID, dom string) error
}

type verifier interface {
	InitiateMailboxVerification(ctx context.Context, email string) (string, error)
	InitiateDomainVerification(ctx context.Context, dom string) (string, []domain.DNSRecord, error)
	DeleteIdentity(ctx context.Context, identity string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, eventType string, detail interface{}) error
}

// DynamoDB attribute names used in partial update maps.
const (
	fieldName                 = "name"
	fieldIsDefault            = "is_default"
	fieldVerificationStatus   = "verification_status"
	fieldVerifiedAt           = "verified_at"
	fieldProviderIdentity     = "provider_identity"
	fieldLastVerificationSent = "last_verification_sent"
)

type service struct {
	senders  senderStore
	domains  domainStore
	verifier verifier
	events   eventPublisher
}

type ServiceDeps struct {
	SenderRepo senderStore
	DomainRepo domainStore
	Verifier   verifier
	Events     eventPublisher
}

func NewService(deps ServiceDeps) Service {
	return &service{
		senders:  deps.SenderRepo,
		domains:  deps.DomainRepo,
		verifier: deps.Verifier,
		events:   deps.Events,
	}
}

func (s *service) Create(ctx context.Context, tenantID, tier string, req domain.CreateSenderRequest) (*domain.Sender, error) {
	vt, err := domain.ParseVerificationType(req.VerificationType)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	dom := domain.EmailDomain(email)
	if dom == "" {
		return nil, fmt.Errorf("email has no domain part: %w", domain.ErrBadRequest)
	}

	// The tenant meta row is the serialization point for creation: quota and
	// default placement are decided from the count observed here, and the
	// decisive write below is conditioned on that same count. A racing create
	// that moved the count first makes this one lose with Conflict.
	meta, err := s.senders.GetMeta(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	count := 0
	if meta != nil {
		count = meta.SenderCount
	}
	limits := domain.ResolveLimits(tier, count)
	if limits.CurrentCount >= limits.MaxSenders {
		return nil, fmt.Errorf("sender limit of %d reached for %s: %w", limits.MaxSenders, limits.Tier, domain.ErrBadRequest)
	}
	if vt == domain.VerificationTypeDomain && !limits.CanUseDNS {
		return nil, fmt.Errorf("tier %s does not permit domain verification: %w", limits.Tier, domain.ErrUnauthorized)
	}
	if vt == domain.VerificationTypeMailbox && !limits.CanUseMailbox {
		return nil, fmt.Errorf("tier %s does not permit mailbox verification: %w", limits.Tier, domain.ErrUnauthorized)
	}

	existing, err := s.senders.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if strings.EqualFold(existing[i].Email, email) {
			return nil, fmt.Errorf("sender for %s already exists: %w", email, domain.ErrConflict)
		}
	}

	now := time.Now().UTC()
	snd := &domain.Sender{
		SenderID:           id.New(),
		TenantID:           tenantID,
		Email:              email,
		Name:               req.Name,
		VerificationType:   vt,
		VerificationStatus: domain.StatusPending,
		// The tenant's first sender is always the default. Creating further
		// senders never flips an existing default.
		IsDefault: count == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if vt == domain.VerificationTypeDomain {
		snd.Domain = dom
	}

	if err := s.senders.Create(ctx, snd, meta); err != nil {
		return nil, err
	}

	// The sender record stays persisted in pending state even when the
	// verification kickoff fails; a later re-verify picks it up.
	if vt == domain.VerificationTypeDomain {
		err = s.attachDomainVerification(ctx, snd, now)
	} else {
		err = s.initiateMailbox(ctx, snd, now)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventSenderCreated, snd)
	return snd, nil
}

func (s *service) initiateMailbox(ctx context.Context, snd *domain.Sender, now time.Time) error {
	ref, err := s.verifier.InitiateMailboxVerification(ctx, snd.Email)
	if err != nil {
		return fmt.Errorf("initiating mailbox verification: %w", domain.ErrInternal)
	}
	updates := map[string]interface{}{
		fieldProviderIdentity:     ref,
		fieldLastVerificationSent: now,
	}
	if err := s.senders.Update(ctx, snd.TenantID, snd.SenderID, updates); err != nil {
		return err
	}
	snd.ProviderIdentity = ref
	snd.LastVerificationSent = &now
	return nil
}

// attachDomainVerification binds the new sender to the tenant's shared
// verification record for its domain. An already verified domain is
// inherited without a fresh attempt; anything else re-issues the attempt
// and replaces the DNS record set atomically.
func (s *service) attachDomainVerification(ctx context.Context, snd *domain.Sender, now time.Time) error {
	rec, err := s.domains.Get(ctx, snd.TenantID, snd.Domain)
	if err == nil && rec.VerificationStatus == domain.StatusVerified {
		updates := map[string]interface{}{
			fieldVerificationStatus: domain.StatusVerified,
			fieldVerifiedAt:         now,
			fieldProviderIdentity:   rec.ProviderIdentity,
		}
		if err := s.senders.UpdateConditional(ctx, snd.TenantID, snd.SenderID, updates, fieldVerificationStatus, domain.StatusPending); err != nil {
			return err
		}
		snd.VerificationStatus = domain.StatusVerified
		snd.VerifiedAt = &now
		snd.ProviderIdentity = rec.ProviderIdentity
		return nil
	}
	if err != nil && !errorsIsNotFound(err) {
		return err
	}

	ref, records, vErr := s.verifier.InitiateDomainVerification(ctx, snd.Domain)
	if vErr != nil {
		return fmt.Errorf("initiating domain verification: %w", domain.ErrInternal)
	}

	fresh := &domain.DomainVerificationRecord{
		Domain:             snd.Domain,
		TenantID:           snd.TenantID,
		VerificationStatus: domain.StatusPending,
		DNSRecords:         records,
		ProviderIdentity:   ref,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if rec != nil {
		fresh.CreatedAt = rec.CreatedAt
	}
	if err := s.domains.Upsert(ctx, fresh); err != nil {
		return err
	}

	updates := map[string]interface{}{
		fieldProviderIdentity:     ref,
		fieldLastVerificationSent: now,
	}
	if err := s.senders.Update(ctx, snd.TenantID, snd.SenderID, updates); err != nil {
		return err
	}
	snd.ProviderIdentity = ref
	snd.LastVerificationSent = &now
	return nil
}

func (s *service) Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	return s.senders.Get(ctx, tenantID, senderID)
}

func (s *service) List(ctx context.Context, tenantID string) ([]domain.Sender, error) {
	return s.senders.ListByTenant(ctx, tenantID)
}

func (s *service) Limits(ctx context.Context, tenantID, tier string) (*domain.TierLimits, error) {
	existing, err := s.senders.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	limits := domain.ResolveLimits(tier, len(existing))
	return &limits, nil
}

func (s *service) Update(ctx context.Context, tenantID, senderID string, req domain.UpdateSenderRequest) (*domain.Sender, error) {
	if req.Email != nil || req.VerificationType != nil || req.Domain != nil {
		return nil, fmt.Errorf("email, verificationType and domain are immutable: %w", domain.ErrBadRequest)
	}

	snd, err := s.senders.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates[fieldName] = *req.Name
	}
	if req.IsDefault != nil {
		switch {
		case *req.IsDefault && !snd.IsDefault:
			if err := s.clearCurrentDefault(ctx, tenantID, senderID); err != nil {
				return nil, err
			}
			// Conditioned on still not being default, so two racing flips
			// cannot both win.
			if err := s.senders.UpdateConditional(ctx, tenantID, senderID, map[string]interface{}{fieldIsDefault: true}, fieldIsDefault, false); err != nil {
				return nil, err
			}
		case !*req.IsDefault && snd.IsDefault:
			return nil, fmt.Errorf("cannot unset the default sender; make another sender default instead: %w", domain.ErrBadRequest)
		}
	}

	if len(updates) > 0 {
		if err := s.senders.Update(ctx, tenantID, senderID, updates); err != nil {
			return nil, err
		}
	}
	return s.senders.Get(ctx, tenantID, senderID)
}

func (s *service) clearCurrentDefault(ctx context.Context, tenantID, exceptID string) error {
	all, err := s.senders.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].IsDefault && all[i].SenderID != exceptID {
			return s.senders.UpdateConditional(ctx, tenantID, all[i].SenderID, map[string]interface{}{fieldIsDefault: false}, fieldIsDefault, true)
		}
	}
	return nil
}

func (s *service) Delete(ctx context.Context, tenantID, senderID string) error {
	snd, err := s.senders.Get(ctx, tenantID, senderID)
	if err != nil {
		return err
	}

	all, err := s.senders.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	remaining := make([]domain.Sender, 0, len(all))
	for i := range all {
		if all[i].SenderID != senderID {
			remaining = append(remaining, all[i])
		}
	}

	// A tenant with senders always has exactly one default: deleting the
	// default promotes the earliest remaining sender. The promotion lands
	// before the row is removed, so a failed promotion leaves the sender in
	// place and the same DELETE can simply be retried; a retry after the
	// promotion already landed finds a default among the rest and skips it.
	if snd.IsDefault && len(remaining) > 0 && !hasDefault(remaining) {
		promote := remaining[0]
		for i := range remaining {
			if remaining[i].CreatedAt.Before(promote.CreatedAt) {
				promote = remaining[i]
			}
		}
		if err := s.senders.UpdateConditional(ctx, tenantID, promote.SenderID, map[string]interface{}{fieldIsDefault: true}, fieldIsDefault, false); err != nil {
			return err
		}
	}

	if err := s.senders.Delete(ctx, tenantID, senderID); err != nil {
		return err
	}

	switch snd.VerificationType {
	case domain.VerificationTypeDomain:
		// The shared record stays as long as any sender still uses the domain.
		inUse := false
		for i := range remaining {
			if remaining[i].Domain == snd.Domain {
				inUse = true
				break
			}
		}
		if !inUse {
			if err := s.domains.Delete(ctx, tenantID, snd.Domain); err != nil && !errorsIsNotFound(err) {
				return err
			}
			if snd.ProviderIdentity != "" {
				if err := s.verifier.DeleteIdentity(ctx, snd.ProviderIdentity); err != nil {
					log.Printf("WARN: deleting provider identity %s: %v", snd.ProviderIdentity, err)
				}
			}
		}
	case domain.VerificationTypeMailbox:
		if snd.ProviderIdentity != "" {
			if err := s.verifier.DeleteIdentity(ctx, snd.ProviderIdentity); err != nil {
				log.Printf("WARN: deleting provider identity %s: %v", snd.ProviderIdentity, err)
			}
		}
	}

	s.publish(ctx, EventSenderDeleted, snd)
	return nil
}

func hasDefault(senders []domain.Sender) bool {
	for i := range senders {
		if senders[i].IsDefault {
			return true
		}
	}
	return false
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// publish emits a lifecycle event. Emission is best effort: failures are
// logged and never surface as request failures.
func (s *service) publish(ctx context.Context, eventType string, detail interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, detail); err != nil {
		log.Printf("WARN: publishing %s event: %v", eventType, err)
	}
}
