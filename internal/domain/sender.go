package domain

import (
	"fmt"
	"strings"
	"time"
)

// VerificationType says how a sender proves ownership of its address.
type VerificationType string

const (
	VerificationTypeMailbox VerificationType = "mailbox"
	VerificationTypeDomain  VerificationType = "domain"
)

// ParseVerificationType maps a wire-format string to a VerificationType.
// Unrecognized values are rejected rather than passed through.
func ParseVerificationType(s string) (VerificationType, error) {
	switch VerificationType(strings.ToLower(s)) {
	case VerificationTypeMailbox:
		return VerificationTypeMailbox, nil
	case VerificationTypeDomain:
		return VerificationTypeDomain, nil
	default:
		return "", fmt.Errorf("unknown verification type %q: %w", s, ErrBadRequest)
	}
}

// VerificationStatus is the state of a verification attempt.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
	StatusTimedOut VerificationStatus = "verification_timed_out"
)

// ParseVerificationStatus maps a wire-format string to a VerificationStatus.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	switch VerificationStatus(strings.ToLower(s)) {
	case StatusPending:
		return StatusPending, nil
	case StatusVerified:
		return StatusVerified, nil
	case StatusFailed:
		return StatusFailed, nil
	case StatusTimedOut:
		return StatusTimedOut, nil
	default:
		return "", fmt.Errorf("unknown verification status %q: %w", s, ErrBadRequest)
	}
}

// Terminal reports whether the status ends a verification attempt.
// Terminal states can only be left through an explicit re-verify.
func (s VerificationStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// ValidateStatusTransition enforces the verification state machine:
// pending may move to any terminal state, re-applying the current status
// is a no-op, everything else conflicts. The terminal → pending reset is
// deliberately not expressible here; only the re-verify operation may do it.
func ValidateStatusTransition(from, to VerificationStatus) error {
	switch {
	case from == to:
		return nil
	case from == StatusPending && to.Terminal():
		return nil
	default:
		return fmt.Errorf("verification status cannot move from %q to %q: %w", from, to, ErrConflict)
	}
}

// Sender is a tenant-owned identity permitted to send email on the tenant's behalf.
type Sender struct {
	SenderID             string             `json:"senderId" dynamodbav:"sender_id"`
	TenantID             string             `json:"tenantId" dynamodbav:"tenant_id"`
	Email                string             `json:"email" dynamodbav:"email"`
	Name                 string             `json:"name,omitempty" dynamodbav:"name"`
	VerificationType     VerificationType   `json:"verificationType" dynamodbav:"verification_type"`
	VerificationStatus   VerificationStatus `json:"verificationStatus" dynamodbav:"verification_status"`
	IsDefault            bool               `json:"isDefault" dynamodbav:"is_default"`
	Domain               string             `json:"domain,omitempty" dynamodbav:"domain"`
	ProviderIdentity     string             `json:"providerIdentity,omitempty" dynamodbav:"provider_identity"`
	EmailsSent           int64              `json:"emailsSent" dynamodbav:"emails_sent"`
	LastSentAt           *time.Time         `json:"lastSentAt,omitempty" dynamodbav:"last_sent_at"`
	FailureReason        string             `json:"failureReason,omitempty" dynamodbav:"failure_reason"`
	LastVerificationSent *time.Time         `json:"lastVerificationSent,omitempty" dynamodbav:"last_verification_sent"`
	CreatedAt            time.Time          `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt            time.Time          `json:"updatedAt" dynamodbav:"updated_at"`
	VerifiedAt           *time.Time         `json:"verifiedAt,omitempty" dynamodbav:"verified_at"`
}

type CreateSenderRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Name             string `json:"name" validate:"max=100"`
	VerificationType string `json:"verificationType" validate:"required"`
}

// UpdateSenderRequest carries the mutable sender fields. Email, domain and
// verificationType are listed so that an attempt to change them can be
// rejected explicitly instead of being silently ignored.
type UpdateSenderRequest struct {
	Name      *string `json:"name" validate:"omitempty,max=100"`
	IsDefault *bool   `json:"isDefault"`

	Email            *string `json:"email"`
	VerificationType *string `json:"verificationType"`
	Domain           *string `json:"domain"`
}

// TenantMeta is the per-tenant aggregate row. The stored sender count is the
// serialization point for optimistic creation checks: the decisive create
// write is conditioned on the count observed before it, so racing requests at
// the quota or first-default boundary lose with a conflict.
type TenantMeta struct {
	TenantID    string    `json:"tenantId" dynamodbav:"tenant_id"`
	SenderCount int       `json:"senderCount" dynamodbav:"sender_count"`
	UpdatedAt   time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// EmailDomain returns the part of the address after the last '@', lowercased.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
