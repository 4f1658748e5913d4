package domain

import "time"

// DNSRecord is one record a tenant must publish to prove domain ownership.
type DNSRecord struct {
	Name        string `json:"name" dynamodbav:"name"`
	Type        string `json:"type" dynamodbav:"type"`
	Value       string `json:"value" dynamodbav:"value"`
	Description string `json:"description" dynamodbav:"description"`
}

// DomainVerificationRecord tracks DNS-based verification of a domain shared
// by the tenant's senders on that domain. The DNS record set is immutable for
// a given attempt; a re-issue replaces the whole record in a single write.
type DomainVerificationRecord struct {
	Domain             string             `json:"domain" dynamodbav:"domain"`
	TenantID           string             `json:"tenantId" dynamodbav:"tenant_id"`
	VerificationStatus VerificationStatus `json:"verificationStatus" dynamodbav:"verification_status"`
	DNSRecords         []DNSRecord        `json:"dnsRecords" dynamodbav:"dns_records"`
	ProviderIdentity   string             `json:"providerIdentity,omitempty" dynamodbav:"provider_identity"`
	CreatedAt          time.Time          `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt          time.Time          `json:"updatedAt" dynamodbav:"updated_at"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty" dynamodbav:"verified_at"`
}
