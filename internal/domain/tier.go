package domain

// Subscription tier identifiers.
const (
	TierFree    = "free-tier"
	TierCreator = "creator-tier"
	TierPro     = "pro-tier"
)

// TierLimits is the resolved quota and capability set for a tenant's tier.
// Derived on demand, never persisted.
type TierLimits struct {
	Tier          string `json:"tier"`
	MaxSenders    int    `json:"maxSenders"`
	CurrentCount  int    `json:"currentCount"`
	CanUseDNS     bool   `json:"canUseDNS"`
	CanUseMailbox bool   `json:"canUseMailbox"`
}

// ResolveLimits maps a tier identifier to its quota and capabilities.
// Unknown tiers fall back to free-tier capabilities but keep the input
// tier label so callers can display what the tenant is actually on.
func ResolveLimits(tier string, currentCount int) TierLimits {
	limits := TierLimits{Tier: tier, CurrentCount: currentCount}
	switch tier {
	case TierCreator:
		limits.MaxSenders = 2
		limits.CanUseDNS = true
		limits.CanUseMailbox = true
	case TierPro:
		limits.MaxSenders = 5
		limits.CanUseDNS = true
		limits.CanUseMailbox = true
	default:
		limits.MaxSenders = 1
		limits.CanUseDNS = false
		limits.CanUseMailbox = true
	}
	return limits
}
