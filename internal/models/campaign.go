package models

import "time"

// CampaignCode is a catalog entry for a promotional code. MaxUses <= 0
// means unlimited.
type CampaignCode struct {
	Code        string
	Description string
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	MaxUses     int
	UsedCount   int
	IsActive    bool
}

// CampaignRedemption is an append-only ledger entry recording that a
// user redeemed a code. Its existence is the idempotency guard.
type CampaignRedemption struct {
	UserUID    string
	Code       string
	RedeemedAt time.Time
}
