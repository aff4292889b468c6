// Package models contains the domain structures for user accounts,
// entitlements and campaign codes.
package models

import "time"

// SubscriptionStatus is the lifecycle state of a user's entitlement.
type SubscriptionStatus string

const (
	// StatusNone is the implicit state of a fresh account.
	StatusNone SubscriptionStatus = "none"
	// StatusTrial is a time-boxed free trial.
	StatusTrial SubscriptionStatus = "trial"
	// StatusActive is a paid (or campaign-funded) subscription.
	StatusActive SubscriptionStatus = "active"
	// StatusPastDue is an active subscription with a failed renewal charge.
	StatusPastDue SubscriptionStatus = "past_due"
	// StatusCanceled is a user- or provider-terminated subscription.
	StatusCanceled SubscriptionStatus = "canceled"
	// StatusExpired is a trial that ran out without conversion.
	StatusExpired SubscriptionStatus = "expired"
)

// Entitlement is the persisted subscription record of a single user.
// It is created implicitly with StatusNone at registration and only
// ever transitioned, never deleted.
type Entitlement struct {
	UserUID                string
	Status                 SubscriptionStatus
	TrialStartedAt         *time.Time
	TrialEndsAt            *time.Time
	AutoRenew              bool
	ExternalSubscriptionID *string
	PaidThrough            *time.Time
	LastVerifiedAt         *time.Time
}

// StatusView is the derived, user-visible subscription state.
// DaysRemaining is set only while the status is trial.
type StatusView struct {
	Status        SubscriptionStatus `json:"status"`
	DaysRemaining *int               `json:"days_remaining,omitempty"`
}

// EntitlementEvent is published to the notification exchange after a
// successful entitlement transition.
type EntitlementEvent struct {
	UserUID    string             `json:"user_uid"`
	Status     SubscriptionStatus `json:"status"`
	Reason     string             `json:"reason"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// WebhookEvent is the payload pushed by the card-payment provider.
type WebhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID        string            `json:"id"`
		Status    string            `json:"status"`
		PeriodEnd time.Time         `json:"period_end"`
		AutoRenew bool              `json:"auto_renew"`
		Metadata  map[string]string `json:"metadata"`
	} `json:"object"`
}
