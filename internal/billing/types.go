package billing

import "time"

// CreateCycleRequest is the request to open a subscription cycle for a
// user. Free cycles carry a zero amount and the campaign code in
// metadata.
type CreateCycleRequest struct {
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CycleConfirmation is the provider's confirmation of an opened cycle.
type CycleConfirmation struct {
	SubscriptionID string    `json:"id"`
	Status         string    `json:"status"`
	PeriodEnd      time.Time `json:"period_end"`
}

// VerifyReceiptRequest is the request to verify a store receipt.
type VerifyReceiptRequest struct {
	Platform string `json:"platform"`
	Receipt  string `json:"receipt"`
}

// ReceiptConfirmation is the provider's verdict on a receipt.
type ReceiptConfirmation struct {
	SubscriptionID string    `json:"subscription_id"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
	AutoRenew      bool      `json:"auto_renew"`
}
