// Package billing implements the HTTP client for the payment provider.
package billing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aistudyjp/entitlement-service/internal/errs"
)

// Client talks to the payment provider API with basic auth. Every
// mutating request carries a fresh Idempotence-Key.
type Client struct {
	shopID     string
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a provider client.
func NewClient(shopID, secretKey, apiURL string) *Client {
	return &Client{
		shopID:     shopID,
		secretKey:  secretKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	url := c.apiURL + path
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.New().String())
	return req, nil
}

// CreateFreeCycle opens a zero-amount subscription cycle for a
// campaign redemption and returns the provider's confirmation.
func (c *Client) CreateFreeCycle(ctx context.Context, userUID, campaignCode string) (*CycleConfirmation, error) {
	const op = "billing.CreateFreeCycle"

	var reqParams CreateCycleRequest
	reqParams.Amount.Value = "0.00"
	reqParams.Amount.Currency = "JPY"
	reqParams.Description = "campaign cycle"
	reqParams.Metadata = map[string]string{
		"user_uid":      userUID,
		"campaign_code": campaignCode,
	}

	req, err := c.newRequest(ctx, "POST", "/subscriptions", reqParams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, errs.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s: %w: status %s", op, errs.ErrStoreUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s: unexpected status: %s", op, resp.Status)
	}

	var confirmation CycleConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&confirmation); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &confirmation, nil
}

// VerifyReceipt asks the provider to verify a store receipt. A provider
// rejection maps to a verification failure, an outage to a retryable
// availability error.
func (c *Client) VerifyReceipt(ctx context.Context, platform, receipt string) (*ReceiptConfirmation, error) {
	const op = "billing.VerifyReceipt"

	req, err := c.newRequest(ctx, "POST", "/receipts/verify", VerifyReceiptRequest{
		Platform: platform,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, errs.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s: %w: status %s", op, errs.ErrStoreUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: status %s", op, errs.ErrVerificationFailed, resp.Status)
	}

	var confirmation ReceiptConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&confirmation); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &confirmation, nil
}
