// Package receipt implements structural validation of app-store receipt
// tokens before they are sent to the billing provider. A token has the
// JWS shape header.payload.signature; the payload is base64url JSON
// carrying the purchase claims. Malformed or locally-expired tokens are
// rejected here without any network call.
package receipt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformed rejects a token without three non-empty dot-separated
	// segments or with an undecodable payload.
	ErrMalformed = errors.New("malformed receipt token")
	// ErrExpired rejects a token whose embedded expiry is in the past.
	ErrExpired = errors.New("receipt token expired")
)

// Claims are the purchase fields embedded in the receipt payload.
// ExpiresAt is unix seconds.
type Claims struct {
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
	ExpiresAt     int64  `json:"expires_at"`
}

// Parse splits and decodes a receipt token and checks its embedded
// expiry against now. The signature segment is not verified locally;
// that is the provider's job.
func Parse(token string, now time.Time) (*Claims, error) {
	const op = "receipt.Parse"

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%s: %w: expected 3 segments, got %d", op, ErrMalformed, len(segments))
	}
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%s: %w: empty segment", op, ErrMalformed)
		}
	}

	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformed, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformed, err)
	}

	if claims.ExpiresAt > 0 && time.Unix(claims.ExpiresAt, 0).Before(now) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}
	return &claims, nil
}
