// Package paystack reads the webhook notifications sent by Paystack.
package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core/billing"
)

const (
	Provider        = "paystack"
	SignatureHeader = "X-Paystack-Signature"
)

var (
	ErrInvalidSignature = errors.New("invalid paystack signature")
	ErrInvalidPayload   = errors.New("invalid paystack payload")
)

type (
	payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string    `json:"reference"`
			Status    string    `json:"status"`
			PaidAt    time.Time `json:"paid_at"`
			Amount    int64     `json:"amount"`
			Currency  string    `json:"currency"`
			Customer  struct {
				Email string `json:"email"`
			} `json:"customer"`
			// subscription events carry the code of the recurring subscription instead of a reference
			SubscriptionCode string `json:"subscription_code"`
		} `json:"data"`
	}
)

// Sign returns the signature Paystack sends along body: hex(HMAC-SHA512(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header of a webhook request body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent reads a webhook request body.
func ParseEvent(body []byte) (billing.Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return billing.Event{}, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if p.Event == "" {
		return billing.Event{}, errors.Wrap(ErrInvalidPayload, "missing event")
	}

	return billing.Event{
		Provider:         Provider,
		Name:             p.Event,
		Reference:        strings.TrimSpace(p.Data.Reference),
		SubscriptionCode: strings.TrimSpace(p.Data.SubscriptionCode),
		Status:           p.Data.Status,
		PaidAt:           p.Data.PaidAt.UTC(),
		Amount:           p.Data.Amount,
		Currency:         p.Data.Currency,
		CustomerEmail:    strings.ToLower(strings.TrimSpace(p.Data.Customer.Email)),
	}, nil
}
