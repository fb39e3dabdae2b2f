package paystack

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "sk_test_secret"

var chargeSuccess = []byte(`{
	"event": "charge.success",
	"data": {
		"reference": "msm_2Kx9Zl3p",
		"status": "success",
		"paid_at": "2026-03-01T10:15:00.000Z",
		"amount": 500000,
		"currency": "NGN",
		"customer": {"email": " Owner@School.test "}
	}
}`)

func TestVerifySignature(t *testing.T) {
	valid := Sign(testSecret, chargeSuccess)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		wantErr   bool
	}{
		{name: "valid", secret: testSecret, body: chargeSuccess, signature: valid},
		{name: "valid upper case hex", secret: testSecret, body: chargeSuccess, signature: strings.ToUpper(valid)},
		{name: "missing signature", secret: testSecret, body: chargeSuccess, wantErr: true},
		{name: "no secret configured", body: chargeSuccess, signature: valid, wantErr: true},
		{name: "other secret", secret: "sk_test_other", body: chargeSuccess, signature: valid, wantErr: true},
		{name: "tampered body", secret: testSecret, body: append([]byte(" "), chargeSuccess...), signature: valid, wantErr: true},
		{name: "not hex", secret: testSecret, body: chargeSuccess, signature: "zz-not-hex", wantErr: true},
		{name: "truncated", secret: testSecret, body: chargeSuccess, signature: valid[:64], wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, tt.body, tt.signature)
			if tt.wantErr {
				assert.Equal(t, ErrInvalidSignature, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(chargeSuccess)
	require.NoError(t, err)
	assert.Equal(t, Provider, ev.Provider)
	assert.Equal(t, "charge.success", ev.Name)
	assert.Equal(t, "msm_2Kx9Zl3p", ev.Reference)
	assert.Equal(t, "success", ev.Status)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), ev.PaidAt)
	assert.Equal(t, int64(500000), ev.Amount)
	assert.Equal(t, "NGN", ev.Currency)
	assert.Equal(t, "owner@school.test", ev.CustomerEmail)

	ev, err = ParseEvent([]byte(`{"event":"subscription.disable","data":{"subscription_code":"SUB_123","customer":{"email":"Owner@School.test"}}}`))
	require.NoError(t, err)
	assert.Empty(t, ev.Reference)
	assert.Equal(t, "SUB_123", ev.SubscriptionCode)
	assert.Equal(t, "SUB_123", ev.Key())
	assert.Equal(t, "owner@school.test", ev.CustomerEmail)
	assert.True(t, ev.PaidAt.IsZero())

	_, err = ParseEvent([]byte(`{"data":{}}`))
	assert.Equal(t, ErrInvalidPayload, errors.Cause(err))

	_, err = ParseEvent([]byte(`not json`))
	assert.Equal(t, ErrInvalidPayload, errors.Cause(err))
}
