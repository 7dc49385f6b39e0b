package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureVerifier_Verify(t *testing.T) {
	v := SignatureVerifier{}
	secret := "rzp_test_secret"
	payload := CheckoutPayload("order_abc", "pay_xyz")
	good := v.Sign(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid", payload, good, secret, true},
		{"valid with surrounding whitespace", payload, " " + good + "\n", secret, true},
		{"wrong secret", payload, good, "other", false},
		{"tampered payment id", CheckoutPayload("order_abc", "pay_other"), good, secret, false},
		{"swapped order", CheckoutPayload("pay_xyz", "order_abc"), good, secret, false},
		{"not hex", payload, "zz-not-hex", secret, false},
		{"truncated", payload, good[:10], secret, false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, good, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Verify(tt.payload, tt.signature, tt.secret))
		})
	}
}

// TestSignatureVerifier_KnownVector pins the wire format against a digest
// computed independently (echo -n 'order_1|pay_1' | openssl dgst -sha256 -hmac secret).
func TestSignatureVerifier_KnownVector(t *testing.T) {
	v := SignatureVerifier{}
	const want = "52115a0d3400de9e86aade1f1b6eba9e8974604f4e267a9e9a16633a4c8dd2cb"
	assert.Equal(t, want, v.Sign([]byte("order_1|pay_1"), "secret"))
	assert.True(t, v.Verify(CheckoutPayload("order_1", "pay_1"), want, "secret"))
}

func TestCheckoutPayload(t *testing.T) {
	assert.Equal(t, "order_1|pay_1", string(CheckoutPayload("order_1", "pay_1")))
}
