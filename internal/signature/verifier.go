/**
 * @description
 * This package implements signature verification for payment gateway
 * notifications. Each gateway signs its notifications differently, so the
 * package exposes one verification strategy per gateway, selected by the
 * explicit discriminator on the notification rather than by structural
 * guessing. Verification is pure: yes/no authenticity, no business state.
 *
 * Supported schemes:
 *   - Razorpay checkout: hex HMAC-SHA256 over "order_id|payment_id" keyed
 *     with the API key secret.
 *   - Razorpay webhook: hex HMAC-SHA256 over the raw request body keyed with
 *     the dedicated webhook secret.
 *   - PhonePe callback: SHA256(base64Body + saltKey) + "###" + saltIndex,
 *     carried in the X-VERIFY header.
 *
 * All comparisons are constant-time. A secret configured for one gateway is
 * never applied to another gateway's payload.
 */

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/techwave-ventures/payment-service/internal/domain"
)

// Verifier validates that a notification genuinely originated from the
// gateway it claims to come from.
type Verifier interface {
	Verify(n *domain.TransactionNotification) bool
}

// RazorpaySecrets holds the two independent signing secrets Razorpay uses.
type RazorpaySecrets struct {
	// KeySecret signs the synchronous checkout callback (order_id|payment_id).
	KeySecret string
	// WebhookSecret signs the raw body of server-to-server webhooks.
	WebhookSecret string
}

// PhonePeSecrets holds the salt key material for PhonePe X-VERIFY checksums.
type PhonePeSecrets struct {
	SaltKey   string
	SaltIndex string
}

// MultiVerifier dispatches to the correct per-gateway strategy.
type MultiVerifier struct {
	razorpay RazorpaySecrets
	phonepe  PhonePeSecrets
}

// NewMultiVerifier builds a verifier covering every integrated gateway.
func NewMultiVerifier(razorpay RazorpaySecrets, phonepe PhonePeSecrets) *MultiVerifier {
	return &MultiVerifier{razorpay: razorpay, phonepe: phonepe}
}

// Verify checks the notification's signature against the secret for its
// gateway and flow. An unconfigured secret or unknown gateway is a hard
// rejection: partial trust is never extended.
func (v *MultiVerifier) Verify(n *domain.TransactionNotification) bool {
	if n == nil || n.Signature == "" {
		return false
	}
	switch n.Gateway {
	case domain.GatewayRazorpay:
		if n.Flow == domain.FlowWebhook {
			return verifyHMACHex(n.SignedPayload, n.Signature, v.razorpay.WebhookSecret)
		}
		return verifyHMACHex(n.SignedPayload, n.Signature, v.razorpay.KeySecret)
	case domain.GatewayPhonePe:
		return verifyPhonePeChecksum(n.SignedPayload, n.Signature, v.phonepe)
	}
	return false
}

// RazorpayCheckoutPayload builds the canonical byte string Razorpay signs for
// the synchronous checkout verification flow.
func RazorpayCheckoutPayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

func verifyHMACHex(payload []byte, provided, secret string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	providedBytes, err := hex.DecodeString(strings.TrimSpace(provided))
	if err != nil {
		return false
	}
	return hmac.Equal(providedBytes, expected)
}

// verifyPhonePeChecksum validates a PhonePe X-VERIFY header. The payload here
// is the base64 response body exactly as received; PhonePe appends the salt
// key before hashing and suffixes the salt index after a "###" separator.
func verifyPhonePeChecksum(base64Body []byte, provided string, secrets PhonePeSecrets) bool {
	if secrets.SaltKey == "" {
		return false
	}
	sum := sha256.Sum256(append(append([]byte{}, base64Body...), []byte(secrets.SaltKey)...))
	expected := fmt.Sprintf("%s###%s", hex.EncodeToString(sum[:]), secrets.SaltIndex)
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(expected)) == 1
}
