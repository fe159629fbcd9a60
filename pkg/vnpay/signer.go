/**
 * @description
 * HMAC-SHA512 signing and verification for VNPay messages. The gateway uses
 * one hash secret across several message shapes that differ only in how the
 * canonical string is assembled, so the primitive is parameterized by a
 * SigningConvention instead of being duplicated per entry point.
 *
 * @notes
 * - Digests are emitted as lowercase hex; verification is case-insensitive
 *   because the gateway has been observed sending both cases.
 * - Verification failure is a boolean outcome, not an error. The state
 *   machine decides what to do with an unverified callback.
 */

package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SigningConvention describes how a canonical string is assembled for one of
// the gateway's message shapes.
type SigningConvention struct {
	// Separator joins key=value pairs ("&" for pay/callback messages).
	Separator string
	// ExcludedFields are stripped from inbound parameter sets before the
	// signature is re-derived (the signature itself is never part of the
	// signed message).
	ExcludedFields []string
}

// PayConvention is the convention for the pay request and both callback
// channels: ampersand-joined, signature fields excluded.
var PayConvention = SigningConvention{
	Separator:      "&",
	ExcludedFields: []string{"vnp_SecureHash", "vnp_SecureHashType"},
}

// Sign computes the lowercase hex HMAC-SHA512 digest of message under secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature re-derives the signature of an inbound parameter set under
// conv and compares it to receivedSig. The excluded fields are stripped from
// a copy of params first. Comparison is constant-time and case-insensitive.
func VerifySignature(secret string, params Params, receivedSig string, conv SigningConvention) bool {
	if receivedSig == "" {
		return false
	}

	stripped := params.Clone()
	for _, field := range conv.ExcludedFields {
		delete(stripped, field)
	}

	expected := Sign(secret, stripped.HashData(conv.Separator))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(receivedSig)))
}
