// Package payments reconciles asynchronous payment-provider webhooks with
// the workflow engine's payment records.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign computes the webhook signature: HMAC-SHA256 over the event fields
// serialized as key=value pairs joined with "&", keys sorted, the sign field
// itself excluded. This is the scheme the payment provider signs with.
func Sign(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook's sign field in constant time.
func VerifySignature(fields map[string]string, secret string) bool {
	provided, ok := fields["sign"]
	if !ok || provided == "" {
		return false
	}
	expected := Sign(fields, secret)
	return hmac.Equal([]byte(provided), []byte(expected))
}
