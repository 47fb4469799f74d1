// internal/payments/signature_test.go
package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignIsOrderIndependent(t *testing.T) {
	secret := "test-secret"
	a := map[string]string{"mch_order_no": "tx-1", "result": "SUCCESS", "amount": "5000"}
	b := map[string]string{"amount": "5000", "mch_order_no": "tx-1", "result": "SUCCESS"}

	assert.Equal(t, Sign(a, secret), Sign(b, secret))
}

func TestSignExcludesSignField(t *testing.T) {
	secret := "test-secret"
	without := map[string]string{"mch_order_no": "tx-1", "result": "SUCCESS"}
	with := map[string]string{"mch_order_no": "tx-1", "result": "SUCCESS", "sign": "whatever"}

	assert.Equal(t, Sign(without, secret), Sign(with, secret))
}

func TestVerifySignature(t *testing.T) {
	secret := "test-secret"
	fields := map[string]string{"mch_order_no": "tx-1", "result": "SUCCESS"}
	fields["sign"] = Sign(fields, secret)

	assert.True(t, VerifySignature(fields, secret))
	assert.False(t, VerifySignature(fields, "wrong-secret"))

	fields["sign"] = "forged"
	assert.False(t, VerifySignature(fields, secret))

	delete(fields, "sign")
	assert.False(t, VerifySignature(fields, secret))
}
