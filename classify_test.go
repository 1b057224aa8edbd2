package faucet

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"go-faucet/chain"
)

func TestClassifyBroadcastError(t *testing.T) {
	tests := []struct {
		msg  string
		want BroadcastErrorKind
	}{
		{"already known", BroadcastErrorAlreadyKnown},
		{"Known transaction: 0xabc", BroadcastErrorAlreadyKnown},
		{"replacement transaction underpriced", BroadcastErrorReplacementUnderpriced},
		{"Could not replace existing tx", BroadcastErrorReplacementUnderpriced},
		{"nonce too low: next nonce 12, tx nonce 11", BroadcastErrorNonceTooLow},
		{"NONCE TOO LOW", BroadcastErrorNonceTooLow},
		{"insufficient funds for gas * price + value", BroadcastErrorOther},
		{"execution reverted", BroadcastErrorOther},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := ClassifyBroadcastError(errors.New(tt.msg))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != BroadcastErrorOther, got.IsCollision())
		})
	}
}

func TestClassifyBroadcastError_Wrapped(t *testing.T) {
	err := &chain.Error{Op: "sendRawTransaction", Err: errors.New("already known")}
	assert.Equal(t, BroadcastErrorAlreadyKnown, ClassifyBroadcastError(errors.Wrap(err, "broadcast")))
	assert.Equal(t, BroadcastErrorOther, ClassifyBroadcastError(nil))
	assert.Equal(t, "nonce_too_low", BroadcastErrorNonceTooLow.String())
}
