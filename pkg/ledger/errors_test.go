package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAlreadyProcessed(t *testing.T) {
	t.Run("Typed code", func(t *testing.T) {
		assert.True(t, IsAlreadyProcessed(&RPCError{Code: codeAlreadyProcessed, Message: "Transaction simulation failed"}))
		assert.True(t, IsAlreadyProcessed(fmt.Errorf("sendTransaction: %w", &RPCError{Code: codeAlreadyProcessed})))
	})

	t.Run("Message patterns", func(t *testing.T) {
		assert.True(t, IsAlreadyProcessed(errors.New("This transaction has already been processed")))
		assert.True(t, IsAlreadyProcessed(errors.New("Transaction already processed")))
		assert.True(t, IsAlreadyProcessed(errors.New("AlreadyProcessed")))
	})

	t.Run("Negative", func(t *testing.T) {
		assert.False(t, IsAlreadyProcessed(nil))
		assert.False(t, IsAlreadyProcessed(errors.New("blockhash not found")))
		assert.False(t, IsAlreadyProcessed(&RPCError{Code: codeRateLimited, Message: "too many requests"}))
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("Typed codes", func(t *testing.T) {
		assert.True(t, IsRetryable(&RPCError{Code: codeRateLimited}))
		assert.True(t, IsRetryable(&RPCError{Code: codeNodeBehind}))
		assert.True(t, IsRetryable(&RPCError{Code: codeTxTimeout}))
		assert.False(t, IsRetryable(&RPCError{Code: codeAlreadyProcessed}))
	})

	t.Run("Message patterns", func(t *testing.T) {
		assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
		assert.True(t, IsRetryable(errors.New("request timeout exceeded")))
		assert.True(t, IsRetryable(errors.New("429 Too Many Requests")))
	})

	t.Run("Negative", func(t *testing.T) {
		assert.False(t, IsRetryable(nil))
		assert.False(t, IsRetryable(errors.New("signature verification failure")))
	})
}
