package ledger

import (
	"errors"
	"strings"
)

// RPCError is a structured error returned by the network's RPC layer.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// RPC error codes with meaning to the broadcast pipeline.
const (
	codeAlreadyProcessed = -32002
	codeNodeBehind       = -32005
	codeRateLimited      = -32000
	codeTxTimeout        = -32008
)

// alreadyProcessedPatterns match the human-readable error text some
// network clients return for a duplicate submission. Substring matching
// is fragile; the typed code path above is preferred and these exist
// only as a fallback. Kept in one place so a structured contract can
// replace them without touching callers.
var alreadyProcessedPatterns = []string{
	"already processed",
	"alreadyprocessed",
	"already been processed",
}

// IsAlreadyProcessed reports whether err indicates the exact
// transaction was previously accepted by the network. This is the
// idempotent-submission signal: callers treat it as success, not as an
// error.
func IsAlreadyProcessed(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeAlreadyProcessed {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range alreadyProcessedPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err looks transient (rate limiting,
// connectivity loss, node lag) and is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeRateLimited, codeNodeBehind, codeTxTimeout:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"network",
		"too many requests",
		"rate limit",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
