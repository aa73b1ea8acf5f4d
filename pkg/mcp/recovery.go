package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how to handle a remote tool-call failure.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable (bad request, auth failure,
	// timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession — transient error, retry on the existing session.
	RetrySameSession
	// RetryNewSession — transport failure, recreate the session first.
	RetryNewSession
)

const (
	// InitTimeout is the per-server deadline for transport creation plus
	// the protocol handshake.
	InitTimeout = 30 * time.Second

	// ReinitTimeout is the deadline for recreating a session during
	// recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and
	// ListTools. Some tools are legitimately slow.
	OperationTimeout = 90 * time.Second

	// RetryBackoffMin and RetryBackoffMax bound the jittered backoff
	// before the single retry attempt.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

// ClassifyError determines the recovery action for a failed call.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// Could be a slow server; re-running the call may double
			// its side effects.
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	if isProtocolError(err) {
		return NoRetry
	}

	// Unknown errors are not safe to retry.
	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// isProtocolError detects JSON-RPC level errors from the SDK; these are
// client-side mistakes and never retryable.
func isProtocolError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
