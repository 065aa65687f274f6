package relay

import (
	"context"
	"time"
)

// ============================================================================
// Relay Hook Context Types
// ============================================================================

// RelayContext contains information passed to relay hooks
type RelayContext struct {
	Ctx             context.Context
	Authorization   Authorization
	Network         Network
	Timestamp       time.Time
	RequestMetadata map[string]interface{}
}

// RelayResultContext contains a finished relay and its context
type RelayResultContext struct {
	RelayContext
	Result   RelayResponse
	Duration time.Duration
}

// RelayFailureContext contains a failed relay and its context
type RelayFailureContext struct {
	RelayContext
	Error    error
	Result   *RelayResponse
	Duration time.Duration
}

// ============================================================================
// Relay Hook Result Types
// ============================================================================

// BeforeRelayHookResult represents the result of a "before" hook.
// If Abort is true, the relay is not submitted and fails with Reason.
type BeforeRelayHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Relay Hook Function Types
// ============================================================================

// BeforeRelayHook is called after validation and before submission.
// Returning Abort=true rejects the relay without spending gas.
type BeforeRelayHook func(RelayContext) (*BeforeRelayHookResult, error)

// AfterRelayHook is called after a confirmed relay.
// Any error returned is logged but does not affect the response.
type AfterRelayHook func(RelayResultContext) error

// OnRelayFailureHook is called when a relay fails, including on-chain reverts.
// Any error returned is logged but does not affect the response.
type OnRelayFailureHook func(RelayFailureContext) error

// RelayHooks groups the lifecycle hooks of a relay service
type RelayHooks struct {
	BeforeRelay    []BeforeRelayHook
	AfterRelay     []AfterRelayHook
	OnRelayFailure []OnRelayFailureHook
}
