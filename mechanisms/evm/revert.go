package evm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	relay "github.com/thegreataxios/eip3009-relay"
)

// Selector is the 4-byte identifier at the start of revert data
type Selector [4]byte

// Hex returns the selector as 0x-prefixed hex
func (s Selector) Hex() string {
	return BytesToHex(s[:])
}

func (s Selector) String() string {
	return s.Hex()
}

// IsZero reports whether no selector was captured
func (s Selector) IsZero() bool {
	return s == Selector{}
}

// ParseSelector parses a 0x-prefixed 4-byte selector
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	b, err := HexToBytes(s)
	if err != nil {
		return sel, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if len(b) != 4 {
		return sel, fmt.Errorf("invalid selector %q: expected 4 bytes, got %d", s, len(b))
	}
	copy(sel[:], b)
	return sel, nil
}

// RevertName names a custom error of the forwarder
type RevertName string

// Known forwarder errors
const (
	RevertInvalidSignature          RevertName = "InvalidSignature"
	RevertAuthorizationNotYetValid  RevertName = "AuthorizationNotYetValid"
	RevertAuthorizationExpired      RevertName = "AuthorizationExpired"
	RevertAuthorizationAlreadyUsed  RevertName = relay.ReasonAuthorizationAlreadyUsed
	RevertZeroAddress               RevertName = "ZeroAddress"
	RevertInsufficientAllowance     RevertName = "InsufficientAllowance"
	RevertInsufficientBalance       RevertName = "InsufficientBalance"
	RevertInvalidAuthorizationDates RevertName = "InvalidAuthorizationDates"
)

// Selectors of the known forwarder errors
var (
	SelectorInvalidSignature          = Selector{0xdf, 0x8e, 0x43, 0x72}
	SelectorAuthorizationNotYetValid  = Selector{0x8b, 0xaa, 0x57, 0x9f}
	SelectorAuthorizationExpired      = Selector{0x77, 0x3a, 0x2e, 0x84}
	SelectorAuthorizationAlreadyUsed  = Selector{0x94, 0xfb, 0x5c, 0x8a}
	SelectorZeroAddress               = Selector{0xd9, 0x2e, 0x23, 0x3d}
	SelectorInsufficientAllowance     = Selector{0x13, 0xbe, 0x25, 0x2b}
	SelectorInsufficientBalance       = Selector{0xf4, 0xd6, 0x78, 0xb8}
	SelectorInvalidAuthorizationDates = Selector{0x1e, 0x9b, 0x25, 0x93}
)

// DecodedError is a forwarder revert resolved to a named condition
type DecodedError struct {
	Selector Selector
	Name     RevertName
	Hint     string
}

// knownErrors is exhaustive only for the forwarder's published error set.
// Anything else decodes to nil.
var knownErrors = map[Selector]DecodedError{
	SelectorInvalidSignature: {
		Name: RevertInvalidSignature,
		Hint: "check the domain (chainId, forwarder address, name, version) and that the signer is the from address",
	},
	SelectorAuthorizationNotYetValid: {
		Name: RevertAuthorizationNotYetValid,
		Hint: "validAfter is in the future; wait or re-sign with a current validity window",
	},
	SelectorAuthorizationExpired: {
		Name: RevertAuthorizationExpired,
		Hint: "validBefore has passed; re-sign with a new validity window",
	},
	SelectorAuthorizationAlreadyUsed: {
		Name: RevertAuthorizationAlreadyUsed,
		Hint: "this nonce has already been used; re-sign with a fresh nonce",
	},
	SelectorZeroAddress: {
		Name: RevertZeroAddress,
		Hint: "from and to must be non-zero addresses",
	},
	SelectorInsufficientAllowance: {
		Name: RevertInsufficientAllowance,
		Hint: "the holder has not approved enough tokens to the forwarder",
	},
	SelectorInsufficientBalance: {
		Name: RevertInsufficientBalance,
		Hint: "the holder does not have enough token balance",
	},
	SelectorInvalidAuthorizationDates: {
		Name: RevertInvalidAuthorizationDates,
		Hint: "validAfter must be before validBefore",
	},
}

// Decode maps a selector to its named condition, or nil if it is not a known forwarder error
func Decode(selector Selector) *DecodedError {
	known, ok := knownErrors[selector]
	if !ok {
		return nil
	}
	known.Selector = selector
	return &known
}

// DecodeRevertData reads the selector from raw revert data and decodes it.
// Data shorter than 4 bytes yields a zero selector and nil.
func DecodeRevertData(data []byte) (Selector, *DecodedError) {
	var selector Selector
	if len(data) < 4 {
		return selector, nil
	}
	copy(selector[:], data[:4])
	return selector, Decode(selector)
}

// ExtractRevertData pulls the revert payload out of an RPC error, if the node returned one
func ExtractRevertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		b, decodeErr := HexToBytes(data)
		if decodeErr != nil || len(b) == 0 {
			return nil, false
		}
		return b, true
	case []byte:
		if len(data) == 0 {
			return nil, false
		}
		return data, true
	default:
		return nil, false
	}
}

// Enrich fills in the decoded reason of a failed relay
func (f Failed) Enrich() Failed {
	if f.Reason == nil {
		f.Reason = Decode(f.Selector)
	}
	return f
}

// RelayError converts a failed relay into the error taxonomy.
// Undecodable reverts become UnknownRelayFailure.
func (f Failed) RelayError() *relay.RelayError {
	details := map[string]interface{}{
		"transaction": f.TxHash.Hex(),
	}
	if len(f.RevertData) > 0 {
		details["revertData"] = BytesToHex(f.RevertData)
	}

	if f.Reason == nil {
		err := relay.NewRelayError(relay.ErrCodeUnknownRelayFailure, "transferWithAuthorization reverted with an unrecognized error", details)
		if !f.Selector.IsZero() {
			err.Selector = f.Selector.Hex()
		}
		return err
	}

	err := relay.NewRelayError(relay.ErrCodeRelayExecutionFailure, "transferWithAuthorization reverted", details)
	err.Selector = f.Selector.Hex()
	err.Reason = string(f.Reason.Name)
	err.Hint = f.Reason.Hint
	return err
}
