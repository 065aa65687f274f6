package http

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	relay "github.com/thegreataxios/eip3009-relay"
)

// relayRequestSchema describes the body of POST /relay
const relayRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["authorization", "signature"],
  "properties": {
    "authorization": {
      "type": "object",
      "required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
      "properties": {
        "from":        {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
        "to":          {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
        "value":       {"type": "string", "pattern": "^[0-9]+$"},
        "validAfter":  {"type": "string", "pattern": "^[0-9]+$"},
        "validBefore": {"type": "string", "pattern": "^[0-9]+$"},
        "nonce":       {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"}
      }
    },
    "signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"}
  }
}`

var relayRequestSchemaLoader = gojsonschema.NewStringLoader(relayRequestSchema)

// ValidationResult is the outcome of validating a request body
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateRelayRequest checks body against the relay request schema
func ValidateRelayRequest(body []byte) ValidationResult {
	if len(body) == 0 {
		return ValidationResult{Valid: false, Errors: []string{"request body is empty"}}
	}

	result, err := gojsonschema.Validate(relayRequestSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}

	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}

// DecodeRelayRequest validates and decodes a relay request body.
// Any failure is an InvalidAuthorizationParameters error listing the problems.
func DecodeRelayRequest(body []byte) (*relay.RelayRequest, error) {
	validation := ValidateRelayRequest(body)
	if !validation.Valid {
		return nil, relay.NewRelayError(relay.ErrCodeInvalidAuthorizationParameters, "invalid relay request", map[string]interface{}{
			"errors": validation.Errors,
		})
	}

	var req relay.RelayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, relay.WrapRelayError(relay.ErrCodeInvalidAuthorizationParameters, "invalid relay request", err)
	}
	return &req, nil
}
