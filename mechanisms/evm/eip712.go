package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SigningPayload is the structured-data envelope a holder signs.
// It binds the authorization to one forwarder on one chain.
type SigningPayload struct {
	Domain      TypedDataDomain
	Types       map[string][]TypedDataField
	PrimaryType string
	Message     map[string]interface{}
}

// NewSigningPayload builds the TransferWithAuthorization payload for auth under
// the forwarder domain of chain
func NewSigningPayload(chain ChainContext, auth Authorization) (*SigningPayload, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if err := auth.Validate(); err != nil {
		return nil, err
	}

	return &SigningPayload{
		Domain: chain.Domain(),
		Types: map[string][]TypedDataField{
			"EIP712Domain":                       EIP712DomainType,
			PrimaryTypeTransferWithAuthorization: TransferWithAuthorizationType,
		},
		PrimaryType: PrimaryTypeTransferWithAuthorization,
		Message: map[string]interface{}{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce[:],
		},
	}, nil
}

// Digest returns the 32-byte EIP-712 hash of the payload
func (p *SigningPayload) Digest() ([]byte, error) {
	return HashTypedData(p.Domain, p.Types, p.PrimaryType, p.Message)
}

// HashTypedData hashes EIP-712 typed data.
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := toTypedData(domain, types, primaryType, message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// DomainSeparator computes the EIP-712 domain separator locally.
// A forwarder exposing DOMAIN_SEPARATOR() must return the same value.
func DomainSeparator(domain TypedDataDomain) (common.Hash, error) {
	typedData := toTypedData(domain, nil, "", nil)
	separator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(separator), nil
}

func toTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		domainFields := make([]apitypes.Type, len(EIP712DomainType))
		for i, field := range EIP712DomainType {
			domainFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types["EIP712Domain"] = domainFields
	}

	return typedData
}
