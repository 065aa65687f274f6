package evm

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySource describes where a signer's private key comes from.
// Exactly one of PrivateKey, PrivateKeyFile or Keystore must be set.
type KeySource struct {
	PrivateKey       string
	PrivateKeyFile   string
	Keystore         string
	KeystorePassword string
}

// IsZero reports whether no key source is configured
func (k KeySource) IsZero() bool {
	return k.PrivateKey == "" && k.PrivateKeyFile == "" && k.Keystore == ""
}

// Validate checks that exactly one key source is set
func (k KeySource) Validate() error {
	set := 0
	for _, v := range []string{k.PrivateKey, k.PrivateKeyFile, k.Keystore} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return fmt.Errorf("one of private_key, private_key_file or keystore must be provided")
	}
	if set > 1 {
		return fmt.Errorf("only one of private_key, private_key_file or keystore may be provided")
	}
	if k.Keystore != "" && k.KeystorePassword == "" {
		return fmt.Errorf("keystore_password is required when using keystore")
	}
	return nil
}

// Load resolves the key source to a private key
func (k KeySource) Load() (*ecdsa.PrivateKey, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	switch {
	case k.PrivateKey != "":
		return ParsePrivateKey(k.PrivateKey)
	case k.PrivateKeyFile != "":
		return LoadPrivateKeyFile(k.PrivateKeyFile)
	default:
		return LoadPrivateKeyFromKeystore(k.Keystore, k.KeystorePassword)
	}
}

// ParsePrivateKey parses a hex-encoded private key with or without the 0x prefix
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return privateKey, nil
}

// LoadPrivateKeyFile reads a hex-encoded private key from a file
func LoadPrivateKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	return ParsePrivateKey(string(data))
}

// LoadPrivateKeyFromKeystore decrypts an encrypted JSON keystore file
func LoadPrivateKeyFromKeystore(path, password string) (*ecdsa.PrivateKey, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("decrypting keystore: %w", err)
	}
	return key.PrivateKey, nil
}
