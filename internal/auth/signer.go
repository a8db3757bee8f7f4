// Package auth implements the Order Authenticator of spec.md §4.C:
// EIP-712 signature verification, nonce/deadline checks, and size/leverage
// bounds, followed by margin reservation against the Account Ledger.
//
// Grounded on pkg/crypto/{signer.go,eip712.go} and
// pkg/app/core/transaction/{types.go,verifier.go}.
package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps a secp256k1 key pair, carried over from pkg/crypto/signer.go
// almost unchanged — only used by tests, never by the engine itself (the
// engine only ever verifies).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateSigner creates a new random key pair.
func GenerateSigner() (*Signer, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// SignerFromHex builds a Signer from a hex-encoded private key.
func SignerFromHex(hexKey string) (*Signer, error) {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address { return s.address }

// Sign signs a 32-byte digest, returning a 65-byte [R||S||V] signature.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, s.privateKey)
}

// RecoverAddress recovers the signing address from a digest and signature.
func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("invalid digest length: %d", len(digest))
	}
	pubBytes, err := crypto.Ecrecover(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("unmarshal pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
