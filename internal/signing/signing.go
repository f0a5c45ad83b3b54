// Package signing creates and verifies recoverable secp256k1 signatures
// over order digests.
package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature cannot be recovered
// or has the wrong length.
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureLength is the expected length of a recoverable signature.
const SignatureLength = 65

// Sign produces a recoverable signature over digest with the given key.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// RecoverSigner recovers the address that signed digest. Returns
// ErrInvalidSignature for malformed or unrecoverable signatures.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(digest.Bytes(), signature)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
