// Package signer implements EIP-191 personal-message signing and the matching
// signer recovery used to authorize operations.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"

	// SignatureLength is the canonical r||s||v layout.
	SignatureLength = 65
)

var ErrInvalidSignature = errors.New("invalid signature")

// HashMessage returns the EIP-191 prefixed keccak256 hash of data. This is the
// digest that SignMessage signs and RecoverSigner recovers against.
func HashMessage(data []byte) common.Hash {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	return crypto.Keccak256Hash(append(prefix, data...))
}

// SignMessage produces an EIP-191 signature over data. The recovery id is
// shifted to 27/28 for Ethereum compatibility.
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := HashMessage(data)
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over data via
// SignMessage. Signatures with a 0/1 recovery id are accepted too.
func RecoverSigner(data []byte, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	adjusted := make([]byte, SignatureLength)
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}
	if adjusted[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}

	hash := HashMessage(data)
	pub, err := crypto.SigToPub(hash.Bytes(), adjusted)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// AddressFromKey derives the address controlled by the given private key.
func AddressFromKey(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
