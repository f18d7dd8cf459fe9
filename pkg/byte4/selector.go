// Package byte4 works with the 4-byte function selectors that prefix call data.
package byte4

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is the leading 4 bytes of call data, identifying the target method.
type Selector [4]byte

func (s Selector) String() string {
	return fmt.Sprintf("0x%x", s[:])
}

// FromCalldata extracts the selector from call data. Call data shorter than 4
// bytes carries no selector.
func FromCalldata(data []byte) (Selector, error) {
	if len(data) < 4 {
		return Selector{}, fmt.Errorf("calldata too short for selector: %d bytes", len(data))
	}
	var s Selector
	copy(s[:], data[:4])
	return s, nil
}

// FromSignature computes the selector for a canonical method signature such as
// "transfer(address,uint256)". These 4-byte ids are the first four bytes of the
// keccak hash of the signature.
func FromSignature(sig string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}
