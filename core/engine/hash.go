package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hash returns the canonical operation digest. Variable-length fields are
// hashed before packing so every field contributes a fixed 32-byte slot, then
// the whole thing is bound to an entry point and chain id so a signature is
// only ever valid inside one domain.
func (op *Operation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed := make([]byte, 0, 10*common.HashLength+common.AddressLength)
	packed = append(packed, op.Sender.Bytes()...)
	packed = append(packed, common.BigToHash(bigOrZero(op.Nonce)).Bytes()...)
	packed = append(packed, crypto.Keccak256(op.InitCode)...)
	packed = append(packed, crypto.Keccak256(op.CallData)...)
	packed = append(packed, uint64Hash(op.CallGasLimit)...)
	packed = append(packed, uint64Hash(op.VerificationGasLimit)...)
	packed = append(packed, uint64Hash(op.PreVerificationGas)...)
	packed = append(packed, common.BigToHash(bigOrZero(op.MaxFeePerGas)).Bytes()...)
	packed = append(packed, common.BigToHash(bigOrZero(op.MaxPriorityFeePerGas)).Bytes()...)
	packed = append(packed, crypto.Keccak256(op.SponsorAndData)...)

	inner := crypto.Keccak256(packed)

	outer := make([]byte, 0, common.HashLength+common.AddressLength+common.HashLength)
	outer = append(outer, inner...)
	outer = append(outer, entryPoint.Bytes()...)
	outer = append(outer, common.BigToHash(bigOrZero(chainID)).Bytes()...)
	return crypto.Keccak256Hash(outer)
}

func uint64Hash(v uint64) []byte {
	return common.BigToHash(new(big.Int).SetUint64(v)).Bytes()
}
