package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Operation is a signed user intent: who acts, what call to perform, the gas
// budget the sender is willing to pay for, and optionally which sponsor covers
// the cost. Every field except Signature is covered by Hash.
type Operation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode,omitempty"`
	CallData             []byte         `json:"callData,omitempty"`
	CallGasLimit         uint64         `json:"callGasLimit"`
	VerificationGasLimit uint64         `json:"verificationGasLimit"`
	PreVerificationGas   uint64         `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	SponsorAndData       []byte         `json:"sponsorAndData,omitempty"`
	Signature            []byte         `json:"signature,omitempty"`
}

// NewOperation returns an operation with zeroed numeric fields so the
// chainable setters below can fill in only what a caller cares about.
func NewOperation(sender common.Address) *Operation {
	return &Operation{
		Sender:               sender,
		Nonce:                new(big.Int),
		MaxFeePerGas:         new(big.Int),
		MaxPriorityFeePerGas: new(big.Int),
	}
}

func (op *Operation) WithNonce(nonce *big.Int) *Operation {
	op.Nonce = nonce
	return op
}

func (op *Operation) WithInitCode(initCode []byte) *Operation {
	op.InitCode = initCode
	return op
}

func (op *Operation) WithCallData(callData []byte) *Operation {
	op.CallData = callData
	return op
}

func (op *Operation) WithGasLimits(call, verification, preVerification uint64) *Operation {
	op.CallGasLimit = call
	op.VerificationGasLimit = verification
	op.PreVerificationGas = preVerification
	return op
}

func (op *Operation) WithFees(maxFee, maxPriorityFee *big.Int) *Operation {
	op.MaxFeePerGas = maxFee
	op.MaxPriorityFeePerGas = maxPriorityFee
	return op
}

func (op *Operation) WithSponsor(sponsor common.Address, data []byte) *Operation {
	op.SponsorAndData = append(sponsor.Bytes(), data...)
	return op
}

// HasSponsor reports whether a sponsor address is present. Shorter non-empty
// payloads are malformed and rejected during validation.
func (op *Operation) HasSponsor() bool {
	return len(op.SponsorAndData) >= common.AddressLength
}

// SponsorAddress returns the sponsor identity from the first 20 bytes of
// SponsorAndData, or the zero address when the operation is self-funded.
func (op *Operation) SponsorAddress() common.Address {
	if !op.HasSponsor() {
		return common.Address{}
	}
	return common.BytesToAddress(op.SponsorAndData[:common.AddressLength])
}

// SponsorData returns the sponsor-specific payload following the address.
func (op *Operation) SponsorData() []byte {
	if len(op.SponsorAndData) <= common.AddressLength {
		return nil
	}
	return op.SponsorAndData[common.AddressLength:]
}

// TotalGasLimit is the worst-case gas an operation can consume across
// validation and execution.
func (op *Operation) TotalGasLimit() uint64 {
	return op.PreVerificationGas + op.VerificationGasLimit + op.CallGasLimit
}

// RequiredPrefund is the solvency bar checked during validation:
// the full gas budget priced at the operation's fee ceiling. Nothing is
// escrowed against it; settlement debits only the actual cost.
func (op *Operation) RequiredPrefund() *big.Int {
	total := new(big.Int).SetUint64(op.TotalGasLimit())
	return total.Mul(total, bigOrZero(op.MaxFeePerGas))
}

// PackExecute encodes a call for Operation.CallData: target address, a
// 32-byte big-endian value, then the raw calldata for the target.
func PackExecute(target common.Address, value *big.Int, data []byte) []byte {
	packed := make([]byte, 0, common.AddressLength+common.HashLength+len(data))
	packed = append(packed, target.Bytes()...)
	packed = append(packed, common.BigToHash(bigOrZero(value)).Bytes()...)
	packed = append(packed, data...)
	return packed
}

func unpackExecute(callData []byte) (target common.Address, value *big.Int, data []byte, err error) {
	if len(callData) < common.AddressLength+common.HashLength {
		return common.Address{}, nil, nil, fmt.Errorf("call data too short: %d bytes", len(callData))
	}
	target = common.BytesToAddress(callData[:common.AddressLength])
	value = new(big.Int).SetBytes(callData[common.AddressLength : common.AddressLength+common.HashLength])
	data = callData[common.AddressLength+common.HashLength:]
	return target, value, data, nil
}

// Receipt is the per-operation settlement outcome of a batch. A failed
// execution still carries the gas cost that was collected for it.
type Receipt struct {
	OperationHash common.Hash    `json:"operationHash"`
	Sender        common.Address `json:"sender"`
	Sponsor       common.Address `json:"sponsor,omitempty"`
	Nonce         *big.Int       `json:"nonce"`
	Success       bool           `json:"success"`
	GasUsed       uint64         `json:"gasUsed"`
	ActualGasCost *big.Int       `json:"actualGasCost"`
	Reason        string         `json:"reason,omitempty"`
}

// opInfo carries what validation learned about an operation into the
// execution pass. It never outlives HandleOps. account is nil when the
// sender is not deployed yet; pendingInit then holds the verified init code
// the execution pass deploys from, so an aborted batch never leaves a
// deployment behind.
type opInfo struct {
	hash           common.Hash
	account        *Account
	pendingInit    []byte
	prefund        *big.Int
	sponsored      bool
	sponsor        Sponsor
	sponsorContext []byte
	validationGas  uint64
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
