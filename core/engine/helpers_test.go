package engine

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/sutrapulse/aa-engine/pkg/feerate"
	"github.com/sutrapulse/aa-engine/pkg/signer"
)

var (
	testEntryPointAddr = common.HexToAddress("0x00000000000000000000000000000000000000e9")
	testFactoryAddr    = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	testChainID        = big.NewInt(1337)
)

type fixture struct {
	state   *WorldState
	events  *EventStream
	factory *Factory
	ep      *EntryPoint

	ownerKey *ecdsa.PrivateKey
	owner    common.Address
	account  *Account
}

// newFixture builds an in-memory engine with one deployed account whose
// entry point deposit is already funded with one ether.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	state := NewWorldState()
	events := NewEventStream(nil, nil)
	factory := NewFactory(FactoryConfig{
		Address:    testFactoryAddr,
		EntryPoint: testEntryPointAddr,
		State:      state,
		Events:     events,
	})
	ep := NewEntryPoint(EntryPointConfig{
		Address: testEntryPointAddr,
		ChainID: testChainID,
		State:   state,
		Factory: factory,
		Fees:    feerate.NewStatic(big.NewInt(1), big.NewInt(0)),
		Events:  events,
	})

	ownerKey, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	account, err := factory.CreateAccount(owner, big.NewInt(1))
	require.NoError(t, err)

	oneEther := ether(1)
	state.SetBalance(account.Address(), new(big.Int).Mul(oneEther, big.NewInt(2)))
	require.NoError(t, ep.Deposit(account.Address(), oneEther))

	return &fixture{
		state:    state,
		events:   events,
		factory:  factory,
		ep:       ep,
		ownerKey: ownerKey,
		owner:    owner,
		account:  account,
	}
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// newOp returns an operation for the fixture account with sane gas defaults
// and a fee ceiling of 2 wei against the static 1 wei base fee.
func (f *fixture) newOp(nonce int64) *Operation {
	return NewOperation(f.account.Address()).
		WithNonce(big.NewInt(nonce)).
		WithGasLimits(100000, 50000, 21000).
		WithFees(big.NewInt(2), big.NewInt(0))
}

func (f *fixture) sign(t *testing.T, op *Operation, key *ecdsa.PrivateKey) *Operation {
	t.Helper()
	hash := op.Hash(f.ep.Address(), testChainID)
	sig, err := signer.SignMessage(key, hash.Bytes())
	require.NoError(t, err)
	op.Signature = sig
	return op
}

// registerTarget installs a handler that records calls and burns a fixed
// amount of handler gas, optionally failing.
func (f *fixture) registerTarget(addr common.Address, handlerGas uint64, fail bool) *callRecorder {
	rec := &callRecorder{}
	f.state.RegisterHandler(addr, CallHandlerFunc(func(caller common.Address, value *big.Int, data []byte) (uint64, error) {
		rec.calls++
		if fail {
			return handlerGas, errRevert
		}
		return handlerGas, nil
	}))
	return rec
}

type callRecorder struct {
	calls int
}

var errRevert = revertError("execution reverted")

type revertError string

func (e revertError) Error() string { return string(e) }
