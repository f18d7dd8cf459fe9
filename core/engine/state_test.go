package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestWorldStateBalances(t *testing.T) {
	ws := NewWorldState()
	assert.Equal(t, new(big.Int), ws.GetBalance(alice), "unknown address reads as zero")

	ws.SetBalance(alice, big.NewInt(1000))
	require.NoError(t, ws.Transfer(alice, bob, big.NewInt(400)))
	assert.Equal(t, big.NewInt(600), ws.GetBalance(alice))
	assert.Equal(t, big.NewInt(400), ws.GetBalance(bob))

	t.Run("overdraw leaves both sides untouched", func(t *testing.T) {
		err := ws.Transfer(alice, bob, big.NewInt(601))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, big.NewInt(600), ws.GetBalance(alice))
		assert.Equal(t, big.NewInt(400), ws.GetBalance(bob))
	})

	t.Run("returned balance is a copy", func(t *testing.T) {
		b := ws.GetBalance(alice)
		b.SetInt64(0)
		assert.Equal(t, big.NewInt(600), ws.GetBalance(alice))
	})
}

func TestIntrinsicGas(t *testing.T) {
	assert.Equal(t, uint64(21000), IntrinsicGas(nil))
	assert.Equal(t, uint64(21000+16+4), IntrinsicGas([]byte{0x01, 0x00}))
}

func TestDispatch(t *testing.T) {
	t.Run("plain transfer to unhandled target", func(t *testing.T) {
		ws := NewWorldState()
		ws.SetBalance(alice, big.NewInt(1000))

		res := ws.Dispatch(alice, bob, big.NewInt(300), nil, 50000)
		assert.True(t, res.Success)
		assert.Equal(t, uint64(21000), res.GasUsed)
		assert.Equal(t, big.NewInt(300), ws.GetBalance(bob))
	})

	t.Run("handler failure reverts the value", func(t *testing.T) {
		ws := NewWorldState()
		ws.SetBalance(alice, big.NewInt(1000))
		ws.RegisterHandler(bob, CallHandlerFunc(func(common.Address, *big.Int, []byte) (uint64, error) {
			return 100, errors.New("nope")
		}))

		res := ws.Dispatch(alice, bob, big.NewInt(300), []byte{0x01}, 50000)
		assert.False(t, res.Success)
		assert.Equal(t, "nope", res.Reason)
		assert.Equal(t, big.NewInt(1000), ws.GetBalance(alice), "failed call keeps nothing")
		assert.Equal(t, new(big.Int), ws.GetBalance(bob))
	})

	t.Run("out of gas before the handler", func(t *testing.T) {
		ws := NewWorldState()
		res := ws.Dispatch(alice, bob, nil, nil, 100)
		assert.False(t, res.Success)
		assert.Equal(t, uint64(100), res.GasUsed, "gas used is capped at the limit")
		assert.Equal(t, "out of gas", res.Reason)
	})

	t.Run("handler blows the limit", func(t *testing.T) {
		ws := NewWorldState()
		ws.SetBalance(alice, big.NewInt(1000))
		ws.RegisterHandler(bob, CallHandlerFunc(func(common.Address, *big.Int, []byte) (uint64, error) {
			return 1 << 40, nil
		}))

		res := ws.Dispatch(alice, bob, big.NewInt(300), []byte{0x01}, 30000)
		assert.False(t, res.Success)
		assert.Equal(t, uint64(30000), res.GasUsed)
		assert.Equal(t, big.NewInt(1000), ws.GetBalance(alice))
	})

	t.Run("caller cannot send more than it has", func(t *testing.T) {
		ws := NewWorldState()
		ws.SetBalance(alice, big.NewInt(100))
		res := ws.Dispatch(alice, bob, big.NewInt(101), nil, 50000)
		assert.False(t, res.Success)
	})
}
