package engine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutrapulse/aa-engine/storage"
)

func TestComputeAddressMatchesCreateAccount(t *testing.T) {
	f := newFixture(t)
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	salt := big.NewInt(42)

	computed := f.factory.ComputeAddress(owner, salt)
	acct, err := f.factory.CreateAccount(owner, salt)
	require.NoError(t, err)
	assert.Equal(t, computed, acct.Address(), "derived and deployed addresses must match")

	t.Run("different salt different address", func(t *testing.T) {
		assert.NotEqual(t, computed, f.factory.ComputeAddress(owner, big.NewInt(43)))
	})

	t.Run("different owner different address", func(t *testing.T) {
		other := common.HexToAddress("0x6666666666666666666666666666666666666666")
		assert.NotEqual(t, computed, f.factory.ComputeAddress(other, salt))
	})
}

func TestCreateAccountIdempotent(t *testing.T) {
	f := newFixture(t)
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")

	first, err := f.factory.CreateAccount(owner, big.NewInt(1))
	require.NoError(t, err)
	second, err := f.factory.CreateAccount(owner, big.NewInt(1))
	require.NoError(t, err)
	assert.Same(t, first, second, "re-deploying the same (owner, salt) must return the existing account")
}

func TestCreateAccountRejectsZeroOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.factory.CreateAccount(common.Address{}, big.NewInt(1))
	assert.Error(t, err)
}

func TestCreateAccountBatch(t *testing.T) {
	f := newFixture(t)
	owners := []common.Address{
		common.HexToAddress("0x5555555555555555555555555555555555555555"),
		common.HexToAddress("0x6666666666666666666666666666666666666666"),
	}
	salts := []*big.Int{big.NewInt(1), big.NewInt(2)}

	addrs, err := f.factory.CreateAccountBatch(owners, salts)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	for i, addr := range addrs {
		assert.Equal(t, f.factory.ComputeAddress(owners[i], salts[i]), addr)
		_, ok := f.factory.Account(addr)
		assert.True(t, ok)
	}

	t.Run("length mismatch", func(t *testing.T) {
		_, err := f.factory.CreateAccountBatch(owners, salts[:1])
		assert.Error(t, err)
	})
}

func TestFactoryWalletPersistence(t *testing.T) {
	db, err := storage.NewWithPath(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Setup())
	defer db.Close()

	state := NewWorldState()
	events := NewEventStream(nil, nil)
	factory := NewFactory(FactoryConfig{
		Address:    testFactoryAddr,
		EntryPoint: testEntryPointAddr,
		State:      state,
		Events:     events,
		DB:         db,
	})

	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	first, err := factory.CreateAccount(owner, big.NewInt(1))
	require.NoError(t, err)
	second, err := factory.CreateAccount(owner, big.NewInt(2))
	require.NoError(t, err)

	wallets, err := factory.WalletsByOwner(owner)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	addrs := []common.Address{wallets[0].Address, wallets[1].Address}
	assert.Contains(t, addrs, first.Address())
	assert.Contains(t, addrs, second.Address())
	for _, w := range wallets {
		assert.Equal(t, owner, w.Owner)
		assert.Equal(t, testFactoryAddr, w.Factory)
	}

	other, err := factory.WalletsByOwner(common.HexToAddress("0x06"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInitCodeVerifyAndDeploy(t *testing.T) {
	f := newFixture(t)
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	salt := big.NewInt(9)
	sender := f.factory.ComputeAddress(owner, salt)
	initCode := PackInitCode(f.factory.Address(), owner, salt)

	gotOwner, gotSalt, err := f.factory.VerifyInitCode(initCode, sender)
	require.NoError(t, err)
	assert.Equal(t, owner, gotOwner)
	assert.Equal(t, salt, gotSalt)

	acct, err := f.factory.DeployFromInitCode(initCode)
	require.NoError(t, err)
	assert.Equal(t, sender, acct.Address())

	t.Run("wrong sender", func(t *testing.T) {
		_, _, err := f.factory.VerifyInitCode(initCode, common.HexToAddress("0x01"))
		assert.ErrorIs(t, err, ErrMalformedInitCode)
	})

	t.Run("wrong factory", func(t *testing.T) {
		bad := PackInitCode(common.HexToAddress("0x02"), owner, salt)
		_, _, err := f.factory.VerifyInitCode(bad, sender)
		assert.ErrorIs(t, err, ErrMalformedInitCode)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := f.factory.VerifyInitCode(initCode[:10], sender)
		assert.ErrorIs(t, err, ErrMalformedInitCode)
	})
}
