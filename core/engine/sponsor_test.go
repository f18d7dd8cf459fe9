package engine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sponsorAddr      = common.HexToAddress("0x00000000000000000000000000000000000005b0")
	sponsorOwnerAddr = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	tokenAddr        = common.HexToAddress("0x000000000000000000000000000000000000dada")
)

func newEthSponsor(f *fixture) *EthSponsor {
	return NewEthSponsor(EthSponsorConfig{
		Address:    sponsorAddr,
		Owner:      sponsorOwnerAddr,
		EntryPoint: testEntryPointAddr,
		MinDeposit: big.NewInt(1000),
		State:      f.state,
		Events:     f.events,
	})
}

func newTokenSponsorForTest(f *fixture) *TokenSponsor {
	return NewTokenSponsor(TokenSponsorConfig{
		Address:    sponsorAddr,
		Owner:      sponsorOwnerAddr,
		EntryPoint: testEntryPointAddr,
		Events:     f.events,
	})
}

func TestEthSponsorDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	s := newEthSponsor(f)
	f.state.SetBalance(sponsorOwnerAddr, ether(1))

	t.Run("below minimum", func(t *testing.T) {
		assert.Error(t, s.Deposit(sponsorOwnerAddr, big.NewInt(999)))
	})

	require.NoError(t, s.Deposit(sponsorOwnerAddr, big.NewInt(5000)))
	assert.Equal(t, big.NewInt(5000), s.BalanceOf(sponsorOwnerAddr))

	require.NoError(t, s.Withdraw(sponsorOwnerAddr, big.NewInt(2000)))
	assert.Equal(t, big.NewInt(3000), s.BalanceOf(sponsorOwnerAddr))

	t.Run("overdraw", func(t *testing.T) {
		assert.ErrorIs(t, s.Withdraw(sponsorOwnerAddr, big.NewInt(4000)), ErrInsufficientBalance)
	})
}

func TestEthSponsorValidateSponsorship(t *testing.T) {
	f := newFixture(t)
	s := newEthSponsor(f)
	f.state.SetBalance(sponsorOwnerAddr, ether(1))
	require.NoError(t, s.Deposit(sponsorOwnerAddr, big.NewInt(100000)))

	account := f.account.Address()
	prefund := big.NewInt(50000)

	t.Run("untrusted caller", func(t *testing.T) {
		_, err := s.ValidateSponsorship(common.HexToAddress("0x01"), account, prefund)
		assert.ErrorIs(t, err, ErrUnauthorizedCaller)
	})

	t.Run("balance alone is not enough", func(t *testing.T) {
		_, err := s.ValidateSponsorship(testEntryPointAddr, account, prefund)
		assert.ErrorIs(t, err, ErrNotWhitelisted)
	})

	require.NoError(t, s.AddToWhitelist(sponsorOwnerAddr, account))
	assert.True(t, s.IsWhitelisted(account))

	t.Run("whitelisted with funds", func(t *testing.T) {
		_, err := s.ValidateSponsorship(testEntryPointAddr, account, prefund)
		assert.NoError(t, err)
	})

	t.Run("prefund above deposit", func(t *testing.T) {
		_, err := s.ValidateSponsorship(testEntryPointAddr, account, big.NewInt(100001))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	require.NoError(t, s.RemoveFromWhitelist(sponsorOwnerAddr, account))
	_, err := s.ValidateSponsorship(testEntryPointAddr, account, prefund)
	assert.ErrorIs(t, err, ErrNotWhitelisted)
}

func TestEthSponsorPostOpDebitsExactCost(t *testing.T) {
	f := newFixture(t)
	s := newEthSponsor(f)
	f.state.SetBalance(sponsorOwnerAddr, ether(1))
	require.NoError(t, s.Deposit(sponsorOwnerAddr, big.NewInt(100000)))

	require.NoError(t, s.PostOp(testEntryPointAddr, nil, big.NewInt(12345)))
	assert.Equal(t, big.NewInt(100000-12345), s.BalanceOf(sponsorOwnerAddr),
		"native sponsor settles at exactly the actual cost")

	assert.ErrorIs(t, s.PostOp(common.HexToAddress("0x01"), nil, big.NewInt(1)), ErrUnauthorizedCaller)
}

func TestTokenSponsorRatesAndDeposits(t *testing.T) {
	f := newFixture(t)
	s := newTokenSponsorForTest(f)
	user := f.account.Address()

	t.Run("unregistered token", func(t *testing.T) {
		assert.ErrorIs(t, s.DepositTokens(user, tokenAddr, big.NewInt(100)), ErrUnknownToken)
		_, err := s.ExchangeRate(tokenAddr)
		assert.ErrorIs(t, err, ErrUnknownToken)
	})

	t.Run("only owner sets rates", func(t *testing.T) {
		assert.ErrorIs(t, s.SetExchangeRate(user, tokenAddr, big.NewInt(1)), ErrUnauthorizedCaller)
		assert.Error(t, s.SetExchangeRate(sponsorOwnerAddr, tokenAddr, big.NewInt(0)))
	})

	// Rate of 2e18: one token unit is worth two wei.
	rate := new(big.Int).Mul(big.NewInt(2), RateDenominator)
	require.NoError(t, s.SetExchangeRate(sponsorOwnerAddr, tokenAddr, rate))

	require.NoError(t, s.DepositTokens(user, tokenAddr, big.NewInt(500)))
	assert.Equal(t, big.NewInt(500), s.TokenBalanceOf(user, tokenAddr))
	assert.Equal(t, big.NewInt(1000), s.DepositOf(user), "deposit converts at the exchange rate")

	require.NoError(t, s.WithdrawTokens(user, tokenAddr, big.NewInt(100)))
	assert.Equal(t, big.NewInt(400), s.TokenBalanceOf(user, tokenAddr))
	assert.Equal(t, big.NewInt(800), s.DepositOf(user))

	t.Run("overdraw tokens", func(t *testing.T) {
		assert.ErrorIs(t, s.WithdrawTokens(user, tokenAddr, big.NewInt(401)), ErrInsufficientBalance)
	})
}

func TestTokenSponsorValidateAndPostOp(t *testing.T) {
	f := newFixture(t)
	s := newTokenSponsorForTest(f)
	user := f.account.Address()

	rate := new(big.Int).Mul(big.NewInt(2), RateDenominator)
	require.NoError(t, s.SetExchangeRate(sponsorOwnerAddr, tokenAddr, rate))
	require.NoError(t, s.DepositTokens(user, tokenAddr, big.NewInt(100000)))
	require.NoError(t, s.AddToWhitelist(sponsorOwnerAddr, user))

	prefund := big.NewInt(50000)
	ctx, err := s.ValidateSponsorship(testEntryPointAddr, user, prefund)
	require.NoError(t, err)

	gotAccount, gotPrefund, err := decodeSponsorContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, user, gotAccount)
	assert.Equal(t, prefund, gotPrefund)

	t.Run("actual below prefund charges prefund", func(t *testing.T) {
		before := s.DepositOf(user)
		require.NoError(t, s.PostOp(testEntryPointAddr, ctx, big.NewInt(30000)))
		assert.Equal(t, new(big.Int).Sub(before, prefund), s.DepositOf(user),
			"token sponsor keeps the estimation slack")
	})

	t.Run("actual above prefund charges actual", func(t *testing.T) {
		before := s.DepositOf(user)
		require.NoError(t, s.PostOp(testEntryPointAddr, ctx, big.NewInt(60000)))
		assert.Equal(t, new(big.Int).Sub(before, big.NewInt(60000)), s.DepositOf(user))
	})

	t.Run("malformed context", func(t *testing.T) {
		assert.Error(t, s.PostOp(testEntryPointAddr, []byte{0x01}, big.NewInt(1)))
	})

	t.Run("not whitelisted", func(t *testing.T) {
		require.NoError(t, s.RemoveFromWhitelist(sponsorOwnerAddr, user))
		_, err := s.ValidateSponsorship(testEntryPointAddr, user, prefund)
		assert.ErrorIs(t, err, ErrNotWhitelisted)
	})
}
