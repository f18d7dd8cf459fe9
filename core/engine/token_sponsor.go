package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RateDenominator is the fixed-point base for token exchange rates: a rate of
// RateDenominator means one token unit is worth one native wei.
var RateDenominator = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// TokenSponsor lets accounts prepay gas in registered tokens. Deposits are
// converted to native value at the token's exchange rate and tracked per
// account; settlement debits the account's converted deposit by the larger of
// the actual cost and the validated prefund, so estimation slack goes to the
// sponsor rather than back to the account. That is the deliberate opposite of
// EthSponsor settlement.
type TokenSponsor struct {
	mu            sync.Mutex
	address       common.Address
	owner         common.Address
	entryPoint    common.Address
	events        *EventStream
	rates         map[common.Address]*big.Int
	tokenBalances map[common.Address]map[common.Address]*big.Int
	deposits      map[common.Address]*big.Int
	whitelist     map[common.Address]struct{}
}

type TokenSponsorConfig struct {
	Address    common.Address
	Owner      common.Address
	EntryPoint common.Address
	Events     *EventStream
}

func NewTokenSponsor(cfg TokenSponsorConfig) *TokenSponsor {
	return &TokenSponsor{
		address:       cfg.Address,
		owner:         cfg.Owner,
		entryPoint:    cfg.EntryPoint,
		events:        cfg.Events,
		rates:         make(map[common.Address]*big.Int),
		tokenBalances: make(map[common.Address]map[common.Address]*big.Int),
		deposits:      make(map[common.Address]*big.Int),
		whitelist:     make(map[common.Address]struct{}),
	}
}

func (s *TokenSponsor) Address() common.Address { return s.address }
func (s *TokenSponsor) Owner() common.Address   { return s.owner }

// SetExchangeRate registers a token or updates its rate, expressed as native
// wei per token unit scaled by RateDenominator. Owner only. Existing deposits
// keep the conversion they were credited at.
func (s *TokenSponsor) SetExchangeRate(caller, token common.Address, rate *big.Int) error {
	if caller != s.owner {
		return ErrUnauthorizedCaller
	}
	if bigOrZero(rate).Sign() <= 0 {
		return fmt.Errorf("exchange rate must be positive")
	}
	s.mu.Lock()
	s.rates[token] = new(big.Int).Set(rate)
	s.mu.Unlock()
	s.events.Append(EventTokenRateSet, TokenRateEvent{
		Sponsor: s.address, Token: token, Rate: new(big.Int).Set(rate),
	})
	return nil
}

// ExchangeRate returns the registered rate for a token.
func (s *TokenSponsor) ExchangeRate(token common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, ok := s.rates[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return new(big.Int).Set(rate), nil
}

// DepositTokens credits an account with tokens and with their converted
// native value at the current rate.
func (s *TokenSponsor) DepositTokens(from, token common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)
	if amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	s.mu.Lock()
	rate, ok := s.rates[token]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	converted := convert(amount, rate)
	creditMap(s.tokenBalance(from), token, amount)
	s.creditDepositLocked(from, converted)
	balance := new(big.Int).Set(s.deposits[from])
	s.mu.Unlock()

	s.events.Append(EventDeposit, BalanceEvent{
		Holder: from, Ledger: s.address, Token: token, Amount: amount, Balance: balance,
	})
	return nil
}

// WithdrawTokens returns unconsumed tokens, debiting both the token balance
// and the converted deposit at the current rate.
func (s *TokenSponsor) WithdrawTokens(from, token common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)

	s.mu.Lock()
	rate, ok := s.rates[token]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	held := s.tokenBalance(from)[token]
	if held == nil || held.Cmp(amount) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: token balance cannot cover %s", ErrInsufficientBalance, amount.String())
	}
	converted := convert(amount, rate)
	deposit := s.deposits[from]
	if deposit == nil || deposit.Cmp(converted) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: converted deposit cannot cover withdrawal", ErrInsufficientBalance)
	}
	held.Sub(held, amount)
	deposit.Sub(deposit, converted)
	balance := new(big.Int).Set(deposit)
	s.mu.Unlock()

	s.events.Append(EventWithdraw, BalanceEvent{
		Holder: from, Ledger: s.address, Token: token, Amount: amount, Balance: balance,
	})
	return nil
}

// TokenBalanceOf reports an account's raw token balance with the sponsor.
func (s *TokenSponsor) TokenBalanceOf(account, token common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.tokenBalance(account)[token]; b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// DepositOf reports an account's converted native deposit.
func (s *TokenSponsor) DepositOf(account common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.deposits[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// AddToWhitelist marks an account as sponsorable. Owner only.
func (s *TokenSponsor) AddToWhitelist(caller, account common.Address) error {
	return s.setWhitelisted(caller, account, true)
}

// RemoveFromWhitelist revokes sponsorship eligibility. Owner only.
func (s *TokenSponsor) RemoveFromWhitelist(caller, account common.Address) error {
	return s.setWhitelisted(caller, account, false)
}

func (s *TokenSponsor) setWhitelisted(caller, account common.Address, add bool) error {
	if caller != s.owner {
		return ErrUnauthorizedCaller
	}
	s.mu.Lock()
	if add {
		s.whitelist[account] = struct{}{}
	} else {
		delete(s.whitelist, account)
	}
	s.mu.Unlock()
	s.events.Append(EventWhitelistUpdated, MembershipEvent{
		Scope: s.address, Subject: addressHash(account), Added: add,
	})
	return nil
}

func (s *TokenSponsor) IsWhitelisted(account common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.whitelist[account]
	return ok
}

// ValidateSponsorship approves a whitelisted account whose own converted
// deposit covers the prefund, and pins that prefund into the context so
// PostOp can settle against it.
func (s *TokenSponsor) ValidateSponsorship(caller, account common.Address, requiredPrefund *big.Int) ([]byte, error) {
	if caller != s.entryPoint {
		return nil, ErrUnauthorizedCaller
	}
	requiredPrefund = bigOrZero(requiredPrefund)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.whitelist[account]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWhitelisted, account.Hex())
	}
	deposit, ok := s.deposits[account]
	if !ok || deposit.Cmp(requiredPrefund) < 0 {
		return nil, fmt.Errorf("%w: converted deposit cannot cover prefund %s",
			ErrInsufficientBalance, requiredPrefund.String())
	}
	return encodeSponsorContext(account, requiredPrefund), nil
}

// PostOp debits the sponsored account's converted deposit by
// max(actualGasCost, prefund).
func (s *TokenSponsor) PostOp(caller common.Address, context []byte, actualGasCost *big.Int) error {
	if caller != s.entryPoint {
		return ErrUnauthorizedCaller
	}
	account, prefund, err := decodeSponsorContext(context)
	if err != nil {
		return err
	}
	charge := bigOrZero(actualGasCost)
	if prefund.Cmp(charge) > 0 {
		charge = prefund
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	deposit := s.deposits[account]
	if deposit == nil || deposit.Cmp(charge) < 0 {
		return fmt.Errorf("%w: converted deposit of %s cannot cover %s",
			ErrInsufficientBalance, account.Hex(), charge.String())
	}
	deposit.Sub(deposit, charge)
	return nil
}

func (s *TokenSponsor) tokenBalance(account common.Address) map[common.Address]*big.Int {
	m, ok := s.tokenBalances[account]
	if !ok {
		m = make(map[common.Address]*big.Int)
		s.tokenBalances[account] = m
	}
	return m
}

func (s *TokenSponsor) creditDepositLocked(account common.Address, amount *big.Int) {
	if b, ok := s.deposits[account]; ok {
		b.Add(b, amount)
		return
	}
	s.deposits[account] = new(big.Int).Set(amount)
}

func creditMap(m map[common.Address]*big.Int, key common.Address, amount *big.Int) {
	if b, ok := m[key]; ok {
		b.Add(b, amount)
		return
	}
	m[key] = new(big.Int).Set(amount)
}

func convert(amount, rate *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, rate)
	return v.Div(v, RateDenominator)
}

func encodeSponsorContext(account common.Address, prefund *big.Int) []byte {
	ctx := make([]byte, 0, common.AddressLength+common.HashLength)
	ctx = append(ctx, account.Bytes()...)
	ctx = append(ctx, common.BigToHash(prefund).Bytes()...)
	return ctx
}

func decodeSponsorContext(ctx []byte) (common.Address, *big.Int, error) {
	if len(ctx) != common.AddressLength+common.HashLength {
		return common.Address{}, nil, fmt.Errorf("malformed sponsor context: %d bytes", len(ctx))
	}
	account := common.BytesToAddress(ctx[:common.AddressLength])
	prefund := new(big.Int).SetBytes(ctx[common.AddressLength:])
	return account, prefund, nil
}
