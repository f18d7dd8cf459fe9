package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Sponsor covers gas costs for operations it agrees to back. The entry point
// calls ValidateSponsorship during the validation pre-pass and PostOp during
// settlement; both gate on the caller being the trusted entry point address.
type Sponsor interface {
	Address() common.Address

	// ValidateSponsorship decides whether the sponsor backs an operation
	// from account needing requiredPrefund, returning an opaque context
	// handed back to PostOp. A non-nil error aborts the batch.
	ValidateSponsorship(caller, account common.Address, requiredPrefund *big.Int) ([]byte, error)

	// PostOp settles the actual gas cost after execution, successful or not.
	PostOp(caller common.Address, context []byte, actualGasCost *big.Int) error
}

// EthSponsor backs whitelisted accounts from its owner's native deposit.
// Settlement debits exactly the actual gas cost; estimation slack stays with
// the owner.
type EthSponsor struct {
	mu         sync.Mutex
	address    common.Address
	owner      common.Address
	entryPoint common.Address
	minDeposit *big.Int
	state      *WorldState
	events     *EventStream
	deposits   map[common.Address]*big.Int
	whitelist  map[common.Address]struct{}
}

type EthSponsorConfig struct {
	Address    common.Address
	Owner      common.Address
	EntryPoint common.Address
	MinDeposit *big.Int
	State      *WorldState
	Events     *EventStream
}

func NewEthSponsor(cfg EthSponsorConfig) *EthSponsor {
	return &EthSponsor{
		address:    cfg.Address,
		owner:      cfg.Owner,
		entryPoint: cfg.EntryPoint,
		minDeposit: bigOrZero(cfg.MinDeposit),
		state:      cfg.State,
		events:     cfg.Events,
		deposits:   make(map[common.Address]*big.Int),
		whitelist:  make(map[common.Address]struct{}),
	}
}

func (s *EthSponsor) Address() common.Address { return s.address }
func (s *EthSponsor) Owner() common.Address   { return s.owner }

// Deposit moves native funds from the depositor's world balance into the
// sponsor's ledger. Deposits below the configured minimum are rejected.
func (s *EthSponsor) Deposit(from common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)
	if amount.Cmp(s.minDeposit) < 0 {
		return fmt.Errorf("deposit %s below minimum %s", amount.String(), s.minDeposit.String())
	}
	if err := s.state.SubBalance(from, amount); err != nil {
		return err
	}

	s.mu.Lock()
	s.creditLocked(from, amount)
	balance := new(big.Int).Set(s.deposits[from])
	s.mu.Unlock()

	s.events.Append(EventDeposit, BalanceEvent{
		Holder: from, Ledger: s.address, Amount: amount, Balance: balance,
	})
	return nil
}

// Withdraw returns deposited funds to the depositor's world balance.
func (s *EthSponsor) Withdraw(from common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)

	s.mu.Lock()
	if err := s.debitLocked(from, amount); err != nil {
		s.mu.Unlock()
		return err
	}
	balance := new(big.Int).Set(s.deposits[from])
	s.mu.Unlock()

	s.state.AddBalance(from, amount)
	s.events.Append(EventWithdraw, BalanceEvent{
		Holder: from, Ledger: s.address, Amount: amount, Balance: balance,
	})
	return nil
}

// BalanceOf reports a depositor's sponsor-held balance.
func (s *EthSponsor) BalanceOf(depositor common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.deposits[depositor]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// AddToWhitelist marks an account as sponsorable. Owner only.
func (s *EthSponsor) AddToWhitelist(caller, account common.Address) error {
	return s.setWhitelisted(caller, account, true)
}

// RemoveFromWhitelist revokes sponsorship eligibility. Owner only.
func (s *EthSponsor) RemoveFromWhitelist(caller, account common.Address) error {
	return s.setWhitelisted(caller, account, false)
}

func (s *EthSponsor) setWhitelisted(caller, account common.Address, add bool) error {
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

func (s *EthSponsor) IsWhitelisted(account common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.whitelist[account]
	return ok
}

// ValidateSponsorship approves whitelisted accounts as long as the owner's
// deposit covers the required prefund. Deposit balance alone is never enough;
// the whitelist check comes first.
func (s *EthSponsor) ValidateSponsorship(caller, account common.Address, requiredPrefund *big.Int) ([]byte, error) {
	if caller != s.entryPoint {
		return nil, ErrUnauthorizedCaller
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.whitelist[account]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWhitelisted, account.Hex())
	}
	balance, ok := s.deposits[s.owner]
	if !ok || balance.Cmp(bigOrZero(requiredPrefund)) < 0 {
		return nil, fmt.Errorf("%w: sponsor owner deposit cannot cover prefund %s",
			ErrInsufficientBalance, bigOrZero(requiredPrefund).String())
	}
	return nil, nil
}

// PostOp debits the owner's deposit by exactly the actual gas cost.
func (s *EthSponsor) PostOp(caller common.Address, _ []byte, actualGasCost *big.Int) error {
	if caller != s.entryPoint {
		return ErrUnauthorizedCaller
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(s.owner, bigOrZero(actualGasCost))
}

func (s *EthSponsor) creditLocked(addr common.Address, amount *big.Int) {
	if b, ok := s.deposits[addr]; ok {
		b.Add(b, amount)
		return
	}
	s.deposits[addr] = new(big.Int).Set(amount)
}

func (s *EthSponsor) debitLocked(addr common.Address, amount *big.Int) error {
	b, ok := s.deposits[addr]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: sponsor deposit of %s cannot cover %s",
			ErrInsufficientBalance, addr.Hex(), amount.String())
	}
	b.Sub(b, amount)
	return nil
}
