package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sutrapulse/aa-engine/pkg/byte4"
	"github.com/sutrapulse/aa-engine/pkg/signer"
)

// Account is a deployed smart account: an owner, a set of authorized signers,
// an optional selector whitelist, and a monotonic execution counter. All
// mutating entry points gate on the caller so only the owner or the trusted
// entry point can drive them.
type Account struct {
	address    common.Address
	owner      common.Address
	entryPoint common.Address
	signers    map[common.Address]struct{}
	selectors  map[byte4.Selector]struct{}
	counter    uint64
	state      *WorldState
	events     *EventStream
}

func newAccount(address, owner, entryPoint common.Address, state *WorldState, events *EventStream) *Account {
	return &Account{
		address:    address,
		owner:      owner,
		entryPoint: entryPoint,
		signers:    map[common.Address]struct{}{owner: {}},
		selectors:  make(map[byte4.Selector]struct{}),
		state:      state,
		events:     events,
	}
}

func (a *Account) Address() common.Address { return a.address }
func (a *Account) Owner() common.Address   { return a.owner }

// Counter reports how many calls this account has successfully executed.
// It is bookkeeping only and is never checked against operation nonces.
func (a *Account) Counter() uint64 { return a.counter }

// Balance is the account's native balance in the world state, available to
// fund call values and direct withdrawals.
func (a *Account) Balance() *big.Int {
	return a.state.GetBalance(a.address)
}

// IsValidSigner reports whether addr is authorized to sign for this account.
func (a *Account) IsValidSigner(addr common.Address) bool {
	_, ok := a.signers[addr]
	return ok
}

// IsValidSignature recovers the signer of an EIP-191 signature over digest
// and checks it against the authorized set.
func (a *Account) IsValidSignature(digest common.Hash, sig []byte) bool {
	recovered, err := signer.RecoverSigner(digest.Bytes(), sig)
	if err != nil {
		return false
	}
	return a.IsValidSigner(recovered)
}

// SelectorAllowed reports whether calldata passes the account's whitelist.
// An empty whitelist permits everything; once populated, only listed
// selectors go through. Plain value transfers carry no selector and always
// pass.
func (a *Account) SelectorAllowed(data []byte) bool {
	if len(a.selectors) == 0 || len(data) == 0 {
		return true
	}
	sel, err := byte4.FromCalldata(data)
	if err != nil {
		return false
	}
	_, ok := a.selectors[sel]
	return ok
}

// Execute dispatches one call from this account. Only the entry point or the
// owner may drive it. Failures are reported in the result, never as panics,
// and the execution counter moves only on success.
func (a *Account) Execute(caller, target common.Address, value *big.Int, data []byte, gasLimit uint64) CallResult {
	if caller != a.entryPoint && caller != a.owner {
		return CallResult{Reason: ErrUnauthorizedCaller.Error()}
	}
	if !a.SelectorAllowed(data) {
		return CallResult{Reason: "selector not whitelisted"}
	}

	res := a.state.Dispatch(a.address, target, value, data, gasLimit)
	if res.Success {
		a.counter++
	}
	a.events.Append(EventExecution, ExecutionEvent{
		Account: a.address,
		Target:  target,
		Value:   bigOrZero(value),
		Success: res.Success,
		GasUsed: res.GasUsed,
		Reason:  res.Reason,
	})
	return res
}

// ExecuteBatch runs several calls back to back under one authorization check.
// Entries fail or succeed independently; one bad call does not stop the rest.
func (a *Account) ExecuteBatch(caller common.Address, targets []common.Address, values []*big.Int, datas [][]byte, gasLimit uint64) ([]CallResult, error) {
	if len(targets) != len(values) || len(targets) != len(datas) {
		return nil, fmt.Errorf("batch length mismatch: %d targets, %d values, %d datas",
			len(targets), len(values), len(datas))
	}
	results := make([]CallResult, len(targets))
	for i := range targets {
		results[i] = a.Execute(caller, targets[i], values[i], datas[i], gasLimit)
	}
	return results, nil
}

// AddSigner authorizes an additional signer. Owner only.
func (a *Account) AddSigner(caller, addr common.Address) error {
	if caller != a.owner {
		return ErrUnauthorizedCaller
	}
	a.signers[addr] = struct{}{}
	a.events.Append(EventSignerAdded, MembershipEvent{
		Scope: a.address, Subject: addressHash(addr), Added: true,
	})
	return nil
}

// RemoveSigner revokes a signer. The owner cannot revoke itself.
func (a *Account) RemoveSigner(caller, addr common.Address) error {
	if caller != a.owner {
		return ErrUnauthorizedCaller
	}
	if addr == a.owner {
		return fmt.Errorf("cannot remove the owner from the signer set")
	}
	delete(a.signers, addr)
	a.events.Append(EventSignerRemoved, MembershipEvent{
		Scope: a.address, Subject: addressHash(addr), Added: false,
	})
	return nil
}

// AddSelector whitelists a function selector. The first addition flips the
// account from allow-all to allowlist mode.
func (a *Account) AddSelector(caller common.Address, sel byte4.Selector) error {
	if caller != a.owner {
		return ErrUnauthorizedCaller
	}
	a.selectors[sel] = struct{}{}
	a.events.Append(EventSelectorAdded, MembershipEvent{
		Scope: a.address, Subject: selectorHash(sel), Added: true,
	})
	return nil
}

// RemoveSelector drops a selector from the whitelist.
func (a *Account) RemoveSelector(caller common.Address, sel byte4.Selector) error {
	if caller != a.owner {
		return ErrUnauthorizedCaller
	}
	delete(a.selectors, sel)
	a.events.Append(EventSelectorRemoved, MembershipEvent{
		Scope: a.address, Subject: selectorHash(sel), Added: false,
	})
	return nil
}

// TransferOwnership hands the account to a new owner, who is added to the
// signer set. The old owner stays a signer until explicitly removed.
func (a *Account) TransferOwnership(caller, newOwner common.Address) error {
	if caller != a.owner {
		return ErrUnauthorizedCaller
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("new owner must not be the zero address")
	}
	old := a.owner
	a.owner = newOwner
	a.signers[newOwner] = struct{}{}
	a.events.Append(EventOwnershipTransferred, OwnershipEvent{
		Account: a.address, OldOwner: old, NewOwner: newOwner,
	})
	return nil
}

// Withdraw moves native funds held by the account out to a recipient.
// Owner only.
func (a *Account) Withdraw(caller, to common.Address, amount *big.Int) error {
	if caller != a.owner {
		return ErrUnauthorizedCaller
	}
	if err := a.state.Transfer(a.address, to, amount); err != nil {
		return err
	}
	a.events.Append(EventWithdraw, BalanceEvent{
		Holder: a.address, Ledger: a.address, Amount: bigOrZero(amount), Balance: a.Balance(),
	})
	return nil
}

func addressHash(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func selectorHash(sel byte4.Selector) common.Hash {
	return common.BytesToHash(sel[:])
}
