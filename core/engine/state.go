package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Gas metering constants mirroring the protocol's intrinsic costs.
const (
	baseCallGas         uint64 = 21000
	calldataNonZeroGas  uint64 = 16
	calldataZeroByteGas uint64 = 4
)

// CallResult is the outcome of a single dispatched call. Reason is set only
// on failure and is meant for receipts and logs, not for branching.
type CallResult struct {
	Success bool
	GasUsed uint64
	Reason  string
}

// CallHandler is the programmable body of a callable target. It receives the
// caller, any value already credited to the target, and the calldata past
// dispatch, and returns the gas it consumed on top of the intrinsic cost.
type CallHandler interface {
	Call(caller common.Address, value *big.Int, data []byte) (gasUsed uint64, err error)
}

// CallHandlerFunc adapts a function to the CallHandler interface.
type CallHandlerFunc func(caller common.Address, value *big.Int, data []byte) (uint64, error)

func (f CallHandlerFunc) Call(caller common.Address, value *big.Int, data []byte) (uint64, error) {
	return f(caller, value, data)
}

// WorldState holds native balances and the registered call targets the engine
// can dispatch into. It is safe for concurrent use, though batch execution
// itself is single-threaded.
type WorldState struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	handlers map[common.Address]CallHandler
}

func NewWorldState() *WorldState {
	return &WorldState{
		balances: make(map[common.Address]*big.Int),
		handlers: make(map[common.Address]CallHandler),
	}
}

// GetBalance returns a copy of the address's native balance.
func (ws *WorldState) GetBalance(addr common.Address) *big.Int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if b, ok := ws.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance overwrites the address's balance. Meant for genesis-style setup.
func (ws *WorldState) SetBalance(addr common.Address, amount *big.Int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.balances[addr] = new(big.Int).Set(bigOrZero(amount))
}

// AddBalance credits the address.
func (ws *WorldState) AddBalance(addr common.Address, amount *big.Int) {
	amount = bigOrZero(amount)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.addLocked(addr, amount)
}

// SubBalance debits the address, failing without mutation when the balance
// does not cover the amount.
func (ws *WorldState) SubBalance(addr common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.subLocked(addr, amount)
}

// Transfer atomically moves value between two addresses.
func (ws *WorldState) Transfer(from, to common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.subLocked(from, amount); err != nil {
		return err
	}
	ws.addLocked(to, amount)
	return nil
}

func (ws *WorldState) addLocked(addr common.Address, amount *big.Int) {
	if b, ok := ws.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	ws.balances[addr] = new(big.Int).Set(amount)
}

func (ws *WorldState) subLocked(addr common.Address, amount *big.Int) error {
	b, ok := ws.balances[addr]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance,
			addr.Hex(), ws.balanceStringLocked(addr), amount.String())
	}
	b.Sub(b, amount)
	return nil
}

func (ws *WorldState) balanceStringLocked(addr common.Address) string {
	if b, ok := ws.balances[addr]; ok {
		return b.String()
	}
	return "0"
}

// RegisterHandler installs the call body for a target address. Dispatching to
// an address without a handler is still a valid plain value transfer.
func (ws *WorldState) RegisterHandler(addr common.Address, h CallHandler) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.handlers[addr] = h
}

func (ws *WorldState) handler(addr common.Address) (CallHandler, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	h, ok := ws.handlers[addr]
	return h, ok
}

// IntrinsicGas is the unavoidable cost of a call before the target runs:
// the base cost plus per-byte calldata pricing.
func IntrinsicGas(data []byte) uint64 {
	gas := baseCallGas
	for _, b := range data {
		if b == 0 {
			gas += calldataZeroByteGas
		} else {
			gas += calldataNonZeroGas
		}
	}
	return gas
}

// Dispatch performs one call: debit value from the caller, credit the target,
// then run the target's handler if one is registered. A handler error or a
// blown gas limit undoes the value transfer, so a failed call never moves
// funds. GasUsed is capped at gasLimit.
func (ws *WorldState) Dispatch(caller, target common.Address, value *big.Int, data []byte, gasLimit uint64) CallResult {
	value = bigOrZero(value)
	gasUsed := IntrinsicGas(data)
	if gasUsed > gasLimit {
		return CallResult{GasUsed: gasLimit, Reason: "out of gas"}
	}

	if value.Sign() > 0 {
		if err := ws.Transfer(caller, target, value); err != nil {
			return CallResult{GasUsed: gasUsed, Reason: err.Error()}
		}
	}

	if h, ok := ws.handler(target); ok {
		handlerGas, err := h.Call(caller, value, data)
		gasUsed += handlerGas
		if gasUsed > gasLimit {
			ws.revertTransfer(caller, target, value)
			return CallResult{GasUsed: gasLimit, Reason: "out of gas"}
		}
		if err != nil {
			ws.revertTransfer(caller, target, value)
			return CallResult{GasUsed: gasUsed, Reason: err.Error()}
		}
	}

	return CallResult{Success: true, GasUsed: gasUsed}
}

func (ws *WorldState) revertTransfer(caller, target common.Address, value *big.Int) {
	if value.Sign() > 0 {
		// The credit just happened, so the reverse transfer cannot fail.
		_ = ws.Transfer(target, caller, value)
	}
}
