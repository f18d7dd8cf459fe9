package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/sutrapulse/aa-engine/metrics"
	"github.com/sutrapulse/aa-engine/pkg/feerate"
	"github.com/sutrapulse/aa-engine/pkg/logger"
	"github.com/sutrapulse/aa-engine/pkg/signer"
	"github.com/sutrapulse/aa-engine/pkg/timekeeper"
)

// EntryPoint is the batch processor. HandleOps validates every operation
// before any of them runs, then executes and settles them one by one, and
// finally compensates the beneficiary with the gas it collected.
type EntryPoint struct {
	mu       sync.Mutex
	address  common.Address
	chainID  *big.Int
	state    *WorldState
	factory  *Factory
	fees     feerate.Source
	events   *EventStream
	logger   logger.Logger
	metrics  metrics.EngineMetrics
	deposits map[common.Address]*big.Int
	sponsors map[common.Address]Sponsor
}

type EntryPointConfig struct {
	Address common.Address
	ChainID *big.Int
	State   *WorldState
	Factory *Factory
	Fees    feerate.Source
	Events  *EventStream
	Logger  logger.Logger
	Metrics metrics.EngineMetrics
}

func NewEntryPoint(cfg EntryPointConfig) *EntryPoint {
	fees := cfg.Fees
	if fees == nil {
		fees = feerate.NewStatic(new(big.Int), new(big.Int))
	}
	var m metrics.EngineMetrics = cfg.Metrics
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	return &EntryPoint{
		address:  cfg.Address,
		chainID:  bigOrZero(cfg.ChainID),
		state:    cfg.State,
		factory:  cfg.Factory,
		fees:     fees,
		events:   cfg.Events,
		logger:   logger.EnsureLogger(cfg.Logger),
		metrics:  m,
		deposits: make(map[common.Address]*big.Int),
		sponsors: make(map[common.Address]Sponsor),
	}
}

func (ep *EntryPoint) Address() common.Address { return ep.address }
func (ep *EntryPoint) ChainID() *big.Int       { return new(big.Int).Set(ep.chainID) }

// RegisterSponsor makes a sponsor addressable from operations.
func (ep *EntryPoint) RegisterSponsor(s Sponsor) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.sponsors[s.Address()] = s
}

// Deposit moves native funds from the account's world balance into its
// entry point deposit, the balance prefund checks run against.
func (ep *EntryPoint) Deposit(account common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)
	if amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	if err := ep.state.SubBalance(account, amount); err != nil {
		return err
	}

	ep.mu.Lock()
	ep.creditLocked(account, amount)
	balance := new(big.Int).Set(ep.deposits[account])
	ep.mu.Unlock()

	ep.events.Append(EventDeposit, BalanceEvent{
		Holder: account, Ledger: ep.address, Amount: amount, Balance: balance,
	})
	return nil
}

// Withdraw moves deposited funds back to a recipient's world balance.
func (ep *EntryPoint) Withdraw(account, to common.Address, amount *big.Int) error {
	amount = bigOrZero(amount)

	ep.mu.Lock()
	if err := ep.debitLocked(account, amount); err != nil {
		ep.mu.Unlock()
		return err
	}
	balance := new(big.Int).Set(ep.deposits[account])
	ep.mu.Unlock()

	ep.state.AddBalance(to, amount)
	ep.events.Append(EventWithdraw, BalanceEvent{
		Holder: account, Ledger: ep.address, Amount: amount, Balance: balance,
	})
	return nil
}

// BalanceOf reports an account's entry point deposit.
func (ep *EntryPoint) BalanceOf(account common.Address) *big.Int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if b, ok := ep.deposits[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// HandleOps processes one batch. Validation is all-or-nothing: the first
// failure returns a BatchAbortError and not a single operation executes.
// Past validation, every operation settles: a failed call still has its gas
// cost debited and a receipt emitted, and the batch keeps going. Collected
// gas is credited to the beneficiary's world balance at the end; an operation
// whose payment cannot be collected reports a failed receipt with zero cost
// and contributes nothing to the beneficiary.
func (ep *EntryPoint) HandleOps(ctx context.Context, ops []*Operation, beneficiary common.Address) ([]*Receipt, error) {
	elapsing := timekeeper.NewElapsing()
	ep.metrics.ObserveBatchSize(float64(len(ops)))

	infos := make([]*opInfo, len(ops))
	for i, op := range ops {
		info, abortErr := ep.validateOp(i, op)
		if abortErr != nil {
			ep.logger.Infof("batch aborted index=%d reason=%s err=%v", abortErr.Index, abortErr.Reason, abortErr.Err)
			ep.metrics.IncBatchesAborted(abortErr.Reason)
			ep.events.Append(EventBatchAborted, BatchAbortedEvent{
				Index:  abortErr.Index,
				Reason: abortErr.Reason,
				Detail: fmt.Sprint(abortErr.Err),
			})
			return nil, abortErr
		}
		infos[i] = info
	}

	quote, err := ep.fees.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch fee quote: %w", err)
	}

	collected := new(big.Int)
	receipts := make([]*Receipt, len(ops))
	for i, op := range ops {
		receipt := ep.executeOp(op, infos[i], quote)
		receipts[i] = receipt
		collected.Add(collected, receipt.ActualGasCost)

		status := "failed"
		if receipt.Success {
			status = "succeeded"
		}
		ep.metrics.IncOperationsSettled(status)
		ep.events.Append(EventOperationSettled, receipt)
	}

	if beneficiary != (common.Address{}) && collected.Sign() > 0 {
		ep.state.AddBalance(beneficiary, collected)
	}
	gasWei, _ := new(big.Float).SetInt(collected).Float64()
	ep.metrics.AddGasCollected(gasWei)

	succeeded := lo.CountBy(receipts, func(r *Receipt) bool { return r.Success })
	ep.logger.Infof("batch settled ops=%d succeeded=%d collected=%s beneficiary=%s took=%s",
		len(ops), succeeded, collected.String(), beneficiary.Hex(), elapsing.Report())
	return receipts, nil
}

// validateOp is one step of the pre-pass: resolve the sender or verify its
// init code, verify the signature over the operation hash, then prove
// solvency for the required prefund against the right ledger. Nothing here
// mutates state; deployments are staged for the execution pass so an aborted
// batch leaves no trace.
func (ep *EntryPoint) validateOp(index int, op *Operation) (*opInfo, *BatchAbortError) {
	info := &opInfo{
		prefund:       op.RequiredPrefund(),
		validationGas: op.PreVerificationGas + op.VerificationGasLimit,
	}

	acct, deployed := ep.factory.Account(op.Sender)
	var pendingOwner common.Address
	if deployed {
		info.account = acct
	} else {
		if len(op.InitCode) == 0 {
			return nil, abort(index, ReasonAccountNotDeployed, ErrAccountNotDeployed)
		}
		owner, _, err := ep.factory.VerifyInitCode(op.InitCode, op.Sender)
		if err != nil {
			return nil, abort(index, ReasonAccountNotDeployed, err)
		}
		pendingOwner = owner
		info.pendingInit = op.InitCode
	}

	hash := op.Hash(ep.address, ep.chainID)
	info.hash = hash
	recovered, err := signer.RecoverSigner(hash.Bytes(), op.Signature)
	if err != nil {
		return nil, abort(index, ReasonInvalidSignature, err)
	}
	// A fresh account starts with its owner as sole signer.
	authorized := recovered == pendingOwner
	if deployed {
		authorized = acct.IsValidSigner(recovered)
	}
	if !authorized {
		return nil, abort(index, ReasonInvalidSignature,
			fmt.Errorf("%w: recovered %s", ErrInvalidSignature, recovered.Hex()))
	}

	if len(op.SponsorAndData) > 0 && !op.HasSponsor() {
		return nil, abort(index, ReasonInvalidSponsor,
			fmt.Errorf("sponsor payload too short: %d bytes", len(op.SponsorAndData)))
	}

	if op.HasSponsor() {
		ep.mu.Lock()
		sponsor, ok := ep.sponsors[op.SponsorAddress()]
		ep.mu.Unlock()
		if !ok {
			return nil, abort(index, ReasonInvalidSponsor,
				fmt.Errorf("%w: %s", ErrUnknownSponsor, op.SponsorAddress().Hex()))
		}
		sponsorCtx, err := sponsor.ValidateSponsorship(ep.address, op.Sender, info.prefund)
		if err != nil {
			reason := ReasonInvalidSponsor
			if errors.Is(err, ErrInsufficientBalance) {
				reason = ReasonInsufficientBalance
			}
			return nil, abort(index, reason, err)
		}
		info.sponsored = true
		info.sponsor = sponsor
		info.sponsorContext = sponsorCtx
		return info, nil
	}

	if ep.BalanceOf(op.Sender).Cmp(info.prefund) < 0 {
		return nil, abort(index, ReasonInsufficientBalance,
			fmt.Errorf("%w: deposit of %s cannot cover prefund %s",
				ErrInsufficientBalance, op.Sender.Hex(), info.prefund.String()))
	}
	return info, nil
}

// executeOp runs one validated operation behind its fault boundary and
// settles its cost. Execution failure flips the receipt, never the batch.
func (ep *EntryPoint) executeOp(op *Operation, info *opInfo, quote *feerate.Quote) *Receipt {
	receipt := &Receipt{
		OperationHash: info.hash,
		Sender:        op.Sender,
		Sponsor:       op.SponsorAddress(),
		Nonce:         bigOrZero(op.Nonce),
	}

	res := CallResult{Success: true}
	if info.account == nil {
		acct, err := ep.factory.DeployFromInitCode(info.pendingInit)
		if err != nil {
			res = CallResult{Reason: err.Error()}
		} else {
			info.account = acct
		}
	}
	if res.Success && len(op.CallData) > 0 {
		target, value, data, err := unpackExecute(op.CallData)
		if err != nil {
			res = CallResult{Reason: err.Error()}
		} else {
			res = info.account.Execute(ep.address, target, value, data, op.CallGasLimit)
		}
	}

	gasUsed := info.validationGas + res.GasUsed
	price := feerate.EffectiveGasPrice(quote, op.MaxFeePerGas, op.MaxPriorityFeePerGas)
	actual := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), price)

	if err := ep.settle(op, info, actual); err != nil {
		// Several operations in one batch can validate against the same
		// deposit or sponsor balance, so an earlier settlement may have
		// drained what this one counted on. Nothing was debited here: the
		// receipt must report a zero cost, or HandleOps would credit the
		// beneficiary funds that were never collected.
		ep.logger.Errorf("settle operation %s: %v", info.hash.Hex(), err)
		res.Success = false
		res.Reason = fmt.Sprintf("settlement: %v", err)
		actual = new(big.Int)
	}

	receipt.Success = res.Success
	receipt.Reason = res.Reason
	receipt.GasUsed = gasUsed
	receipt.ActualGasCost = actual
	return receipt
}

func (ep *EntryPoint) settle(op *Operation, info *opInfo, actual *big.Int) error {
	if info.sponsored {
		return info.sponsor.PostOp(ep.address, info.sponsorContext, actual)
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.debitLocked(op.Sender, actual)
}

func (ep *EntryPoint) creditLocked(addr common.Address, amount *big.Int) {
	if b, ok := ep.deposits[addr]; ok {
		b.Add(b, amount)
		return
	}
	ep.deposits[addr] = new(big.Int).Set(amount)
}

func (ep *EntryPoint) debitLocked(addr common.Address, amount *big.Int) error {
	b, ok := ep.deposits[addr]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: deposit of %s cannot cover %s",
			ErrInsufficientBalance, addr.Hex(), amount.String())
	}
	b.Sub(b, amount)
	return nil
}
