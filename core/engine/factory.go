package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"

	"github.com/sutrapulse/aa-engine/model"
	"github.com/sutrapulse/aa-engine/pkg/logger"
	"github.com/sutrapulse/aa-engine/storage"
)

// Factory deploys accounts at deterministic addresses derived from
// (factory, owner, salt), so an address can be computed, funded, and even
// sponsored before the account exists. Deployment is idempotent: creating the
// same (owner, salt) twice returns the same account.
type Factory struct {
	mu         sync.Mutex
	address    common.Address
	entryPoint common.Address
	state      *WorldState
	events     *EventStream
	db         storage.Storage
	logger     logger.Logger
	accounts   map[common.Address]*Account
	created    func()
}

type FactoryConfig struct {
	Address    common.Address
	EntryPoint common.Address
	State      *WorldState
	Events     *EventStream
	DB         storage.Storage
	Logger     logger.Logger

	// OnAccountCreated fires once per fresh deployment, for metrics.
	OnAccountCreated func()
}

func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		address:    cfg.Address,
		entryPoint: cfg.EntryPoint,
		state:      cfg.State,
		events:     cfg.Events,
		db:         cfg.DB,
		logger:     logger.EnsureLogger(cfg.Logger),
		accounts:   make(map[common.Address]*Account),
		created:    cfg.OnAccountCreated,
	}
}

func (f *Factory) Address() common.Address { return f.address }

// ComputeAddress derives the account address for (owner, salt) without
// deploying anything. CreateAccount for the same inputs lands on exactly
// this address.
func (f *Factory) ComputeAddress(owner common.Address, salt *big.Int) common.Address {
	initPayload := append(owner.Bytes(), common.BigToHash(bigOrZero(salt)).Bytes()...)

	buf := make([]byte, 0, 1+common.AddressLength+2*common.HashLength)
	buf = append(buf, 0xff)
	buf = append(buf, f.address.Bytes()...)
	buf = append(buf, common.BigToHash(bigOrZero(salt)).Bytes()...)
	buf = append(buf, crypto.Keccak256(initPayload)...)
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// CreateAccount deploys the account for (owner, salt), or returns the one
// already deployed there.
func (f *Factory) CreateAccount(owner common.Address, salt *big.Int) (*Account, error) {
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("owner must not be the zero address")
	}
	addr := f.ComputeAddress(owner, salt)

	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[addr]; ok {
		return acct, nil
	}

	acct := newAccount(addr, owner, f.entryPoint, f.state, f.events)
	f.accounts[addr] = acct

	if f.db != nil {
		wallet := &model.Wallet{Owner: owner, Address: addr, Factory: f.address, Salt: bigOrZero(salt)}
		data, err := wallet.ToJSON()
		if err == nil {
			err = f.db.Set(wallet.StorageKey(), data)
		}
		if err != nil {
			f.logger.Errorf("persist wallet %s: %v", addr.Hex(), err)
		}
	}

	f.events.Append(EventAccountCreated, AccountCreatedEvent{
		Account: addr, Owner: owner, Factory: f.address,
	})
	if f.created != nil {
		f.created()
	}
	f.logger.Infof("account created address=%s owner=%s", addr.Hex(), owner.Hex())
	return acct, nil
}

// CreateAccountBatch deploys one account per (owner, salt) pair. A length
// mismatch fails before anything is created.
func (f *Factory) CreateAccountBatch(owners []common.Address, salts []*big.Int) ([]common.Address, error) {
	if len(owners) != len(salts) {
		return nil, fmt.Errorf("batch length mismatch: %d owners, %d salts", len(owners), len(salts))
	}
	accounts := make([]*Account, 0, len(owners))
	for i := range owners {
		acct, err := f.CreateAccount(owners[i], salts[i])
		if err != nil {
			return nil, fmt.Errorf("owner %s at index %d: %w", owners[i].Hex(), i, err)
		}
		accounts = append(accounts, acct)
	}
	return lo.Map(accounts, func(a *Account, _ int) common.Address {
		return a.Address()
	}), nil
}

// WalletsByOwner lists the persisted wallet configs deployed for an owner.
func (f *Factory) WalletsByOwner(owner common.Address) ([]*model.Wallet, error) {
	if f.db == nil {
		return nil, nil
	}
	kvs, err := f.db.GetByPrefix(model.WalletByOwnerPrefix(owner))
	if err != nil {
		return nil, err
	}
	wallets := make([]*model.Wallet, 0, len(kvs))
	for _, kv := range kvs {
		w := &model.Wallet{}
		if err := w.FromStorageData(kv.Value); err != nil {
			f.logger.Errorf("decode wallet %s: %v", string(kv.Key), err)
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// Account looks up a deployed account by address.
func (f *Factory) Account(addr common.Address) (*Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[addr]
	return acct, ok
}

// PackInitCode encodes a deployment request for Operation.InitCode: the
// factory address, then the owner, then the 32-byte salt.
func PackInitCode(factory, owner common.Address, salt *big.Int) []byte {
	packed := make([]byte, 0, 2*common.AddressLength+common.HashLength)
	packed = append(packed, factory.Bytes()...)
	packed = append(packed, owner.Bytes()...)
	packed = append(packed, common.BigToHash(bigOrZero(salt)).Bytes()...)
	return packed
}

// VerifyInitCode checks packed init code without deploying anything: it must
// name this factory and derive exactly the given sender address. It returns
// the owner the deployed account would belong to.
func (f *Factory) VerifyInitCode(initCode []byte, sender common.Address) (common.Address, *big.Int, error) {
	owner, salt, err := f.parseInitCode(initCode)
	if err != nil {
		return common.Address{}, nil, err
	}
	if derived := f.ComputeAddress(owner, salt); derived != sender {
		return common.Address{}, nil, fmt.Errorf("%w: derives %s, sender is %s",
			ErrMalformedInitCode, derived.Hex(), sender.Hex())
	}
	return owner, salt, nil
}

// DeployFromInitCode decodes packed init code and deploys through this
// factory. Init code naming a different factory is rejected.
func (f *Factory) DeployFromInitCode(initCode []byte) (*Account, error) {
	owner, salt, err := f.parseInitCode(initCode)
	if err != nil {
		return nil, err
	}
	return f.CreateAccount(owner, salt)
}

func (f *Factory) parseInitCode(initCode []byte) (common.Address, *big.Int, error) {
	if len(initCode) != 2*common.AddressLength+common.HashLength {
		return common.Address{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformedInitCode, len(initCode))
	}
	factoryAddr := common.BytesToAddress(initCode[:common.AddressLength])
	if factoryAddr != f.address {
		return common.Address{}, nil, fmt.Errorf("%w: init code names factory %s",
			ErrMalformedInitCode, factoryAddr.Hex())
	}
	owner := common.BytesToAddress(initCode[common.AddressLength : 2*common.AddressLength])
	salt := new(big.Int).SetBytes(initCode[2*common.AddressLength:])
	return owner, salt, nil
}
