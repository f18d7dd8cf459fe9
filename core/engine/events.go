package engine

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"

	"github.com/sutrapulse/aa-engine/pkg/logger"
	"github.com/sutrapulse/aa-engine/storage"
)

type EventType string

const (
	EventAccountCreated       EventType = "account_created"
	EventExecution            EventType = "execution"
	EventOperationSettled     EventType = "operation_settled"
	EventBatchAborted         EventType = "batch_aborted"
	EventDeposit              EventType = "deposit"
	EventWithdraw             EventType = "withdraw"
	EventSignerAdded          EventType = "signer_added"
	EventSignerRemoved        EventType = "signer_removed"
	EventSelectorAdded        EventType = "selector_added"
	EventSelectorRemoved      EventType = "selector_removed"
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventWhitelistUpdated     EventType = "whitelist_updated"
	EventTokenRateSet         EventType = "token_rate_set"
)

const eventKeyPrefix = "ev:"

// Record is one journaled engine event. The ULID id doubles as the storage
// key suffix, so records list back in emission order.
type Record struct {
	ID   string          `json:"id"`
	Type EventType       `json:"type"`
	At   time.Time       `json:"at"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Typed event bodies. Consumers unmarshal Record.Body by Record.Type.
type AccountCreatedEvent struct {
	Account common.Address `json:"account"`
	Owner   common.Address `json:"owner"`
	Factory common.Address `json:"factory"`
}

type ExecutionEvent struct {
	Account common.Address `json:"account"`
	Target  common.Address `json:"target"`
	Value   *big.Int       `json:"value"`
	Success bool           `json:"success"`
	GasUsed uint64         `json:"gasUsed"`
	Reason  string         `json:"reason,omitempty"`
}

type BalanceEvent struct {
	Holder  common.Address `json:"holder"`
	Ledger  common.Address `json:"ledger"`
	Token   common.Address `json:"token,omitempty"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"`
}

type BatchAbortedEvent struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type MembershipEvent struct {
	Scope   common.Address `json:"scope"`
	Subject common.Hash    `json:"subject"`
	Added   bool           `json:"added"`
}

type OwnershipEvent struct {
	Account  common.Address `json:"account"`
	OldOwner common.Address `json:"oldOwner"`
	NewOwner common.Address `json:"newOwner"`
}

type TokenRateEvent struct {
	Sponsor common.Address `json:"sponsor"`
	Token   common.Address `json:"token"`
	Rate    *big.Int       `json:"rate"`
}

// EventStream is the engine's append-only journal. Records are persisted to
// storage when a database is attached, and fanned out to subscribers on a
// best-effort basis: a slow subscriber drops records rather than stalling
// settlement.
type EventStream struct {
	mu      sync.Mutex
	db      storage.Storage
	logger  logger.Logger
	entropy *ulid.MonotonicEntropy
	subs    []chan *Record
	closed  bool
}

func NewEventStream(db storage.Storage, log logger.Logger) *EventStream {
	return &EventStream{
		db:      db,
		logger:  logger.EnsureLogger(log),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Append journals one event and notifies subscribers. Marshal or storage
// failures are logged, never propagated; settlement must not depend on the
// journal.
func (es *EventStream) Append(typ EventType, body any) *Record {
	var raw json.RawMessage
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			es.logger.Errorf("marshal %s event body: %v", typ, err)
		} else {
			raw = encoded
		}
	}

	es.mu.Lock()
	now := time.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), es.entropy).String()
	rec := &Record{ID: id, Type: typ, At: now, Body: raw}
	subs := make([]chan *Record, len(es.subs))
	copy(subs, es.subs)
	es.mu.Unlock()

	if es.db != nil {
		data, err := json.Marshal(rec)
		if err == nil {
			err = es.db.Set([]byte(eventKeyPrefix+id), data)
		}
		if err != nil {
			es.logger.Errorf("journal %s event: %v", typ, err)
		}
	}

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
	return rec
}

// Subscribe registers a buffered channel receiving future records.
func (es *EventStream) Subscribe(buffer int) <-chan *Record {
	ch := make(chan *Record, buffer)
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		close(ch)
		return ch
	}
	es.subs = append(es.subs, ch)
	return ch
}

// History replays journaled records in emission order. Empty without storage.
func (es *EventStream) History() ([]*Record, error) {
	if es.db == nil {
		return nil, nil
	}
	kvs, err := es.db.GetByPrefix([]byte(eventKeyPrefix))
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(kvs))
	for _, kv := range kvs {
		var rec Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			es.logger.Errorf("decode journaled event %s: %v", string(kv.Key), err)
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Close stops fan-out and closes all subscriber channels.
func (es *EventStream) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return
	}
	es.closed = true
	for _, ch := range es.subs {
		close(ch)
	}
	es.subs = nil
}
