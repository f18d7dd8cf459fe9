// Package storage wraps badger with the small key/value surface the engine
// needs: wallet configs, counters, and the append-only event journal.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
)

type Config struct {
	Path string
}

type Sequence interface {
	Next() (uint64, error)
	Release() error
}

type Storage interface {
	Setup() error
	Close() error

	GetSequence(prefix []byte, inflightItems uint64) (Sequence, error)

	Exist(key []byte) (bool, error)
	GetKey(key []byte) ([]byte, error)
	GetByPrefix(prefix []byte) ([]*KeyValueItem, error)
	CountKeysByPrefix(prefix []byte) (int64, error)

	Set(key, value []byte) error
	BatchWrite(updates map[string][]byte) error
	Delete(key []byte) error

	GetCounter(key []byte, defaultValue ...uint64) (uint64, error)
	IncCounter(key []byte, defaultValue ...uint64) (uint64, error)
	SetCounter(key []byte, value uint64) error

	Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error)
	Load(ctx context.Context, r io.Reader) error

	Vacuum() error
	DbPath() string
}

type KeyValueItem struct {
	Key   []byte
	Value []byte
}

type BadgerStorage struct {
	config *Config
	db     *badger.DB
	seqs   []*badger.Sequence
}

// NewWithPath opens a store at the given directory.
func NewWithPath(path string) (Storage, error) {
	return New(&Config{Path: path})
}

func New(c *Config) (Storage, error) {
	opts := badger.DefaultOptions(c.Path)
	db, err := badger.Open(opts.WithSyncWrites(true))
	if err != nil {
		return nil, err
	}

	return &BadgerStorage{
		config: c,
		db:     db,
		seqs:   make([]*badger.Sequence, 0),
	}, nil
}

func (s *BadgerStorage) Setup() error {
	return nil
}

func (s *BadgerStorage) Close() error {
	for _, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			return err
		}
	}
	return s.db.Close()
}

func (s *BadgerStorage) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStorage) BatchWrite(updates map[string][]byte) error {
	txn := s.db.NewTransaction(true)
	for k, v := range updates {
		if err := txn.Set([]byte(k), v); err == badger.ErrTxnTooBig {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return txn.Commit()
}

func (s *BadgerStorage) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStorage) Exist(key []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *BadgerStorage) GetKey(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})
	return value, err
}

// GetByPrefix returns every key/value pair whose key starts with prefix, in
// key order.
func (s *BadgerStorage) GetByPrefix(prefix []byte) ([]*KeyValueItem, error) {
	var result []*KeyValueItem

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 30
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, e := item.ValueCopy(nil)
			if e != nil {
				return e
			}
			result = append(result, &KeyValueItem{Key: k, Value: v})
		}
		return nil
	})

	return result, err
}

// CountKeysByPrefix only walks the lsm tree, values are never fetched.
func (s *BadgerStorage) CountKeysByPrefix(prefix []byte) (int64, error) {
	if len(prefix) == 0 {
		return 0, fmt.Errorf("cannot count prefix with length 0")
	}

	total := int64(0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetSequence wraps a badger sequence; released on Close.
func (s *BadgerStorage) GetSequence(prefix []byte, inflightItems uint64) (Sequence, error) {
	seq, err := s.db.GetSequence(prefix, inflightItems)
	if err != nil {
		return nil, err
	}
	s.seqs = append(s.seqs, seq)
	return seq, nil
}

// Counters are stored as decimal strings so they stay readable in console
// tooling.

func (s *BadgerStorage) GetCounter(key []byte, defaultValue ...uint64) (uint64, error) {
	var counter uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			if len(defaultValue) > 0 {
				counter = defaultValue[0]
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseUint(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid counter format: %w", err)
			}
			counter = parsed
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return counter, nil
}

func (s *BadgerStorage) IncCounter(key []byte, defaultValue ...uint64) (uint64, error) {
	var newValue uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		var start uint64
		if len(defaultValue) > 0 {
			start = defaultValue[0]
		}

		item, err := txn.Get(key)
		switch {
		case err == badger.ErrKeyNotFound:
			newValue = start + 1
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				current, err := strconv.ParseUint(string(val), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid counter format: %w", err)
				}
				newValue = current + 1
				return nil
			}); err != nil {
				return err
			}
		}

		return txn.Set(key, []byte(strconv.FormatUint(newValue, 10)))
	})
	if err != nil {
		return 0, err
	}
	return newValue, nil
}

func (s *BadgerStorage) SetCounter(key []byte, value uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(strconv.FormatUint(value, 10)))
	})
}

func (s *BadgerStorage) Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error) {
	return s.db.Backup(w, since)
}

func (s *BadgerStorage) Load(ctx context.Context, r io.Reader) error {
	return s.db.Load(r, 16)
}

func (s *BadgerStorage) Vacuum() error {
	return s.db.RunValueLogGC(0.7)
}

func (s *BadgerStorage) DbPath() string {
	return s.config.Path
}

// Destroy shuts the database down and wipes its data directory.
func Destroy(s *BadgerStorage) error {
	s.Close()
	return os.RemoveAll(s.config.Path)
}
