// Package store persists the capture queue and the ledger in a single
// bbolt file.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/ledger"
)

const (
	queueBucket    = "capture_queue"
	expensesBucket = "expenses"
	accountsBucket = "accounts"
)

// BoltDB implements capture.Queue and ledger.DB using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

var (
	_ capture.Queue = (*BoltDB)(nil)
	_ ledger.DB     = (*BoltDB)(nil)
)

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	return open(path, &bbolt.Options{Timeout: 1 * time.Second})
}

// NewReadOnlyBoltDB opens an existing database without taking the write
// lock, for inspection tools.
func NewReadOnlyBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func open(path string, opts *bbolt.Options) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{queueBucket, expensesBucket, accountsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// bucket returns the named bucket or an error when a read-only file
// predates it
func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s missing", name)
	}
	return b, nil
}

// Enqueue inserts a new item
func (b *BoltDB) Enqueue(item *capture.Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		if bkt.Get([]byte(item.ID)) != nil {
			return fmt.Errorf("%w: %s", capture.ErrDuplicateItem, item.ID)
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		return bkt.Put([]byte(item.ID), data)
	})
}

// Get retrieves a queued item by ID
func (b *BoltDB) Get(id string) (*capture.Item, error) {
	var item *capture.Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		data := bkt.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", capture.ErrNotFound, id)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListAll returns every queued item
func (b *BoltDB) ListAll() ([]*capture.Item, error) {
	items := make([]*capture.Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, v []byte) error {
			var item capture.Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item %s: %w", k, err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Remove deletes a queued item; missing ids are ignored
func (b *BoltDB) Remove(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		return bkt.Delete([]byte(id))
	})
}

// SaveExpense saves an expense
func (b *BoltDB) SaveExpense(expense *ledger.Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, expensesBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(expense)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bkt.Put([]byte(expense.ID), data)
	})
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() ([]*ledger.Expense, error) {
	expenses := make([]*ledger.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, expensesBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, v []byte) error {
			var expense ledger.Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &expense)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// AddAccount appends an account. Keys are the bucket sequence so the
// cursor walks accounts in insertion order.
func (b *BoltDB) AddAccount(account capture.Account) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, accountsBucket)
		if err != nil {
			return err
		}
		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("next account sequence: %w", err)
		}
		data, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("marshaling account: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bkt.Put(key, data)
	})
}

// ListAccounts returns accounts in insertion order
func (b *BoltDB) ListAccounts() ([]capture.Account, error) {
	accounts := make([]capture.Account, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx, accountsBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, v []byte) error {
			var account capture.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return fmt.Errorf("unmarshaling account: %w", err)
			}
			accounts = append(accounts, account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}
