package persistence

import (
	"binance-flow-bot-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v3"
)

var (
	loopStateKey   = []byte("loop_state")
	orderKeyPrefix = []byte("order/")
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return newBadgerRepository(badger.DefaultOptions(dbPath))
}

func newBadgerRepository(opts badger.Options) (*badgerRepository, error) {
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}
	return &badgerRepository{db: db}, nil
}

// SaveLoopState marshals the state into JSON and saves it under a fixed key.
func (r *badgerRepository) SaveLoopState(state *models.LoopState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(loopStateKey, data)
	})
}

// LoadLoopState returns (nil, nil) when nothing has been saved yet.
func (r *badgerRepository) LoadLoopState() (*models.LoopState, error) {
	var state models.LoopState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(loopStateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("loop state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *badgerRepository) RecordOrder(record *models.OrderRecord) error {
	if record.ClientOrderID == "" {
		return errors.New("order record has no client order id")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := append(append([]byte{}, orderKeyPrefix...), record.ClientOrderID...)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (r *badgerRepository) ListOrders() ([]models.OrderRecord, error) {
	var records []models.OrderRecord

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(orderKeyPrefix); it.ValidForPrefix(orderKeyPrefix); it.Next() {
			var rec models.OrderRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// keys are ordered by client id, callers want submission order
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})
	return records, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
