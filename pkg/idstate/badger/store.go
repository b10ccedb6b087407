// Package badger stores identifier state in BadgerDB with one key per used
// id, so an allocation writes two small keys instead of the whole table.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/rfidgate/pkg/idstate"
)

// Key namespace:
//
//	"id:next"         -> uint64 big-endian
//	"id:used:<u64be>" -> empty
var (
	keyNext    = []byte("id:next")
	prefixUsed = []byte("id:used:")
)

func keyUsed(id uint64) []byte {
	k := make([]byte, len(prefixUsed)+8)
	copy(k, prefixUsed)
	binary.BigEndian.PutUint64(k[len(prefixUsed):], id)
	return k
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Store is a BadgerDB-backed idstate.Store and idstate.Reserver.
type Store struct {
	db *badgerdb.DB
}

var (
	_ idstate.Store    = (*Store)(nil)
	_ idstate.Reserver = (*Store)(nil)
)

// Open opens (or creates) the database directory at path. Writes are synced
// before they are acknowledged.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(true)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger state at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a non-persistent database, for tests.
func OpenInMemory() (*Store, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context) (idstate.State, error) {
	if err := ctx.Err(); err != nil {
		return idstate.State{}, err
	}

	st := idstate.State{UsedIDs: []uint64{}}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyNext)
		if err == badgerdb.ErrKeyNotFound {
			return idstate.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt next id value (%d bytes)", len(val))
			}
			st.NextID = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}

		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixUsed
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if len(k) != len(prefixUsed)+8 {
				continue
			}
			st.UsedIDs = append(st.UsedIDs, binary.BigEndian.Uint64(k[len(prefixUsed):]))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, idstate.ErrNotFound) {
			return idstate.State{}, err
		}
		return idstate.State{}, fmt.Errorf("load badger state: %w", err)
	}
	return st.Normalize(), nil
}

// Save replaces the whole table.
func (s *Store) Save(ctx context.Context, st idstate.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st = st.Normalize()

	if err := s.db.DropPrefix(prefixUsed); err != nil {
		return fmt.Errorf("clear used ids: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range st.UsedIDs {
		if err := wb.Set(keyUsed(id), nil); err != nil {
			return fmt.Errorf("stage used id %d: %w", id, err)
		}
	}
	if err := wb.Set(keyNext, encodeUint64(st.NextID)); err != nil {
		return fmt.Errorf("stage next id: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("save badger state: %w", err)
	}
	return nil
}

// Reserve records one allocation in a single transaction.
func (s *Store) Reserve(ctx context.Context, id uint64, nextID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyUsed(id), nil); err != nil {
			return err
		}
		return txn.Set(keyNext, encodeUint64(nextID))
	})
	if err != nil {
		return fmt.Errorf("reserve id %d: %w", id, err)
	}
	return nil
}

// Healthcheck verifies the database can serve a read transaction.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(*badgerdb.Txn) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}
