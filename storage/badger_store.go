package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// badgerDBPath is the on-disk location a BadgerStore opens, one
// directory per node identity, keeping sibling nodes' local state
// from colliding on a shared machine.
const badgerDBPath = "./tmp/blocks_%s"

var headKey = []byte("head")

// BadgerStore is a BlockStore backed by an embedded badger database.
// It never participates in fork choice or transaction application —
// it is a flat id→serialized-block cache plus a single head pointer,
// wired only from cmd/ledgerd's optional -persist flag.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the badger database for nodeID.
func OpenBadgerStore(nodeID string) (*BadgerStore, error) {
	path := fmt.Sprintf(badgerDBPath, nodeID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create badger dir: %w", err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := openBadgerDB(path, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// openBadgerDB opens db at dir, retrying once by removing a stale
// LOCK file left behind by an unclean shutdown before giving up.
func openBadgerDB(dir string, opts badger.Options) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "LOCK") {
		return nil, err
	}

	lockPath := filepath.Join(dir, "LOCK")
	if rmErr := os.Remove(lockPath); rmErr != nil {
		return nil, fmt.Errorf("could not remove stale lock file: %w (original error: %v)", rmErr, err)
	}
	return badger.Open(opts)
}

func (s *BadgerStore) PutBlock(id string, serialized string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("block:"+id), []byte(serialized))
	})
}

func (s *BadgerStore) GetBlock(id string) (string, bool, error) {
	var value string
	found := true
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("block:" + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = string(v)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *BadgerStore) AllBlocks() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("block:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			err := item.Value(func(v []byte) error {
				out[key] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) SetHead(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(headKey, []byte(id))
	})
}

func (s *BadgerStore) Head() (string, bool, error) {
	var id string
	found := true
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(headKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			id = string(v)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return id, found, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ BlockStore = (*BadgerStore)(nil)
