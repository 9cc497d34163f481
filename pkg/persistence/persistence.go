// Package persistence stores JSON-encoded state blobs in a Badger
// database, keyed by "prefix:id:tag". The proposal server uses it to
// carry engine state across restarts.
package persistence

import (
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// ErrNotExists marks a key that has never been saved.
var ErrNotExists = errors.New("persistence: data does not exist")

// Service hands out stores bound to one key.
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store saves and loads a single JSON value.
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// BadgerService is the Badger-backed Service.
type BadgerService struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*BadgerService, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("persistence: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerService{db: db}, nil
}

func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStore binds a store to the composite key.
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &badgerStore{
		db:  s.db,
		key: []byte(fmt.Sprintf("%s:%s:%s", prefix, id, tag)),
	}
}

type badgerStore struct {
	db  *badger.DB
	key []byte
}

func (s *badgerStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

func (s *badgerStore) Load(data interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotExists
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return ErrNotExists
			}
			return json.Unmarshal(val, data)
		})
	})
}
