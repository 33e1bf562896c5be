package badger

import (
	"context"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/stemflow/store"
	"github.com/warriorguo/stemflow/types"
)

var (
	_ store.Store = &badgerStore{}
)

// Config holds BadgerDB configuration
type Config struct {
	// Path is the database directory, ignored when InMemory is true.
	Path     string
	InMemory bool
	// SyncWrites trades write latency for durability.
	SyncWrites bool
	// Logger receives badger internal logs, nil disables them.
	Logger *log.Entry
}

func FromOptions(c *types.BadgerConfig) *Config {
	if c == nil {
		return &Config{InMemory: true}
	}
	return &Config{Path: c.Path, InMemory: c.InMemory, SyncWrites: !c.InMemory}
}

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens an embedded store, keys are `prefix|key`.
func NewBadgerStore(config *Config) (store.Store, error) {
	if config == nil {
		config = &Config{InMemory: true}
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.NotValidf("empty badger path")
		}
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, errors.Annotatef(err, "create badger directory %s", config.Path)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithSyncWrites(config.SyncWrites).WithNumVersionsToKeep(1)
	if config.Logger != nil {
		opts = opts.WithLogger(config.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open badger database")
	}
	return &badgerStore{db: db}, nil
}

func formatKey(prefix, key string) []byte {
	return []byte(prefix + "|" + key)
}

func (b *badgerStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(formatKey(prefix, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return value, nil
}

func (b *badgerStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(formatKey(prefix, key), value)
	})
	return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
}

func (b *badgerStore) Remove(ctx context.Context, prefix, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(formatKey(prefix, key))
	})
	return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
}

func (b *badgerStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	p := []byte(prefix + "|")
	keys := make([]string, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(p):]))
		}
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}

	// the iterator callback runs outside the read transaction
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (b *badgerStore) Close() error {
	return errors.Trace(b.db.Close())
}
