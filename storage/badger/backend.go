package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db      *badger.DB
	logger  *slog.Logger
	writeMu sync.Mutex
}

var _ storage.Engine = (*Backend)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// BackendOption configures OpenBackend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	logger       *slog.Logger
	memTableSize int64
}

// WithLogger sets the logger badger reports through.
func WithLogger(logger *slog.Logger) BackendOption {
	return func(c *backendConfig) {
		c.logger = logger
	}
}

// WithMemTableSize overrides badger's memtable size, which also bounds the
// size of a single write transaction.
func WithMemTableSize(size int64) BackendOption {
	return func(c *backendConfig) {
		c.memTableSize = size
	}
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	cfg := backendConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(filePath, 0755); err != nil {
				return nil, err
			}
			if info, err = os.Stat(filePath); err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		bopts = badger.DefaultOptions(filePath)
	}

	logger := cfg.logger.With("component", "badger")
	bopts.Logger = &badgerLoggerAdapter{logger: logger}
	bopts.Compression = options.None
	if cfg.memTableSize > 0 {
		bopts.MemTableSize = cfg.memTableSize
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// View opens a read-only transaction pinned to the latest commit.
func (b *Backend) View() storage.ReadTxn {
	return &txnKV{tx: b.db.NewTransaction(false)}
}

// Update runs fn in the single write transaction and commits it.
// A transaction that outgrows badger's limits is reported as core.ErrResource.
func (b *Backend) Update(ctx context.Context, fn func(storage.KVWriter) error) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	err := b.WithTx(func(tx *badger.Txn) error {
		if err := fn(&txnKV{tx: tx}); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: %w", core.ErrResource, err)
	}
	return err
}

// txnKV exposes a badger transaction as storage.KVWriter.
type txnKV struct {
	tx *badger.Txn
}

var _ storage.KVWriter = (*txnKV)(nil)

// reverseSeekTail sorts after every key suffix the index writes.
var reverseSeekTail = bytes.Repeat([]byte{0xFF}, 1024)

func (t *txnKV) Get(db storage.Database, key []byte) ([]byte, error) {
	item, err := t.tx.Get(fullKey(db, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txnKV) Iterate(db storage.Database, prefix []byte, opts storage.IterOptions, fn func(key, value []byte) (bool, error)) error {
	full := fullKey(db, prefix)
	iopts := badger.DefaultIteratorOptions
	iopts.Prefix = full
	iopts.Reverse = opts.Reverse
	iter := t.tx.NewIterator(iopts)
	defer iter.Close()

	seek := full
	switch {
	case opts.Start != nil:
		seek = fullKey(db, opts.Start)
	case opts.Reverse:
		seek = append(append([]byte(nil), full...), reverseSeekTail...)
	}

	for iter.Seek(seek); iter.ValidForPrefix(full); iter.Next() {
		item := iter.Item()
		key := item.Key()[1:]
		var more bool
		err := item.Value(func(val []byte) error {
			var err error
			more, err = fn(key, val)
			return err
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *txnKV) Set(db storage.Database, key, value []byte) error {
	return t.tx.Set(fullKey(db, key), value)
}

func (t *txnKV) Delete(db storage.Database, key []byte) error {
	return t.tx.Delete(fullKey(db, key))
}

func (t *txnKV) Discard() {
	t.tx.Discard()
}
