// Package storage is the embedded key/value adapter: a single goleveldb
// handle exposing atomic write batches and
// snapshot-consistent read batches to the blockchain cache and
// transaction pool. It is the only package in the module that talks to
// disk for chain state.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/logs"
)

var log *logs.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.DBSE)
}

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = leveldb.ErrNotFound

// syncEveryNWrites implements a "periodic sync after
// every N dirty operations (N≈100 000)" durability rule. goleveldb has
// no separate fsync knob exposed per write the way an mmap-backed store
// does, so this is approximated by forcing a synchronous write every
// syncEveryNWrites batches; all other writes use goleveldb's default
// (fast, WAL-backed but not forced) durability.
const syncEveryNWrites = 100000

// Store wraps a goleveldb handle with the atomic batch/read-batch
// contract the blockchain cache and pool depend on.
type Store struct {
	db *leveldb.DB

	dirtyWrites uint64
	closeOnce   sync.Once
}

// Open creates or opens a database at path.
func Open(path string) (*Store, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "storage: opening database")
	}
	return &Store{db: db}, nil
}

// Close performs a final synchronous flush and releases the handle.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// WriteBatch is a heterogeneous sequence of puts and deletes applied
// atomically by Write: never partially applied, and on failure the
// database is left byte-identical to its pre-write state (goleveldb's
// own batch commit already gives us this).
type WriteBatch struct {
	b *leveldb.Batch
}

// NewWriteBatch returns an empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{b: new(leveldb.Batch)}
}

// Put stages a key/value write.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.b.Put(key, value)
}

// Delete stages a key removal.
func (wb *WriteBatch) Delete(key []byte) {
	wb.b.Delete(key)
}

// Len reports the number of staged operations.
func (wb *WriteBatch) Len() int {
	return wb.b.Len()
}

// Write applies batch atomically. every sub-step succeeds or none do.
func (s *Store) Write(batch *WriteBatch) error {
	forceSync := atomic.AddUint64(&s.dirtyWrites, 1)%syncEveryNWrites == 0
	err := s.db.Write(batch.b, &opt.WriteOptions{Sync: forceSync})
	if err != nil {
		return errors.Wrap(err, "storage: write batch failed")
	}
	if forceSync {
		log.Tracef("periodic synchronous flush after %d batches", syncEveryNWrites)
	}
	return nil
}

// ReadBatch is a set of keys to resolve in one snapshot.
type ReadBatch struct {
	keys [][]byte
}

// NewReadBatch returns a ReadBatch requesting keys.
func NewReadBatch(keys ...[]byte) *ReadBatch {
	return &ReadBatch{keys: keys}
}

// Read resolves every key in batch against a single consistent
// snapshot and returns the results keyed by the key's string form.
// Missing keys are simply absent from the result map.
func (s *Store) Read(batch *ReadBatch) (map[string][]byte, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "storage: taking read snapshot")
	}
	defer snap.Release()

	result := make(map[string][]byte, len(batch.keys))
	for _, k := range batch.keys {
		v, err := snap.Get(k, nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				continue
			}
			return nil, errors.Wrapf(err, "storage: reading key %x", k)
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		result[string(k)] = cp
	}
	return result, nil
}

// Get is a convenience single-key read. It returns ErrNotFound (not
// wrapped) when the key is absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Cursor begins a new prefix-scoped iterator, the pattern the blockchain
// cache uses to walk a whole secondary index (timestamps, payment ids,
// per-amount global indexes) without loading it all into memory.
func (s *Store) Cursor(prefix []byte) *Cursor {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	return &Cursor{it: it, prefix: prefix}
}

// Cursor is a thin wrapper around a goleveldb iterator scoped to one
// key prefix; Key trims the prefix back off so callers see only the
// suffix they wrote.
type Cursor struct {
	it     iteratorLike
	prefix []byte
	closed bool
}

// iteratorLike narrows goleveldb's iterator.Iterator to the methods this
// package needs, keeping the goleveldb import confined to this file and
// store.go.
type iteratorLike interface {
	Next() bool
	First() bool
	Last() bool
	Prev() bool
	Seek(key []byte) bool
	Key() []byte
	Value() []byte
	Release()
}

// Next advances the cursor. Returns false once exhausted or closed.
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	return c.it.Next()
}

// First moves to the first key/value pair under the cursor's prefix.
func (c *Cursor) First() bool {
	if c.closed {
		return false
	}
	return c.it.First()
}

// Last moves to the last key/value pair under the cursor's prefix.
func (c *Cursor) Last() bool {
	if c.closed {
		return false
	}
	return c.it.Last()
}

// Prev moves backward one key/value pair.
func (c *Cursor) Prev() bool {
	if c.closed {
		return false
	}
	return c.it.Prev()
}

// Key returns the current key with the cursor's prefix trimmed off.
func (c *Cursor) Key() []byte {
	full := c.it.Key()
	if len(full) < len(c.prefix) {
		return full
	}
	return full[len(c.prefix):]
}

// Value returns the current value. The caller must not retain the slice
// past the next cursor call.
func (c *Cursor) Value() []byte {
	return c.it.Value()
}

// Close releases the underlying iterator.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.it.Release()
}
