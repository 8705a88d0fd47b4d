// Package storage wraps a goleveldb-backed key-value engine and gives
// the replication core an immutable snapshot with an ordered forward
// iterator, the same way the rest of the TurnstoneDB storage stack
// uses goleveldb for its on-disk index.
package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// readaheadQueueDepth bounds how many key/value pairs a Snapshot's
// Iterator may read out of goleveldb ahead of the consumer. goleveldb's
// ReadOptions has no readahead knob of its own; this approximates the
// 4 MiB readahead window by prefetching through a buffered channel
// instead of a byte-counted window, which keeps the iterator simple
// and still overlaps disk reads with frame encoding.
const readaheadQueueDepth = 256

// Engine is a goleveldb-backed key-value store. It is independently
// usable for ordinary Get/Put/Delete traffic; replication only needs
// its Snapshot and ApproxKeyCount.
type Engine struct {
	db          *leveldb.DB
	approxCount int64
}

// Open opens (creating if necessary) a goleveldb database at dir.
func Open(dir string) (*Engine, error) {
	opts := &opt.Options{
		BlockCacheCapacity:     64 * 1024 * 1024,
		OpenFilesCacheCapacity: 50,
		WriteBuffer:            64 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dir, err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) Get(key []byte) ([]byte, error) { return e.db.Get(key, nil) }

func (e *Engine) Put(key, value []byte) error {
	if err := e.db.Put(key, value, nil); err != nil {
		return err
	}
	atomic.AddInt64(&e.approxCount, 1)
	return nil
}

func (e *Engine) Delete(key []byte) error {
	if err := e.db.Delete(key, nil); err != nil {
		return err
	}
	atomic.AddInt64(&e.approxCount, -1)
	return nil
}

// ApproxKeyCount is a best-effort, possibly-stale count maintained by a
// counter that Put increments and Delete decrements, rather than a full table scan or an
// SSTable stats parse, mirroring the approach the index package already
// uses for its own approxCount.
func (e *Engine) ApproxKeyCount() uint64 {
	n := atomic.LoadInt64(&e.approxCount)
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// Snapshot acquires a point-in-time view of the engine. The snapshot
// remains valid, and unaffected by concurrent writes, until Release.
func (e *Engine) Snapshot() (*Snapshot, error) {
	snap, err := e.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("storage: snapshot: %w", err)
	}
	return &Snapshot{snap: snap, approxKeys: e.ApproxKeyCount()}, nil
}

// Snapshot is an immutable, released-once view of the engine.
type Snapshot struct {
	snap       *leveldb.Snapshot
	approxKeys uint64
}

func (s *Snapshot) Release() { s.snap.Release() }

// ApproxKeyCount is the key-count estimate captured when the snapshot
// was acquired; used only for cosmetic progress percentages.
func (s *Snapshot) ApproxKeyCount() uint64 { return s.approxKeys }

// NewIterator returns a forward iterator over the entire keyspace as
// of the snapshot, reading with the block cache disabled so a full
// scan does not evict hot blocks needed by live traffic.
func (s *Snapshot) NewIterator() *Iterator {
	ro := &opt.ReadOptions{DontFillCache: true}
	it := s.snap.NewIterator(nil, ro)
	return newIterator(it)
}
