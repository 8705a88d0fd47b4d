package storage

import "github.com/syndtr/goleveldb/leveldb/iterator"

type kvPair struct {
	key, value []byte
}

// Iterator is a forward, read-ahead key/value iterator over a Snapshot.
// A background goroutine pumps pairs off the underlying goleveldb
// iterator into a bounded channel so disk reads overlap with whatever
// the consumer (the replication batch driver) is doing with the
// previous pair, approximating the readahead window described in
// storage.go.
type Iterator struct {
	pairs chan kvPair
	errCh chan error
	done  chan struct{}

	cur kvPair
	err error
}

func newIterator(it iterator.Iterator) *Iterator {
	i := &Iterator{
		pairs: make(chan kvPair, readaheadQueueDepth),
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
	}
	go i.pump(it)
	return i
}

func (i *Iterator) pump(it iterator.Iterator) {
	defer it.Release()
	defer close(i.pairs)
	for it.Next() {
		pair := kvPair{
			key:   append([]byte(nil), it.Key()...),
			value: append([]byte(nil), it.Value()...),
		}
		select {
		case i.pairs <- pair:
		case <-i.done:
			return
		}
	}
	if err := it.Error(); err != nil {
		i.errCh <- err
	}
}

// Next advances the iterator and reports whether a pair is available.
func (i *Iterator) Next() bool {
	pair, ok := <-i.pairs
	if !ok {
		select {
		case err := <-i.errCh:
			i.err = err
		default:
		}
		return false
	}
	i.cur = pair
	return true
}

func (i *Iterator) Key() []byte   { return i.cur.key }
func (i *Iterator) Value() []byte { return i.cur.value }
func (i *Iterator) Error() error  { return i.err }

// Release stops the background pump. Safe to call after Next returns
// false, and safe to call early to abandon the remainder of the scan.
func (i *Iterator) Release() {
	select {
	case <-i.done:
	default:
		close(i.done)
	}
}
