package replication

import (
	"log/slog"

	"replsend/storage"
)

// progressLogInterval is how often, in visited keys, a transfer logs
// its progress.
const progressLogInterval = 1_000_000

// batchDriver walks a snapshot's forward iterator, packing key/value
// pairs into a staging buffer until the buffer crosses a package-size
// threshold or the snapshot is exhausted.
type batchDriver struct {
	it      *storage.Iterator
	total   uint64
	visited uint64
	logger  *slog.Logger
}

func newBatchDriver(it *storage.Iterator, total uint64, logger *slog.Logger) *batchDriver {
	return &batchDriver{it: it, total: total, logger: logger}
}

// fill appends (key, value) pairs to staging until it exceeds
// packageSize, returning more=true so the caller dispatches the batch
// and keeps iterating, or more=false once the snapshot is exhausted.
func (d *batchDriver) fill(staging *stagingBuffer, packageSize int) (more bool) {
	for d.it.Next() {
		staging.buf = appendString(staging.buf, d.it.Key())
		staging.buf = appendString(staging.buf, d.it.Value())
		d.visited++

		if d.visited%progressLogInterval == 0 {
			total := d.total
			if total == 0 {
				total = 1
			}
			d.logger.Info("snapshot transfer progress",
				"visited_keys", d.visited,
				"percent", float64(d.visited)/float64(total)*100)
		}

		if staging.Len() > packageSize {
			return true
		}
	}
	return false
}

func (d *batchDriver) err() error { return d.it.Error() }

func (d *batchDriver) visitedKeys() uint64 { return d.visited }
