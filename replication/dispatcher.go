package replication

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"replsend/storage"
)

// Dispatcher is the single entry point the control-protocol server
// calls into: one rr_make_snapshot acquires the handle State holds,
// one rr_transfer_snapshot consumes it end to end. TryLock-style
// single-job enforcement matches the source's single in-flight
// replication job per process, so a second concurrent transfer request
// is rejected outright rather than queued.
type Dispatcher struct {
	engine  *storage.Engine
	state   *State
	metrics MetricsSink
	codec   string
	logger  *slog.Logger

	mu   sync.Mutex
	busy bool
}

func NewDispatcher(engine *storage.Engine, state *State, metrics MetricsSink, codec string, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{
		engine:  engine,
		state:   state,
		metrics: metrics,
		codec:   codec,
		logger:  logger,
	}
}

// HandleMakeSnapshot acquires a new engine snapshot and installs it as
// the handle a following transfer will consume. Any snapshot installed
// by a previous make-snapshot that was never transferred is released.
// It shares the transfer path's busy-lock: a make-snapshot arriving
// while a transfer is actively reading the installed handle is rejected
// rather than allowed to Install (and thereby Release) out from under
// the running job's iterator.
func (d *Dispatcher) HandleMakeSnapshot() error {
	if !d.tryAcquire() {
		return ErrJobInProgress
	}
	defer d.release()

	snap, err := d.engine.Snapshot()
	if err != nil {
		return err
	}
	d.state.Install(snap)
	d.logger.Info("snapshot installed", "keys", snap.ApproxKeyCount())
	return nil
}

// HandleTransferSnapshot runs one full transfer job against the
// installed snapshot. It returns ErrJobInProgress immediately, without
// touching the snapshot handle, if another transfer is already
// running. The snapshot handle is taken (not merely peeked) from State
// before the job starts, so a later HandleMakeSnapshot call can never
// observe and release it while this job's iterator is still reading.
func (d *Dispatcher) HandleTransferSnapshot(req JobRequest, masterConn, slaveConn net.Conn) error {
	if !d.tryAcquire() {
		return ErrJobInProgress
	}
	defer d.release()

	master := NewLink(masterConn)
	master.StartReader()

	snap, ok := d.state.TakeSnapshot()
	if !ok {
		master.Enqueue(appendReply(nil, "error", ErrNoSnapshot.Error()))
		drainLink(master, 2*time.Second)
		master.Stop()
		master.Close()
		d.state.Finish(false, ErrNoSnapshot)
		return ErrNoSnapshot
	}

	slave := NewLink(slaveConn)
	defer slave.Close()

	job := NewJob(snap, req, master, slave, d.state, d.codec, d.logger)
	job.Metrics = d.metrics

	err := RunEventLoop(job)

	// On success the master connection goes back to the control server's
	// command loop; its probe reader and writer must be gone first. A
	// failed transfer, or a master writer that could not flush the final
	// reply, closes the link instead.
	master.Stop()
	if err != nil || master.Err() != nil {
		master.Close()
	}
	return err
}

func (d *Dispatcher) tryAcquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return false
	}
	d.busy = true
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}
