package replication

import (
	"log/slog"
	"sync"
	"time"

	"replsend/storage"
)

// Default package-size thresholds: larger batches amortize compression
// overhead, smaller batches minimize per-batch latency when there is
// no compressor running.
const (
	MaxPackageSize = 512 * 1024
	MinPackageSize = 128 * 1024

	DefaultHeartbeatInterval     = 5 * time.Second
	DefaultSnapshotBacklogFactor = 3

	backpressureSleep = 100 * time.Millisecond
	drainPollInterval = 5 * time.Millisecond
)

// JobRequest is the dispatcher's parsed view of an incoming
// rr_transfer_snapshot command.
type JobRequest struct {
	PeerAddr  string
	Heartbeat bool
	Compress  bool
	ReplTS    int64
}

// MetricsSink receives replication events. Satisfied structurally by
// *metrics.Collector; defined here (rather than imported) so this
// package never depends on metrics, the same decoupling the server's
// own stats provider interface uses.
type MetricsSink interface {
	JobStarted()
	JobEnded(success bool, dur time.Duration)
	AddBytesSent(n uint64)
	AddRawBytes(n uint64)
	AddKeysVisited(n uint64)
	IncHeartbeats()
}

type noopMetrics struct{}

func (noopMetrics) JobStarted()                              {}
func (noopMetrics) JobEnded(success bool, dur time.Duration) {}
func (noopMetrics) AddBytesSent(n uint64)                    {}
func (noopMetrics) AddRawBytes(n uint64)                     {}
func (noopMetrics) AddKeysVisited(n uint64)                  {}
func (noopMetrics) IncHeartbeats()                           {}

// Job is one in-flight snapshot transfer: created by the dispatcher
// when a peer requests rr_transfer_snapshot, consumed exactly once by
// RunEventLoop, and discarded after the terminal result is published.
type Job struct {
	ReplTS           int64
	Peer             string
	MasterLink       *Link
	SlaveLink        *Link
	HeartbeatEnabled bool
	CompressEnabled  bool

	HeartbeatInterval     time.Duration
	SnapshotBacklogFactor int
	MaxPackageSize        int
	MinPackageSize        int

	State   *State
	Metrics MetricsSink

	snapshot   *storage.Snapshot
	staging    *stagingBuffer
	stagingAlt *stagingBuffer
	pipeline   *pipeline
	driver     *batchDriver

	RawBytes  uint64
	StartTime time.Time

	lastHeartbeat time.Time

	logger   *slog.Logger
	quit     chan struct{}
	quitOnce sync.Once
}

// NewJob builds a job around an already-installed snapshot handle.
// The handle is an explicit constructor argument rather than a field
// read out of shared state inside the job: State tracks only liveness
// and the terminal outcome.
func NewJob(snap *storage.Snapshot, req JobRequest, master, slave *Link, state *State, codec string, logger *slog.Logger) *Job {
	it := snap.NewIterator()
	jl := logger.With("repl_ts", req.ReplTS, "peer", req.PeerAddr)
	return &Job{
		ReplTS:                req.ReplTS,
		Peer:                  req.PeerAddr,
		MasterLink:            master,
		SlaveLink:             slave,
		HeartbeatEnabled:      req.Heartbeat,
		CompressEnabled:       req.Compress,
		HeartbeatInterval:     DefaultHeartbeatInterval,
		SnapshotBacklogFactor: DefaultSnapshotBacklogFactor,
		MaxPackageSize:        MaxPackageSize,
		MinPackageSize:        MinPackageSize,
		State:                 state,
		Metrics:               noopMetrics{},
		snapshot:              snap,
		staging:               &stagingBuffer{},
		stagingAlt:            &stagingBuffer{},
		pipeline:              newPipeline(codec, req.Compress),
		driver:                newBatchDriver(it, snap.ApproxKeyCount(), jl),
		StartTime:             time.Now(),
		lastHeartbeat:         time.Now(),
		logger:                jl,
		quit:                  make(chan struct{}),
	}
}

func (j *Job) packageSize() int {
	if j.CompressEnabled {
		return j.MaxPackageSize
	}
	return j.MinPackageSize
}

// backlogLimit is always measured against MaxPackageSize, not the
// smaller in-effect package size a no-compression job uses.
func (j *Job) backlogLimit() int {
	return j.SnapshotBacklogFactor * j.MaxPackageSize
}

// Cancel requests the event loop exit at its next observation point.
func (j *Job) Cancel() { j.quitOnce.Do(func() { close(j.quit) }) }

// releaseSnapshot releases the iterator's background pump goroutine and
// the snapshot handle itself. Called exactly once, deferred at the top
// of RunEventLoop, so it runs on every exit path: success, cancellation,
// and every link or storage failure.
func (j *Job) releaseSnapshot() {
	j.driver.it.Release()
	j.snapshot.Release()
}

// drainMaster gives the master link's background writer a chance to
// flush whatever was just enqueued (an error or completion reply)
// before the caller tears the link down, without blocking forever on a
// master that has stopped reading.
func (j *Job) drainMaster(timeout time.Duration) {
	drainLink(j.MasterLink, timeout)
}

// drainLink blocks until link's background writer has flushed its
// output or timeout elapses, whichever comes first. Used both by a
// running Job (via drainMaster) and by the dispatcher's no-snapshot
// path, which enqueues an error reply to a bare master link before any
// Job exists.
func drainLink(link *Link, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for link.OutputSize() > 0 && time.Now().Before(deadline) {
		select {
		case <-link.ErrCh():
			return
		default:
		}
		time.Sleep(drainPollInterval)
	}
}

func (j *Job) fail(err error) error {
	j.MasterLink.Enqueue(appendReply(nil, "error", err.Error()))
	j.drainMaster(2 * time.Second)
	j.State.Finish(false, err)
	j.Metrics.JobEnded(false, time.Since(j.StartTime))
	j.logger.Error("snapshot transfer failed", "err", err)
	return err
}
