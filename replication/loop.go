package replication

import (
	"fmt"
	"strconv"
	"time"
)

// RunEventLoop drives one snapshot transfer to completion. It owns the
// job from session-open through the completion handshake and always
// calls job.State.Finish exactly once before returning, on every exit
// path including cancellation and link failure.
//
// Where the source multiplexed one thread over non-blocking fds, this
// loop polls two channel-backed signals (each link's ErrCh) and two
// plain conditions (heartbeat due, slave backlogged) once per
// iteration; all socket I/O happens off this goroutine, in each Link's
// background writer.
func RunEventLoop(job *Job) error {
	defer job.releaseSnapshot()

	job.Metrics.JobStarted()
	job.logger.Info("snapshot transfer starting")

	sessionOpen := []string{"ssdb_sync2", "replts", strconv.FormatInt(job.ReplTS, 10)}
	if job.HeartbeatEnabled {
		sessionOpen = append(sessionOpen, "heartbeat", "1")
	}
	if err := job.openSession(sessionOpen); err != nil {
		return job.fail(err)
	}

	cur := job.staging
	for {
		if err := job.checkLinks(); err != nil {
			return job.fail(err)
		}

		job.maybeHeartbeat()

		if job.SlaveLink.OutputSize() > job.backlogLimit() {
			time.Sleep(backpressureSleep)
			continue
		}

		more := job.driver.fill(cur, job.packageSize())
		if err := job.driver.err(); err != nil {
			return job.fail(fmt.Errorf("%w: snapshot iterator: %v", ErrEventLoopFailed, err))
		}

		if cur.Len() > 0 {
			job.dispatchBatch(cur)
			if cur == job.staging {
				cur = job.stagingAlt
			} else {
				cur = job.staging
			}
		}

		if !more {
			break
		}
	}

	var out []byte
	job.RawBytes += uint64(cur.Len())
	job.pipeline.flush(&out, cur)
	if len(out) > 0 {
		job.SlaveLink.Enqueue(out)
		job.Metrics.AddBytesSent(uint64(len(out)))
	}
	job.Metrics.AddRawBytes(job.RawBytes)
	job.Metrics.AddKeysVisited(job.driver.visitedKeys())

	if err := job.waitDrained(); err != nil {
		return job.fail(err)
	}

	return completeJob(job)
}

// dispatchBatch drains whatever the pipeline's single slot is already
// holding (freeing it), forwards the drained frame to the slave, and
// submits cur as the new occupant of that slot.
func (j *Job) dispatchBatch(cur *stagingBuffer) {
	var out []byte
	j.pipeline.drain(&out)
	j.RawBytes += uint64(cur.Len())
	j.pipeline.submit(cur)
	if !j.CompressEnabled {
		// No compression to overlap with: frame the batch now rather
		// than holding it in the slot until the next dispatch.
		j.pipeline.drain(&out)
	}
	if len(out) > 0 {
		j.SlaveLink.Enqueue(out)
		j.Metrics.AddBytesSent(uint64(len(out)))
	}
}

func (j *Job) checkLinks() error {
	select {
	case <-j.quit:
		return ErrJobCancelled
	case <-j.MasterLink.ErrCh():
		return fmt.Errorf("%w: %v", ErrLinkBroken, j.MasterLink.Err())
	case <-j.SlaveLink.ErrCh():
		return fmt.Errorf("%w: replica link: %v", ErrLinkBroken, j.SlaveLink.Err())
	default:
		return nil
	}
}

func (j *Job) maybeHeartbeat() {
	if !j.HeartbeatEnabled || time.Since(j.lastHeartbeat) < j.HeartbeatInterval {
		return
	}
	if n := j.MasterLink.OutputSize(); n > 0 {
		// Diagnostic only; the master may just be slow to read.
		j.logger.Debug("master link output not drained at heartbeat", "pending_bytes", n)
	}
	j.MasterLink.Enqueue(appendReply(nil, "rr_transfer_snapshot continue"))
	j.lastHeartbeat = time.Now()
	j.Metrics.IncHeartbeats()
}

// waitDrained blocks until the slave writer has caught up with
// everything enqueued so far, so the completion frame is observed by
// the replica strictly after the last data frame. It still honors link
// failures, cancellation, and the heartbeat cadence while waiting,
// since draining the tail to a slow replica can take longer than the
// master's idle timer allows.
func (j *Job) waitDrained() error {
	for j.SlaveLink.OutputSize() > 0 {
		if err := j.checkLinks(); err != nil {
			return err
		}
		j.maybeHeartbeat()
		time.Sleep(drainPollInterval)
	}
	return nil
}
