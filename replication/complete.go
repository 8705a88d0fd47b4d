package replication

import (
	"bufio"
	"fmt"
	"time"
)

// handshakeTimeout bounds how long the loop will wait for the
// replica's ack to the session-open frame and to the terminal
// "complete" frame.
const handshakeTimeout = 30 * time.Second

// openSession sends the ssdb_sync2 session-open frame and blocks for
// the replica's acknowledgement before any batch is streamed: a
// replica that refuses the sync is caught before the snapshot scan
// starts, not at completion.
func (j *Job) openSession(fields []string) error {
	j.SlaveLink.Enqueue(appendReply(nil, fields...))
	if err := j.waitDrained(); err != nil {
		return err
	}

	conn := j.SlaveLink.Conn()
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkBroken, err)
	}
	reply, err := decodeReply(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("%w: reading session-open ack: %v", ErrSlaveRejectedSync, err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkBroken, err)
	}

	j.logger.Debug("session-open ack", "fields", fmt.Sprintf("%x", reply))
	if rejected(reply) {
		return fmt.Errorf("%w: %q", ErrSlaveRejectedSync, reply)
	}
	return nil
}

// completeJob runs the terminal handshake: stop the slave link's
// background writer, write the "complete" frame synchronously, read
// exactly one reply, and interpret it. A reply of "failed" or "error",
// or no reply at all (a read error, EOF, or an empty field list), is a
// rejection; silence on completion is never read as success.
func completeJob(job *Job) error {
	job.SlaveLink.Stop()
	if err := job.SlaveLink.Conn().SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return job.fail(fmt.Errorf("%w: %v", ErrLinkBroken, err))
	}

	// The terminal token is a bare length-prefixed string, not a reply
	// array: it follows the batch frames in the same token-led stream.
	frame := appendString(nil, []byte("complete"))
	if err := job.SlaveLink.WriteSync(frame); err != nil {
		return job.fail(fmt.Errorf("%w: writing completion frame: %v", ErrLinkBroken, err))
	}

	reply, err := decodeReply(bufio.NewReader(job.SlaveLink.Conn()))
	if err != nil {
		job.logger.Warn("no completion ack from replica", "err", err)
		return job.fail(fmt.Errorf("%w: %v", ErrSlaveRejectedCompletion, err))
	}

	job.logger.Debug("completion ack", "fields", fmt.Sprintf("%x", reply))

	if rejected(reply) {
		return job.fail(ErrSlaveRejectedCompletion)
	}

	job.State.Finish(true, nil)
	job.Metrics.JobEnded(true, time.Since(job.StartTime))
	job.logger.Info("snapshot transfer complete",
		"keys", job.driver.visitedKeys(),
		"raw_bytes", job.RawBytes,
		"sent_bytes", job.SlaveLink.SentBytes())

	job.MasterLink.Enqueue(appendReply(nil, "ok", "rr_transfer_snapshot finished"))
	job.drainMaster(2 * time.Second)
	return nil
}

// rejected interprets the first field of the reply, per the wire
// contract: "failed" or "error" is a rejection, and so is an absent
// first field: a replica that sends nothing back is never read as a
// success.
func rejected(reply []string) bool {
	if len(reply) == 0 {
		return true
	}
	return reply[0] == "failed" || reply[0] == "error"
}
