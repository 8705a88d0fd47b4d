package replication

import "errors"

// Error kinds the core distinguishes. All are terminal for a job; none
// are retried here; a slave that wants another attempt starts a fresh
// transfer.
var (
	ErrNoSnapshot              = errors.New("replication: no snapshot installed")
	ErrSlaveConnectFailed      = errors.New("replication: connect to replica failed")
	ErrLinkBroken              = errors.New("replication: link broken")
	ErrEventLoopFailed         = errors.New("replication: event loop failed")
	ErrSlaveRejectedSync       = errors.New("replication: replica rejected session open")
	ErrSlaveRejectedCompletion = errors.New("replication: replica rejected completion")
	ErrJobCancelled            = errors.New("replication: job cancelled")
	ErrJobInProgress           = errors.New("replication: a transfer job is already in progress")
)
