package replication

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Link wraps a net.Conn and gives the event loop the externally
// specified link interface: an output byte buffer drained by a
// background writer, an error latch, and byte-sent accounting. It
// replaces the source's raw-fd non-blocking toggle with Go's
// netpoller: the background writer and (optionally) background reader
// goroutines are the only things that ever touch the connection, so
// the loop goroutine never blocks on I/O it doesn't choose to.
type Link struct {
	conn net.Conn

	mu  sync.Mutex
	out bytes.Buffer
	err error

	sentBytes uint64

	errCh    chan struct{}
	errOnce  sync.Once
	writeSig chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLink wraps conn. The background writer is started immediately;
// StartReader must be called separately for links the loop needs to
// monitor for incoming EOF/errors (the master link; the slave link
// is never read from mid-transfer).
func NewLink(conn net.Conn) *Link {
	l := &Link{
		conn:     conn,
		errCh:    make(chan struct{}),
		writeSig: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writerLoop()
	return l
}

func (l *Link) Conn() net.Conn { return l.conn }

// Enqueue appends p to the output buffer and wakes the writer.
func (l *Link) Enqueue(p []byte) {
	if len(p) == 0 {
		return
	}
	l.mu.Lock()
	l.out.Write(p)
	l.mu.Unlock()
	select {
	case l.writeSig <- struct{}{}:
	default:
	}
}

// OutputSize reports how many bytes are still buffered for send,
// the quantity the event loop's backpressure check watches.
func (l *Link) OutputSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Len()
}

func (l *Link) SentBytes() uint64 { return atomic.LoadUint64(&l.sentBytes) }

func (l *Link) writerLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		case <-l.writeSig:
			if !l.drainOnce() {
				return
			}
		}
	}
}

// drainOnce writes out the buffered bytes until it empties or a write
// fails; returns false on a fatal write error.
func (l *Link) drainOnce() bool {
	for {
		l.mu.Lock()
		if l.out.Len() == 0 {
			l.mu.Unlock()
			return true
		}
		chunk := append([]byte(nil), l.out.Bytes()...)
		l.mu.Unlock()

		n, err := l.conn.Write(chunk)
		if n > 0 {
			l.mu.Lock()
			l.out.Next(n)
			l.mu.Unlock()
			atomic.AddUint64(&l.sentBytes, uint64(n))
		}
		if err != nil {
			l.setErr(err)
			return false
		}
	}
}

func (l *Link) setErr(err error) {
	l.errOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.errCh)
	})
}

// Err returns the first error observed by either the writer or (if
// started) the reader goroutine.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// ErrCh is closed the first time the link observes a read or write
// failure.
func (l *Link) ErrCh() <-chan struct{} { return l.errCh }

// StartReader begins a background read loop purely to detect the
// peer closing or erroring the connection; any bytes read are
// discarded, matching the master link's role during a transfer (it is
// never expected to send anything but connection-level signals). A
// read failure after Stop is the stop itself, not a link error.
func (l *Link) StartReader() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		buf := make([]byte, 4096)
		for {
			_, err := l.conn.Read(buf)
			if err != nil {
				select {
				case <-l.stopCh:
				default:
					l.setErr(err)
				}
				return
			}
		}
	}()
}

// WriteSync switches to direct, blocking use of the connection for
// the synchronous handshake exchanges. The background writer must
// already be stopped (via Stop) before calling this.
func (l *Link) WriteSync(p []byte) error {
	_, err := l.conn.Write(p)
	return err
}

// Stop halts the background writer and reader and waits for both to
// exit, leaving the connection to be used directly, either by the
// completion handshake's synchronous exchange or by the control
// server resuming its command loop on a master link after a
// successful transfer. The expired deadline it uses to unblock the
// goroutines is left on the connection; the next direct user sets its
// own. Safe to call multiple times.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.conn.SetDeadline(time.Now())
	})
	l.wg.Wait()
}

func (l *Link) Close() error { return l.conn.Close() }
