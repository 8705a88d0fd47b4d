package replication

// pipeline is a one-slot overlapped compression stage: at most one
// compression is ever in flight, and submit/drain hand a staging
// buffer back and forth between the loop goroutine and a single
// transient worker goroutine so frames land on the wire in exactly
// submission order without a queue.
type pipeline struct {
	codec   string
	enabled bool

	// async path
	pending    bool
	pendingBuf *stagingBuffer
	resultCh   chan compressResult

	// degraded (compression disabled) synchronous path
	hasSync bool
	syncRes compressResult
	syncBuf *stagingBuffer
}

func newPipeline(codec string, enabled bool) *pipeline {
	if !enabled {
		// A disabled pipeline never compresses, whatever codec the
		// process is configured with: batches are framed raw.
		codec = "none"
	}
	return &pipeline{codec: codec, enabled: enabled}
}

// submit installs buf as the compressor's input. The caller must swap
// in its alternate staging buffer as the new iteration target
// immediately after calling submit; pipeline itself only ever holds
// the one reference, it does not copy the bytes out.
func (p *pipeline) submit(buf *stagingBuffer) {
	if buf.Len() == 0 {
		panic("replication: submit called with an empty buffer")
	}
	if p.pending || p.hasSync {
		panic("replication: submit called while a compression task is already pending")
	}

	if !p.enabled {
		p.syncRes = compress(p.codec, buf.Bytes())
		p.syncBuf = buf
		p.hasSync = true
		return
	}

	p.pending = true
	p.pendingBuf = buf
	ch := make(chan compressResult, 1)
	p.resultCh = ch
	codec := p.codec
	data := buf.Bytes()
	go func() {
		ch <- compress(codec, data)
	}()
}

// drain blocks until any pending compression completes, frames its
// result into dst, and clears the input buffer. A no-op if nothing is
// pending.
func (p *pipeline) drain(dst *[]byte) {
	if p.hasSync {
		appendFrame(dst, p.syncRes, p.syncBuf.Bytes())
		p.syncBuf.Reset()
		p.hasSync = false
		p.syncBuf = nil
		return
	}
	if !p.pending {
		return
	}
	res := <-p.resultCh
	appendFrame(dst, res, p.pendingBuf.Bytes())
	p.pendingBuf.Reset()
	p.pending = false
	p.pendingBuf = nil
	p.resultCh = nil
}

// flush drains any pending task and then synchronously compresses and
// frames whatever remains in residual, clearing it. Residual frame
// order always follows the drained frame, never the reverse. This is
// the two-stage ordering a slave decoder depends on.
func (p *pipeline) flush(dst *[]byte, residual *stagingBuffer) {
	p.drain(dst)
	if residual.Len() == 0 {
		return
	}
	res := compress(p.codec, residual.Bytes())
	appendFrame(dst, res, residual.Bytes())
	residual.Reset()
}

func appendFrame(dst *[]byte, res compressResult, raw []byte) {
	*dst = appendBatchHeader(*dst, res.rawLen, res.compressedLen)
	if res.compressedLen > 0 {
		*dst = append(*dst, res.compressedData...)
	} else {
		*dst = append(*dst, raw...)
	}
}
