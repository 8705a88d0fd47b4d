package replication

import (
	"bufio"
	"bytes"
	"testing"
)

func TestPipeline_DisabledSynchronousFraming(t *testing.T) {
	p := newPipeline("snappy", false)
	buf := &stagingBuffer{}
	buf.Append([]byte("hello world"))

	p.submit(buf)
	if buf.Len() != len("hello world") {
		t.Fatal("submit must not mutate the buffer before drain")
	}

	var out []byte
	p.drain(&out)
	if len(out) == 0 {
		t.Fatal("drain produced no frame")
	}
	if buf.Len() != 0 {
		t.Error("drain must reset the consumed buffer")
	}
}

func TestPipeline_SubmitPanicsOnSecondPending(t *testing.T) {
	p := newPipeline("snappy", true)
	buf1 := &stagingBuffer{}
	buf1.Append([]byte("first batch"))
	p.submit(buf1)

	buf2 := &stagingBuffer{}
	buf2.Append([]byte("second batch"))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected submit to panic with a task already pending")
		}
		var out []byte
		p.drain(&out) // drain the first task so the goroutine doesn't leak past the test
	}()
	p.submit(buf2)
}

func TestPipeline_SubmitPanicsOnEmptyBuffer(t *testing.T) {
	p := newPipeline("snappy", true)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected submit to panic on an empty buffer")
		}
	}()
	p.submit(&stagingBuffer{})
}

func TestPipeline_AsyncDrainOrdering(t *testing.T) {
	p := newPipeline("snappy", true)

	buf1 := &stagingBuffer{}
	buf1.Append([]byte("aaaa"))
	p.submit(buf1)

	var out []byte
	p.drain(&out) // blocks until the goroutine finishes

	buf2 := &stagingBuffer{}
	buf2.Append([]byte("bbbb"))
	p.submit(buf2)
	p.drain(&out)

	r := bufio.NewReader(bytes.NewReader(out))
	lit1, _ := decodeString(r)
	if string(lit1) != "mset" {
		t.Fatalf("first literal = %q", lit1)
	}
	raw1, _ := decodeLen(r)
	comp1, _ := decodeLen(r)
	payload1 := make([]byte, comp1)
	io_ReadFull(t, r, payload1)
	if comp1 > 0 {
		got, err := decompress("snappy", payload1)
		if err != nil || !bytes.Equal(got, []byte("aaaa")) {
			t.Fatalf("first frame decompress: %v %q", err, got)
		}
	} else if raw1 != 4 {
		t.Fatalf("first frame rawLen = %d", raw1)
	}

	lit2, _ := decodeString(r)
	if string(lit2) != "mset" {
		t.Fatalf("second literal = %q", lit2)
	}
}

func TestPipeline_Flush(t *testing.T) {
	p := newPipeline("snappy", true)
	buf := &stagingBuffer{}
	buf.Append([]byte("pending batch"))
	p.submit(buf)

	residual := &stagingBuffer{}
	residual.Append([]byte("tail bytes"))

	var out []byte
	p.flush(&out, residual)
	if residual.Len() != 0 {
		t.Error("flush must reset residual")
	}
	if len(out) == 0 {
		t.Fatal("flush produced no output")
	}
}

func io_ReadFull(t *testing.T, r *bufio.Reader, buf []byte) {
	t.Helper()
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		if err != nil && m == 0 {
			t.Fatalf("read: %v", err)
		}
		n += m
	}
}
