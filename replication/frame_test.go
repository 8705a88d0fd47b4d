package replication

import (
	"bufio"
	"bytes"
	"testing"
)

func TestEncodeDecodeLen(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 129, 16383, 16384, 1 << 20, 1 << 40}
	for _, n := range cases {
		buf := encodeLen(nil, n)
		got, err := decodeLen(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("decodeLen(%d): %v", n, err)
		}
		if got != n {
			t.Errorf("round trip %d: got %d", n, got)
		}
	}
}

func TestAppendDecodeString(t *testing.T) {
	for _, n := range []int{0, 1, quickmapSize - 1, quickmapSize, quickmapSize + 1, 1000} {
		s := bytes.Repeat([]byte{'a'}, n)
		buf := appendString(nil, s)
		got, err := decodeString(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("decodeString(n=%d): %v", n, err)
		}
		if !bytes.Equal(got, s) {
			t.Errorf("n=%d: round trip mismatch", n)
		}
	}
}

func TestAppendDecodeReply(t *testing.T) {
	fields := []string{"repl_snapshot", "12345", "true"}
	buf := appendReply(nil, fields...)
	got, err := decodeReply(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		t.Fatalf("decodeReply: %v", err)
	}
	if len(got) != len(fields) {
		t.Fatalf("got %d fields, want %d", len(got), len(fields))
	}
	for i, f := range fields {
		if got[i] != f {
			t.Errorf("field %d: got %q want %q", i, got[i], f)
		}
	}
}

func TestAppendDecodeReply_Empty(t *testing.T) {
	buf := appendReply(nil)
	got, err := decodeReply(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		t.Fatalf("decodeReply: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestAppendBatchHeader(t *testing.T) {
	buf := appendBatchHeader(nil, 100, 40)
	r := bufio.NewReader(bytes.NewReader(buf))
	lit, err := decodeString(r)
	if err != nil || string(lit) != "mset" {
		t.Fatalf("literal = %q, %v", lit, err)
	}
	raw, err := decodeLen(r)
	if err != nil || raw != 100 {
		t.Fatalf("rawLen = %d, %v", raw, err)
	}
	compressed, err := decodeLen(r)
	if err != nil || compressed != 40 {
		t.Fatalf("compressedLen = %d, %v", compressed, err)
	}
}
