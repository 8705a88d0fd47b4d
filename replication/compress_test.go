package replication

import (
	"bytes"
	"testing"
)

func TestCompress_NoneDisables(t *testing.T) {
	res := compress("none", bytes.Repeat([]byte("x"), 1000))
	if res.compressedLen != 0 {
		t.Errorf("codec=none: compressedLen = %d, want 0", res.compressedLen)
	}
	res = compress("", bytes.Repeat([]byte("x"), 1000))
	if res.compressedLen != 0 {
		t.Errorf("codec=\"\": compressedLen = %d, want 0", res.compressedLen)
	}
}

func TestCompress_SnappyRoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("the quick brown fox "), 200)
	res := compress("snappy", input)
	if res.compressedLen == 0 {
		t.Fatal("expected a compressed result for a highly repetitive input")
	}
	out, err := decompress("snappy", res.compressedData)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatal("round trip mismatch")
	}
}

func TestCompress_LZ4RoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("the quick brown fox "), 200)
	res := compress("lz4", input)
	if res.compressedLen == 0 {
		t.Fatal("expected a compressed result for a highly repetitive input")
	}
	out, err := decompress("lz4", res.compressedData)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatal("round trip mismatch")
	}
}

func TestCompress_TinyInputBudget(t *testing.T) {
	input := []byte("short")
	res := compress("snappy", input)
	if res.rawLen != len(input) {
		t.Errorf("rawLen = %d, want %d", res.rawLen, len(input))
	}
}

func TestCompress_TinyIncompressibleInputIsConsistent(t *testing.T) {
	// Random-looking bytes with no repetition: snappy's own framing
	// overhead makes its output longer than the 8-byte input. Inputs
	// under tinyInputThreshold get the widened budget, so that longer
	// output may still be returned as a compressed result; either way
	// the result must be self-consistent.
	input := []byte{0x1f, 0x8b, 0x04, 0x91, 0x7e, 0x33, 0xaa, 0x5c}
	res := compress("snappy", input)
	if res.compressedLen > 0 && res.compressedLen > len(res.compressedData) {
		t.Errorf("inconsistent result: %+v", res)
	}
}
