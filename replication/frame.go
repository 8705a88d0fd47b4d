package replication

import (
	"bufio"
	"io"
)

// quickmapSize bounds the precomputed length-prefix table. Strings
// shorter than this skip the general varint loop on the hot iteration
// path; everything at or above it falls back to encodeLen.
const quickmapSize = 128

var quickmap [quickmapSize][]byte

func init() {
	for i := 0; i < quickmapSize; i++ {
		quickmap[i] = encodeLen(nil, uint64(i))
	}
}

// encodeLen appends n as a 7-bit-per-byte varint (continuation bit in
// the high bit, least-significant group first) to buf and returns the
// grown slice.
func encodeLen(buf []byte, n uint64) []byte {
	for n >= 0x80 {
		buf = append(buf, byte(n)|0x80)
		n >>= 7
	}
	return append(buf, byte(n))
}

// decodeLen is the inverse of encodeLen, reading from a ByteReader.
// It exists alongside the encoder so the round-trip testable property
// (decode(encode(xs)) == xs) can be verified without a separate
// decoder implementation to drift out of sync.
func decodeLen(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// appendString writes s as a length-prefixed string: quickmap supplies
// the prefix for short strings, encodeLen handles the rest.
func appendString(buf []byte, s []byte) []byte {
	n := len(s)
	if n < quickmapSize {
		buf = append(buf, quickmap[n]...)
	} else {
		buf = encodeLen(buf, uint64(n))
	}
	return append(buf, s...)
}

func decodeString(r *bufio.Reader) ([]byte, error) {
	n, err := decodeLen(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// appendBatchHeader writes the mset literal followed by the raw and
// compressed length varints. The payload itself (either the raw bytes
// or the compressed bytes) is appended by the caller.
func appendBatchHeader(buf []byte, rawLen, compressedLen int) []byte {
	buf = appendString(buf, []byte("mset"))
	buf = encodeLen(buf, uint64(rawLen))
	buf = encodeLen(buf, uint64(compressedLen))
	return buf
}

// appendReply writes an array of length-prefixed string fields: a
// field count followed by each field, used for the heartbeat,
// completion, and session-open replies exchanged with the master and
// slave links.
func appendReply(buf []byte, fields ...string) []byte {
	buf = encodeLen(buf, uint64(len(fields)))
	for _, f := range fields {
		buf = appendString(buf, []byte(f))
	}
	return buf
}

// DecodeReplyFields exposes decodeReply for callers outside this
// package (the control-protocol server parsing a transfer request
// payload in the same wire format used for replies).
func DecodeReplyFields(r *bufio.Reader) ([]string, error) { return decodeReply(r) }

func decodeReply(r *bufio.Reader) ([]string, error) {
	count, err := decodeLen(r)
	if err != nil {
		return nil, err
	}
	fields := make([]string, count)
	for i := range fields {
		b, err := decodeString(r)
		if err != nil {
			return nil, err
		}
		fields[i] = string(b)
	}
	return fields, nil
}
