package replication

import (
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// tinyInputThreshold and tinyInputBudget widen the output budget for
// small inputs so a codec's "could not shrink this" signal on a tiny
// payload doesn't force an uncompressed frame purely because of
// per-block overhead.
const (
	tinyInputThreshold = 100
	tinyInputBudget    = 1024
)

// compressResult mirrors the wire contract: compressedLen == 0 means
// the batch must be framed uncompressed from the original input;
// otherwise from compressedData.
type compressResult struct {
	rawLen         int
	compressedLen  int
	compressedData []byte
}

// compress runs the configured codec over input. An empty codec name or
// "none" disables compression outright; any name other than "lz4"
// selects snappy. A codec that fails, or
// that can't beat the output budget, yields compressedLen == 0 so the
// caller frames the input uncompressed instead of retrying.
func compress(codec string, input []byte) compressResult {
	rawLen := len(input)
	if codec == "" || codec == "none" {
		return compressResult{rawLen: rawLen}
	}

	budget := rawLen
	if rawLen < tinyInputThreshold {
		budget = tinyInputBudget
	}

	switch codec {
	case "lz4":
		out, ok := compressLZ4(input, budget)
		if !ok {
			return compressResult{rawLen: rawLen}
		}
		return compressResult{rawLen: rawLen, compressedLen: len(out), compressedData: out}
	default: // "snappy"
		out := snappy.Encode(nil, input)
		if len(out) == 0 || len(out) > budget {
			return compressResult{rawLen: rawLen}
		}
		return compressResult{rawLen: rawLen, compressedLen: len(out), compressedData: out}
	}
}

// compressLZ4 reports ok=false when the block compressor determines
// the input is incompressible within the given output budget.
func compressLZ4(input []byte, budget int) ([]byte, bool) {
	if len(input) == 0 {
		return nil, false
	}
	dst := make([]byte, budget)
	var c lz4.Compressor
	n, err := c.CompressBlock(input, dst)
	if err != nil || n == 0 {
		return nil, false
	}
	return dst[:n], true
}

func decompress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "lz4":
		return lz4Decompress(data)
	default:
		return snappy.Decode(nil, data)
	}
}

func lz4Decompress(src []byte) ([]byte, error) {
	// lz4's block API requires the caller to know (or over-allocate)
	// the decompressed size; 8x the source is a safe first guess,
	// growing geometrically on retry.
	for cap := len(src)*8 + 64; ; cap *= 2 {
		buf := make([]byte, cap)
		n, err := lz4.UncompressBlock(src, buf)
		if err == nil {
			return buf[:n], nil
		}
		if cap > 1<<30 {
			return nil, err
		}
	}
}
