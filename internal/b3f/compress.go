package b3f

import (
	"github.com/golang/snappy"

	"github.com/foundryforge/foundry/internal/ferrors"
)

// compressThreshold is the smallest block size worth paying Snappy's
// frame overhead for; small blocks (most metadata, small property bags)
// are stored raw.
const compressThreshold = 256

// maybeCompress snappy-encodes payload when it's large enough to be
// worth it, reporting whether it did so in the header's compressed flag
// (SPEC_FULL.md §4.H: "Snappy-compressed when the metadata header's
// compressed flag is set").
func maybeCompress(payload []byte) (data []byte, compressed bool) {
	if len(payload) < compressThreshold {
		return payload, false
	}
	return snappy.Encode(nil, payload), true
}

func maybeDecompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: snappy decode block")
	}
	return out, nil
}
