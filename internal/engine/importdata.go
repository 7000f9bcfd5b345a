package engine

import (
	"math"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
)

// hashImportDataBag is the same order-insensitive import-data hash
// internal/jobs computes for cache reuse (internal/jobs/importdata.go);
// duplicated here rather than exported from internal/jobs because the
// Asset Engine needs it to compute build-job Input bytes before any job
// exists to ask the executor for it, and internal/jobs has no reason to
// expose an otherwise-internal hashing helper across a package boundary.
func hashImportDataBag(bag map[dataset.Path]dataset.Value) uint64 {
	uc := fhash.UnorderedCombinator{}
	for p, v := range bag {
		uc.Add([]byte(p), importValueBytes(v))
	}
	return uc.Sum64()
}

func importValueBytes(v dataset.Value) []byte {
	switch v.Kind {
	case dataset.VBool:
		if v.B {
			return []byte{1}
		}
		return []byte{0}
	case dataset.VI32:
		return u64Bytes(uint64(uint32(v.I32)))
	case dataset.VI64:
		return u64Bytes(uint64(v.I64))
	case dataset.VU32:
		return u64Bytes(uint64(v.U32))
	case dataset.VU64:
		return u64Bytes(v.U64)
	case dataset.VF32:
		return u64Bytes(uint64(math.Float32bits(v.F32)))
	case dataset.VF64:
		return u64Bytes(math.Float64bits(v.F64))
	case dataset.VBytes:
		return v.Bytes
	case dataset.VString, dataset.VEnumSymbol:
		return []byte(v.Str)
	case dataset.VAssetRef:
		return v.AssetRef[:]
	default:
		return nil
	}
}
