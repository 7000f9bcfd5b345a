package jobs

import (
	"encoding/binary"
	"math"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
)

// hashImportData computes an order-insensitive hash of an import-data bag,
// the "current hash of every import_data dep" spec.md §4.F's cache-reuse
// algorithm compares against a job's recorded ImportDataHashes.
func hashImportData(bag map[dataset.Path]dataset.Value) uint64 {
	uc := fhash.UnorderedCombinator{}
	for p, v := range bag {
		uc.Add([]byte(p), valueBytes(v))
	}
	return uc.Sum64()
}

func valueBytes(v dataset.Value) []byte {
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

func u64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}
