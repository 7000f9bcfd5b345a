package dataset

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/schema"
)

// HashProperties computes a deterministic hash of an asset's fully
// resolved property tree, walked in schema field order so the result does
// not depend on Go map iteration order (spec.md §4.B: "deterministic hash
// of the asset's entire resolved property set ... insensitive to HashMap
// iteration order").
func (ds *DataSet) HashProperties(aid AID) (uint64, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return 0, err
	}
	set, err := ds.currentSet()
	if err != nil {
		return 0, err
	}
	nt, ok := set.Get(a.Schema)
	if !ok || nt.Kind != schema.RecordKind {
		return 0, nil
	}

	oc := fhash.NewOrderedCombinator()
	for _, f := range nt.Fields {
		oc.Add([]byte(f.Name))
		if err := ds.hashFieldValue(set, aid, &f.Type, Path(f.Name), oc); err != nil {
			return 0, err
		}
	}
	return oc.Sum64(), nil
}

func (ds *DataSet) hashFieldValue(set *schema.SchemaSet, aid AID, ft *schema.FieldType, path Path, oc *fhash.OrderedCombinator) error {
	switch ft.Kind {
	case schema.KindNullable:
		st, err := ds.resolveNullState(aid, path)
		if err != nil {
			return err
		}
		if st != SetNonNull {
			oc.Add([]byte{0})
			return nil
		}
		oc.Add([]byte{1})
		return ds.hashFieldValue(set, aid, ft.Inner, JoinPath(string(path), nullableValueSegment), oc)

	case schema.KindStaticArray:
		for i := uint32(0); i < ft.ArrayLen; i++ {
			if err := ds.hashFieldValue(set, aid, ft.Inner, JoinPath(string(path), itoa(i)), oc); err != nil {
				return err
			}
		}
		return nil

	case schema.KindDynamicArray:
		entries, err := ds.resolveDynArrayEntries(aid, path)
		if err != nil {
			return err
		}
		oc.Add(u64Bytes(uint64(len(entries))))
		for _, e := range entries {
			oc.Add(e[:])
			if err := ds.hashFieldValue(set, aid, ft.Inner, JoinPath(string(path), e.String()), oc); err != nil {
				return err
			}
		}
		return nil

	case schema.KindMap:
		return ds.hashMapField(set, aid, ft, path, oc)

	case schema.KindNamedRef:
		nt, ok := set.Get(ft.RefFingerprint)
		if !ok {
			return nil
		}
		switch nt.Kind {
		case schema.EnumKind:
			v, err := ds.ResolveProperty(aid, path)
			if err != nil {
				return err
			}
			oc.Add([]byte(v.Str))
			return nil
		case schema.RecordKind:
			for _, f := range nt.Fields {
				oc.Add([]byte(f.Name))
				if err := ds.hashFieldValue(set, aid, &f.Type, JoinPath(string(path), f.Name), oc); err != nil {
					return err
				}
			}
			return nil
		}
		return nil

	default: // Primitive, AssetRef
		v, err := ds.ResolveProperty(aid, path)
		if err != nil {
			return err
		}
		oc.Add(hashableValueBytes(v))
		return nil
	}
}

// hashMapField hashes a map field's present entries. Map entries are
// stored as ordinary overrides under ":key"/":value"-suffixed path
// segments (spec.md §3), so unlike dynamic arrays there is no separate
// entry registry to consult; entries are discovered from the local
// asset's own override keys, which is sufficient since maps are not
// part of the prototype-inheritance surface.
func (ds *DataSet) hashMapField(set *schema.SchemaSet, aid AID, ft *schema.FieldType, path Path, oc *fhash.OrderedCombinator) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	prefix := string(path) + "."
	seen := map[string]bool{}
	for k := range a.Properties {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		seg := strings.SplitN(rest, ".", 2)[0]
		entryKey := strings.TrimSuffix(strings.TrimSuffix(seg, ":key"), ":value")
		seen[entryKey] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	unordered := fhash.UnorderedCombinator{}
	for _, k := range keys {
		entryOC := fhash.NewOrderedCombinator()
		if err := ds.hashFieldValue(set, aid, ft.MapKey, JoinPath(string(path), k+":key"), entryOC); err != nil {
			return err
		}
		if err := ds.hashFieldValue(set, aid, ft.MapValue, JoinPath(string(path), k+":value"), entryOC); err != nil {
			return err
		}
		unordered.Add(u64Bytes(entryOC.Sum64()))
	}
	oc.Add(u64Bytes(unordered.Sum64()))
	return nil
}

func hashableValueBytes(v Value) []byte {
	switch v.Kind {
	case VBool:
		if v.B {
			return []byte{1}
		}
		return []byte{0}
	case VI32:
		return u64Bytes(uint64(uint32(v.I32)))
	case VI64:
		return u64Bytes(uint64(v.I64))
	case VU32:
		return u64Bytes(uint64(v.U32))
	case VU64:
		return u64Bytes(v.U64)
	case VF32:
		return u64Bytes(uint64(math.Float32bits(v.F32)))
	case VF64:
		return u64Bytes(math.Float64bits(v.F64))
	case VBytes:
		return v.Bytes
	case VString, VEnumSymbol:
		return []byte(v.Str)
	case VAssetRef:
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

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
