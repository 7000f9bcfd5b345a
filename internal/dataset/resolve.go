package dataset

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/schema"
)

// walkCheck records a gate that must be validated while descending a path:
// either a Nullable ancestor whose null state must be non-null, or a
// DynamicArray element that must exist in the resolved union.
type walkCheck struct {
	nullablePath  Path   // set for a nullable gate
	dynArrayPath  Path   // set for a dynamic-array gate
	dynArrayElem  AID
	isDynArray    bool
}

// planPath walks the schema from root and returns the leaf field type plus
// the ordered list of gates encountered on the way down (root to leaf).
func planPath(set *schema.SchemaSet, root schema.SF, p Path) (*schema.FieldType, []walkCheck, error) {
	nt, ok := set.Get(root)
	if !ok || nt.Kind != schema.RecordKind {
		return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(p), "unknown or non-record root schema")
	}
	segs := p.segments()
	if len(segs) == 0 {
		return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(p), "empty path")
	}
	field, rest, err := selectField(nt, segs)
	if err != nil {
		return nil, nil, err
	}
	return planWalk(set, &field.Type, rest, []string{segs[0]}, p)
}

func planWalk(set *schema.SchemaSet, ft *schema.FieldType, segs []string, consumed []string, full Path) (*schema.FieldType, []walkCheck, error) {
	if len(segs) == 0 {
		return ft, nil, nil
	}

	switch ft.Kind {
	case schema.KindNullable:
		if segs[0] != nullableValueSegment {
			return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "expected 'value' under nullable")
		}
		gate := walkCheck{nullablePath: Path(strings.Join(consumed, "."))}
		leaf, rest, err := planWalk(set, ft.Inner, segs[1:], append(consumed, segs[0]), full)
		if err != nil {
			return nil, nil, err
		}
		return leaf, append([]walkCheck{gate}, rest...), nil

	case schema.KindDynamicArray:
		elem, err := parseAID(segs[0])
		if err != nil {
			return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrDynamicArrayEntryMissing, string(full), "malformed element id")
		}
		gate := walkCheck{isDynArray: true, dynArrayPath: Path(strings.Join(consumed, ".")), dynArrayElem: elem}
		leaf, rest, err := planWalk(set, ft.Inner, segs[1:], append(consumed, segs[0]), full)
		if err != nil {
			return nil, nil, err
		}
		return leaf, append([]walkCheck{gate}, rest...), nil

	case schema.KindStaticArray:
		idx, err := strconv.Atoi(segs[0])
		if err != nil || idx < 0 || uint32(idx) >= ft.ArrayLen {
			return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "static array index out of range")
		}
		return planWalk(set, ft.Inner, segs[1:], append(consumed, segs[0]), full)

	case schema.KindMap:
		seg := segs[0]
		switch {
		case strings.HasSuffix(seg, ":key"):
			return planWalk(set, ft.MapKey, segs[1:], append(consumed, seg), full)
		case strings.HasSuffix(seg, ":value"):
			return planWalk(set, ft.MapValue, segs[1:], append(consumed, seg), full)
		default:
			return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "map segment missing :key/:value suffix")
		}

	case schema.KindNamedRef:
		nt, ok := set.Get(ft.RefFingerprint)
		if !ok || nt.Kind != schema.RecordKind {
			return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "cannot descend past a named reference here")
		}
		field, rest, err := selectField(nt, segs)
		if err != nil {
			return nil, nil, err
		}
		return planWalk(set, &field.Type, rest, append(consumed, segs[0]), full)

	default:
		return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "path continues past a leaf")
	}
}

func parseAID(s string) (AID, error) { return uuid.Parse(s) }

// resolveNullState walks aid's prototype chain for path's null override,
// defaulting to SetNull when nobody in the chain sets it (spec.md §4.B:
// "if no ancestor sets it, returns null").
func (ds *DataSet) resolveNullState(aid AID, path Path) (NullOverrideState, error) {
	cur := aid
	for {
		a, err := ds.Get(cur)
		if err != nil {
			return SetNull, err
		}
		if st, ok := a.NullOverrides[string(path)]; ok {
			return st, nil
		}
		if a.Prototype == nil {
			return SetNull, nil
		}
		cur = *a.Prototype
	}
}

// resolveDynArrayEntries computes the ordered, deduplicated entry list for
// one dynamic array path on aid, applying the union-with-ancestors rule
// (ancestor entries first, then this asset's novel entries) unless this
// asset sets replace mode, per spec.md §3 and the testable property in §8.
func (ds *DataSet) resolveDynArrayEntries(aid AID, path Path) ([]AID, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return nil, err
	}
	state := a.DynamicArrayEntries[string(path)]
	var local []AID
	replace := false
	if state != nil {
		local = state.Entries
		replace = state.Replace
	}
	if replace || a.Prototype == nil {
		out := make([]AID, len(local))
		copy(out, local)
		return out, nil
	}

	ancestor, err := ds.resolveDynArrayEntries(*a.Prototype, path)
	if err != nil {
		return nil, err
	}
	seen := make(map[AID]bool, len(ancestor)+len(local))
	out := make([]AID, 0, len(ancestor)+len(local))
	for _, e := range ancestor {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, e := range local {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// ResolveDynamicArray is the public accessor for a dynamic array's fully
// resolved, ordered entry list.
func (ds *DataSet) ResolveDynamicArray(aid AID, path Path) ([]AID, error) {
	return ds.resolveDynArrayEntries(aid, path)
}

// ResolveProperty walks the prototype chain to find path's effective
// value, falling back to the schema default if no override exists
// anywhere in the chain (spec.md §4.B).
func (ds *DataSet) ResolveProperty(aid AID, path Path) (Value, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return Value{}, err
	}
	set, err := ds.currentSet()
	if err != nil {
		return Value{}, err
	}
	leaf, checks, err := planPath(set, a.Schema, path)
	if err != nil {
		return Value{}, err
	}

	for _, c := range checks {
		if !c.isDynArray {
			st, err := ds.resolveNullState(aid, c.nullablePath)
			if err != nil {
				return Value{}, err
			}
			if st != SetNonNull {
				return Value{}, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathParentIsNull, string(c.nullablePath), "")
			}
			continue
		}
		entries, err := ds.resolveDynArrayEntries(aid, c.dynArrayPath)
		if err != nil {
			return Value{}, err
		}
		if !containsAID(entries, c.dynArrayElem) {
			return Value{}, ferrors.Wrap(ferrors.DataSet, ferrors.ErrDynamicArrayEntryMissing, string(c.dynArrayPath), "")
		}
	}

	if v, ok, err := ds.resolveOverride(aid, path); err != nil {
		return Value{}, err
	} else if ok {
		return v, nil
	}

	return defaultValue(set, leaf), nil
}

func (ds *DataSet) resolveOverride(aid AID, path Path) (Value, bool, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return Value{}, false, err
	}
	if v, ok := a.Properties[string(path)]; ok {
		return v, true, nil
	}
	if a.Prototype == nil {
		return Value{}, false, nil
	}
	return ds.resolveOverride(*a.Prototype, path)
}

func defaultValue(set *schema.SchemaSet, ft *schema.FieldType) Value {
	switch ft.Kind {
	case schema.KindPrimitive:
		return defaultPrimitive(ft.Primitive)
	case schema.KindAssetRef:
		return AssetRefValue(NilAID)
	case schema.KindNamedRef:
		if nt, ok := set.Get(ft.RefFingerprint); ok && nt.Kind == schema.EnumKind && len(nt.Symbols) > 0 {
			return EnumSymbolValue(nt.Symbols[0].Name)
		}
		return EnumSymbolValue("")
	default:
		return Value{}
	}
}

func containsAID(list []AID, v AID) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
