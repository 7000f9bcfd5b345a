package dataset

import (
	"strconv"
	"strings"

	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/schema"
)

// Path is a dotted property path (spec.md §3): segments are field names,
// dynamic-array element uuids, map key-hash segments suffixed ":key"/
// ":value", or the literal "value" for a nullable's non-null child.
type Path string

func (p Path) segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

func JoinPath(segs ...string) Path { return Path(strings.Join(segs, ".")) }

const nullableValueSegment = "value"

// typeAtPath walks a schema, starting from the named type identified by
// root, resolving successive path segments down to a leaf FieldType, and
// returns that leaf type only; it does not report which ancestors are
// Nullable.
func typeAtPath(set *schema.SchemaSet, root schema.SF, p Path) (*schema.FieldType, error) {
	nt, ok := set.Get(root)
	if !ok {
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(p), "unknown root schema")
	}
	if nt.Kind != schema.RecordKind {
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(p), "root is not a record")
	}

	segs := p.segments()
	if len(segs) == 0 {
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(p), "empty path")
	}

	// First segment selects a field of the root record.
	field, rest, err := selectField(nt, segs)
	if err != nil {
		return nil, err
	}
	return walkFieldType(set, &field.Type, rest, p)
}

func selectField(nt *schema.NamedType, segs []string) (*schema.Field, []string, error) {
	for i := range nt.Fields {
		if nt.Fields[i].Name == segs[0] {
			return &nt.Fields[i], segs[1:], nil
		}
	}
	return nil, nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, segs[0], "no such field")
}

// walkFieldType descends through ft following remaining path segments.
func walkFieldType(set *schema.SchemaSet, ft *schema.FieldType, segs []string, full Path) (*schema.FieldType, error) {
	if len(segs) == 0 {
		return ft, nil
	}

	switch ft.Kind {
	case schema.KindNullable:
		if segs[0] != nullableValueSegment {
			return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "expected 'value' under nullable")
		}
		return walkFieldType(set, ft.Inner, segs[1:], full)

	case schema.KindDynamicArray:
		// segs[0] is an element uuid; descend into the element type.
		return walkFieldType(set, ft.Inner, segs[1:], full)

	case schema.KindStaticArray:
		idx, err := strconv.Atoi(segs[0])
		if err != nil || idx < 0 || uint32(idx) >= ft.ArrayLen {
			return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "static array index out of range")
		}
		return walkFieldType(set, ft.Inner, segs[1:], full)

	case schema.KindMap:
		seg := segs[0]
		switch {
		case strings.HasSuffix(seg, ":key"):
			return walkFieldType(set, ft.MapKey, segs[1:], full)
		case strings.HasSuffix(seg, ":value"):
			return walkFieldType(set, ft.MapValue, segs[1:], full)
		default:
			return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "map segment missing :key/:value suffix")
		}

	case schema.KindNamedRef:
		nt, ok := set.Get(ft.RefFingerprint)
		if !ok {
			return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "dangling named ref")
		}
		switch nt.Kind {
		case schema.RecordKind:
			field, rest, err := selectField(nt, segs)
			if err != nil {
				return nil, err
			}
			return walkFieldType(set, &field.Type, rest, full)
		case schema.EnumKind:
			return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "cannot descend into an enum leaf")
		}
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "unknown named type kind")

	case schema.KindPrimitive, schema.KindAssetRef:
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "path continues past a leaf")

	default:
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(full), "unhandled field type kind")
	}
}

// isLeaf reports whether ft is a directly storable leaf (primitive,
// asset ref, or a NamedRef to an enum — the enum symbol is the leaf
// value).
func isLeaf(set *schema.SchemaSet, ft *schema.FieldType) bool {
	switch ft.Kind {
	case schema.KindPrimitive, schema.KindAssetRef:
		return true
	case schema.KindNamedRef:
		nt, ok := set.Get(ft.RefFingerprint)
		return ok && nt.Kind == schema.EnumKind
	default:
		return false
	}
}
