package dataset

import (
	"github.com/foundryforge/foundry/internal/schema"
)

// SingleObject is a flattened, read-only snapshot of one asset's fully
// resolved properties with no prototype indirection left — grounded on
// original_source/hydrate-data/src/single_object.rs, which exists so a
// builder never has to walk a prototype chain itself. Leaves reachable
// through Nullable and NamedRef-to-record structure are flattened;
// dynamic-array and map members are asset-specific (their membership
// isn't fixed by the schema alone) and are left to an explicit
// ResolveProperty call by callers that need them.
type SingleObject struct {
	Schema     schema.SF
	Properties map[Path]Value
}

// Resolve flattens aid's entire prototype-resolved property set into a
// SingleObject (spec.md §9 Design Notes: builders read resolved data
// through a flat view, not by walking DataSet's prototype chain
// themselves).
func Resolve(ds *DataSet, aid AID) (*SingleObject, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return nil, err
	}
	set, err := ds.currentSet()
	if err != nil {
		return nil, err
	}

	so := &SingleObject{Schema: a.Schema, Properties: map[Path]Value{}}
	paths, err := enumerateLeafPaths(set, a.Schema)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		v, err := ds.ResolveProperty(aid, p)
		if err != nil {
			continue // ancestor nullable resolves to null; leaf is unreachable, not an error
		}
		so.Properties[p] = v
	}
	return so, nil
}

// enumerateLeafPaths walks every field of the record named by root,
// recursing through Nullable ("value") and record-valued NamedRef fields,
// and returns every primitive/asset-ref/enum leaf path discovered.
// Dynamic arrays, static arrays, and maps stop the walk: their element
// paths depend on per-asset state (entry uuids, map keys), not the schema
// alone.
func enumerateLeafPaths(set *schema.SchemaSet, root schema.SF) ([]Path, error) {
	nt, ok := set.Get(root)
	if !ok || nt.Kind != schema.RecordKind {
		return nil, nil
	}
	var out []Path
	for _, f := range nt.Fields {
		collectLeafPaths(set, &f.Type, Path(f.Name), &out)
	}
	return out, nil
}

func collectLeafPaths(set *schema.SchemaSet, ft *schema.FieldType, prefix Path, out *[]Path) {
	switch ft.Kind {
	case schema.KindPrimitive, schema.KindAssetRef:
		*out = append(*out, prefix)

	case schema.KindNullable:
		collectLeafPaths(set, ft.Inner, JoinPath(string(prefix), nullableValueSegment), out)

	case schema.KindNamedRef:
		refNt, ok := set.Get(ft.RefFingerprint)
		if !ok {
			return
		}
		switch refNt.Kind {
		case schema.EnumKind:
			*out = append(*out, prefix)
		case schema.RecordKind:
			for _, f := range refNt.Fields {
				collectLeafPaths(set, &f.Type, JoinPath(string(prefix), f.Name), out)
			}
		}

	default:
		// KindStaticArray, KindDynamicArray, KindMap: per-asset membership,
		// not enumerable from the schema alone.
	}
}
