package dataset

import (
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/schema"
)

// DataSet is the authoritative in-memory store of every asset currently
// loaded into an edit session (spec.md §4.B).
type DataSet struct {
	assets  map[AID]*Asset
	schemas *schema.Registry
}

func New(schemas *schema.Registry) *DataSet {
	return &DataSet{assets: make(map[AID]*Asset), schemas: schemas}
}

func (ds *DataSet) currentSet() (*schema.SchemaSet, error) { return ds.schemas.Current() }

// Get returns the live asset struct. Callers in this package may mutate it
// through the methods below; external packages should treat it as
// read-only except via DataSet methods.
func (ds *DataSet) Get(aid AID) (*Asset, error) {
	a, ok := ds.assets[aid]
	if !ok {
		return nil, ferrors.Wrap(ferrors.DataSet, ferrors.ErrAssetNotFound, aid.String(), "")
	}
	return a, nil
}

func (ds *DataSet) Exists(aid AID) bool {
	_, ok := ds.assets[aid]
	return ok
}

// NewAsset creates a fresh, prototype-less asset of the given schema.
func (ds *DataSet) NewAsset(name *string, location AID, sf schema.SF) (AID, error) {
	id := NewAID()
	ds.assets[id] = newAsset(id, sf, name, location)
	return id, nil
}

// NewFromPrototype creates an asset inheriting from prototypeAID, sharing
// its schema.
func (ds *DataSet) NewFromPrototype(name *string, location AID, prototypeAID AID) (AID, error) {
	proto, err := ds.Get(prototypeAID)
	if err != nil {
		return NilAID, err
	}
	id := NewAID()
	a := newAsset(id, proto.Schema, name, location)
	a.Prototype = &prototypeAID
	ds.assets[id] = a
	return id, nil
}

// DeleteAsset removes an asset outright. It does not cascade to assets
// whose location or prototype pointed at it; callers (the Edit Context)
// are responsible for that policy.
func (ds *DataSet) DeleteAsset(aid AID) error {
	if _, err := ds.Get(aid); err != nil {
		return err
	}
	delete(ds.assets, aid)
	return nil
}

// SetPrototype assigns aid's prototype, rejecting any cycle by walking the
// candidate chain up front (spec.md §9: "detect at set_prototype time by
// walking and checking for self; never lazily").
func (ds *DataSet) SetPrototype(aid AID, prototype *AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	if prototype != nil {
		cur := *prototype
		seen := map[AID]bool{aid: true}
		for {
			if seen[cur] {
				return ferrors.Wrap(ferrors.DataSet, ferrors.ErrPrototypeCycle, cur.String(), "")
			}
			seen[cur] = true
			p, err := ds.Get(cur)
			if err != nil {
				return err
			}
			if p.Prototype == nil {
				break
			}
			cur = *p.Prototype
		}
	}
	a.Prototype = prototype
	return nil
}

// SetLocation moves aid under newLocation, rejecting a move under itself
// or a descendant (spec.md §4.B "NewLocationIsChildOfCurrentAsset").
func (ds *DataSet) SetLocation(aid AID, newLocation AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	if newLocation != NilAID {
		cur := newLocation
		for cur != NilAID {
			if cur == aid {
				return ferrors.Wrap(ferrors.DataSet, ferrors.ErrNewLocationIsChildOfCurrentAsset, aid.String(), "")
			}
			node, err := ds.Get(cur)
			if err != nil {
				break // location chain may terminate outside this data set's loaded set
			}
			cur = node.Location
		}
	}
	a.Location = newLocation
	return nil
}

// SetProperty validates value against the schema at path and stores it as
// a local override, returning the previous resolved value. No partial
// state is written on a type mismatch (spec.md §4.B edge cases).
func (ds *DataSet) SetProperty(aid AID, path Path, value Value) (Value, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return Value{}, err
	}
	set, err := ds.currentSet()
	if err != nil {
		return Value{}, err
	}
	ft, err := typeAtPath(set, a.Schema, path)
	if err != nil {
		return Value{}, err
	}
	if !valueMatchesLeaf(set, ft, value) {
		return Value{}, ferrors.Wrap(ferrors.DataSet, ferrors.ErrValueDoesNotMatchSchema, string(path), "")
	}

	prev, _ := ds.ResolveProperty(aid, path)
	a.Properties[string(path)] = value
	return prev, nil
}

func valueMatchesLeaf(set *schema.SchemaSet, ft *schema.FieldType, v Value) bool {
	switch ft.Kind {
	case schema.KindPrimitive:
		return matchesPrimitive(v, ft.Primitive)
	case schema.KindAssetRef:
		return v.Kind == VAssetRef
	case schema.KindNamedRef:
		if v.Kind != VEnumSymbol {
			return false
		}
		nt, ok := set.Get(ft.RefFingerprint)
		if !ok || nt.Kind != schema.EnumKind {
			return false
		}
		for _, sym := range nt.Symbols {
			if sym.Name == v.Str {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ClearPropertyOverride removes a local override, falling back to the
// prototype chain / schema default on next resolve.
func (ds *DataSet) ClearPropertyOverride(aid AID, path Path) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	delete(a.Properties, string(path))
	return nil
}

// SetNullOverride sets the tri-state override on a Nullable field.
func (ds *DataSet) SetNullOverride(aid AID, path Path, state NullOverrideState) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	set, err := ds.currentSet()
	if err != nil {
		return err
	}
	ft, err := typeAtPath(set, a.Schema, path)
	if err != nil {
		return err
	}
	if ft.Kind != schema.KindNullable {
		return ferrors.Wrap(ferrors.DataSet, ferrors.ErrValueDoesNotMatchSchema, string(path), "not a nullable field")
	}
	if state == Unset {
		delete(a.NullOverrides, string(path))
		return nil
	}
	a.NullOverrides[string(path)] = state
	return nil
}

// AddDynamicArrayEntry appends a fresh element id to the array's local
// entries and returns it.
func (ds *DataSet) AddDynamicArrayEntry(aid AID, path Path) (AID, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return NilAID, err
	}
	elem := NewAID()
	state := a.DynamicArrayEntries[string(path)]
	if state == nil {
		state = &DynArrayState{}
		a.DynamicArrayEntries[string(path)] = state
	}
	state.Entries = append(state.Entries, elem)
	return elem, nil
}

// RemoveDynamicArrayEntry removes a local entry. Removing an entry that
// only exists on a prototype is a no-op here; resolution will still mask
// it at read time if the caller additionally sets replace mode.
func (ds *DataSet) RemoveDynamicArrayEntry(aid AID, path Path, elem AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	state := a.DynamicArrayEntries[string(path)]
	if state == nil {
		return nil
	}
	out := state.Entries[:0]
	for _, e := range state.Entries {
		if e != elem {
			out = append(out, e)
		}
	}
	state.Entries = out
	return nil
}

func (ds *DataSet) SetReplaceMode(aid AID, path Path, on bool) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	state := a.DynamicArrayEntries[string(path)]
	if state == nil {
		state = &DynArrayState{}
		a.DynamicArrayEntries[string(path)] = state
	}
	state.Replace = on
	return nil
}

// ApplyPropertyOverrideToPrototype moves aid's local override at path up
// one level onto its prototype (spec.md §8 scenario 4).
func (ds *DataSet) ApplyPropertyOverrideToPrototype(aid AID, path Path) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	if a.Prototype == nil {
		return ferrors.Wrap(ferrors.DataSet, ferrors.ErrNoPrototype, aid.String(), "")
	}
	v, ok := a.Properties[string(path)]
	if !ok {
		return ferrors.Wrap(ferrors.DataSet, ferrors.ErrPathNotFound, string(path), "no local override to promote")
	}
	if _, err := ds.SetProperty(*a.Prototype, path, v); err != nil {
		return err
	}
	delete(a.Properties, string(path))
	return nil
}

// CopyFrom shallow-copies an asset from another data set into this one,
// used by Edit Context snapshots.
func (ds *DataSet) CopyFrom(other *DataSet, aid AID) error {
	src, err := other.Get(aid)
	if err != nil {
		return err
	}
	ds.assets[aid] = src.clone()
	return nil
}

// AllAssetIDs returns every asset id currently loaded, for iteration by
// the Edit Context, Data Source, and Asset Engine.
func (ds *DataSet) AllAssetIDs() []AID {
	ids := make([]AID, 0, len(ds.assets))
	for id := range ds.assets {
		ids = append(ids, id)
	}
	return ids
}

// MarkGenerated flags aid as importer-produced and not yet persisted by a
// Data Source (spec.md §4.D).
func (ds *DataSet) MarkGenerated(aid AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	a.Generated = true
	return nil
}

// ClearGenerated clears the "generated" flag on an importer-produced asset
// once a Data Source has written it to real storage (spec.md §4.D).
func (ds *DataSet) ClearGenerated(aid AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	a.Generated = false
	return nil
}

// SetName renames an asset.
func (ds *DataSet) SetName(aid AID, name *string) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	a.Name = name
	return nil
}

// Snapshot returns a deep-copied pre-image of an asset, used by the Edit
// Context to build before_state and by undo/redo to restore whole assets
// across create/delete boundaries.
func (ds *DataSet) Snapshot(aid AID) (*Asset, error) {
	a, err := ds.Get(aid)
	if err != nil {
		return nil, err
	}
	return a.clone(), nil
}

// RestoreSnapshot overwrites (or recreates) an asset from a snapshot
// previously returned by Snapshot.
func (ds *DataSet) RestoreSnapshot(snap *Asset) error {
	ds.assets[snap.ID] = snap.clone()
	return nil
}

// AppendDynamicArrayEntryRaw appends a caller-supplied (already-minted)
// element id, used by the Edit Context to replay a recorded diff without
// minting a fresh uuid in AddDynamicArrayEntry's place.
func (ds *DataSet) AppendDynamicArrayEntryRaw(aid AID, path Path, elem AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	state := a.DynamicArrayEntries[string(path)]
	if state == nil {
		state = &DynArrayState{}
		a.DynamicArrayEntries[string(path)] = state
	}
	if !state.has(elem) {
		state.Entries = append(state.Entries, elem)
	}
	return nil
}
