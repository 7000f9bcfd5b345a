// Package editctx implements the Edit Context & Undo component
// (spec.md §4.C): transactional mutation on top of a Data Set, with
// diff-based undo/redo across named, resumable contexts.
package editctx

import (
	"bytes"

	"github.com/google/go-cmp/cmp"

	"github.com/foundryforge/foundry/internal/dataset"
)

// valuesEqual compares two Values field-by-field. dataset.Value embeds a
// []byte (VBytes), which makes the struct non-comparable with ==.
func valuesEqual(a, b dataset.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case dataset.VBytes:
		return bytes.Equal(a.Bytes, b.Bytes)
	default:
		return a.B == b.B && a.I32 == b.I32 && a.I64 == b.I64 && a.U32 == b.U32 &&
			a.U64 == b.U64 && a.F32 == b.F32 && a.F64 == b.F64 &&
			a.Str == b.Str && a.AssetRef == b.AssetRef
	}
}

// AssetDiff is one direction of change for a single asset, built by
// comparing a before/after pair of snapshots (spec.md §4.C "Diff
// representation").
type AssetDiff struct {
	SetProperties       map[string]dataset.Value
	RemoveProperties     []string
	SetNullOverrides     map[string]dataset.NullOverrideState
	RemoveNullOverrides  []string
	ReplaceMode          map[string]bool
	DynArrayAdd          map[string][]dataset.AID
	DynArrayRemove       map[string][]dataset.AID

	PrototypeChanged bool
	Prototype        *dataset.AID

	LocationChanged bool
	Location        dataset.AID

	NameChanged bool
	Name        *string
}

func newAssetDiff() *AssetDiff {
	return &AssetDiff{
		SetProperties:    map[string]dataset.Value{},
		SetNullOverrides: map[string]dataset.NullOverrideState{},
		ReplaceMode:      map[string]bool{},
		DynArrayAdd:      map[string][]dataset.AID{},
		DynArrayRemove:   map[string][]dataset.AID{},
	}
}

func (d *AssetDiff) isEmpty() bool {
	return len(d.SetProperties) == 0 && len(d.RemoveProperties) == 0 &&
		len(d.SetNullOverrides) == 0 && len(d.RemoveNullOverrides) == 0 &&
		len(d.ReplaceMode) == 0 && len(d.DynArrayAdd) == 0 && len(d.DynArrayRemove) == 0 &&
		!d.PrototypeChanged && !d.LocationChanged && !d.NameChanged
}

// assetDiffPair holds the two directions needed by undo (Revert) and
// redo (Apply) for one mutated asset.
type assetDiffPair struct {
	Apply  *AssetDiff
	Revert *AssetDiff
}

// DataSetDiffSet bundles every asset's diff pair from one undo context,
// plus the set of assets created or deleted inside it.
type DataSetDiffSet struct {
	Assets  map[dataset.AID]assetDiffPair
	Creates []*dataset.Asset // full snapshot, for redo-recreate / undo-delete
	Deletes []*dataset.Asset // full pre-delete snapshot, for undo-recreate / redo-delete
}

func newDiffSet() *DataSetDiffSet {
	return &DataSetDiffSet{Assets: map[dataset.AID]assetDiffPair{}}
}

func (ds *DataSetDiffSet) isEmpty() bool {
	return len(ds.Assets) == 0 && len(ds.Creates) == 0 && len(ds.Deletes) == 0
}

// computeAssetDiff builds the (apply, revert) pair transforming before
// into after and back. changed reports whether anything at all differs,
// checked cheaply with cmp.Equal over the three override maps (plus
// prototype, location and name) before paying for the structured diff
// below.
func computeAssetDiff(before, after *dataset.Asset) (apply, revert *AssetDiff, changed bool) {
	if cmp.Equal(before.Properties, after.Properties) &&
		cmp.Equal(before.NullOverrides, after.NullOverrides) &&
		cmp.Equal(before.DynamicArrayEntries, after.DynamicArrayEntries) &&
		ptrEqual(before.Prototype, after.Prototype) &&
		before.Location == after.Location &&
		strPtrEqual(before.Name, after.Name) {
		return newAssetDiff(), newAssetDiff(), false
	}

	apply = diffDirection(before, after)
	revert = diffDirection(after, before)
	return apply, revert, true
}

// diffDirection returns the AssetDiff that transforms from into to.
func diffDirection(from, to *dataset.Asset) *AssetDiff {
	d := newAssetDiff()

	for path, v := range to.Properties {
		if fv, ok := from.Properties[path]; !ok || !valuesEqual(fv, v) {
			d.SetProperties[path] = v
		}
	}
	for path := range from.Properties {
		if _, ok := to.Properties[path]; !ok {
			d.RemoveProperties = append(d.RemoveProperties, path)
		}
	}

	for path, v := range to.NullOverrides {
		if fv, ok := from.NullOverrides[path]; !ok || fv != v {
			d.SetNullOverrides[path] = v
		}
	}
	for path := range from.NullOverrides {
		if _, ok := to.NullOverrides[path]; !ok {
			d.RemoveNullOverrides = append(d.RemoveNullOverrides, path)
		}
	}

	paths := map[string]bool{}
	for p := range from.DynamicArrayEntries {
		paths[p] = true
	}
	for p := range to.DynamicArrayEntries {
		paths[p] = true
	}
	for path := range paths {
		var fromEntries, toEntries []dataset.AID
		fromReplace, toReplace := false, false
		if s := from.DynamicArrayEntries[path]; s != nil {
			fromEntries, fromReplace = s.Entries, s.Replace
		}
		if s := to.DynamicArrayEntries[path]; s != nil {
			toEntries, toReplace = s.Entries, s.Replace
		}
		add, remove := diffEntries(fromEntries, toEntries)
		if len(add) > 0 {
			d.DynArrayAdd[path] = add
		}
		if len(remove) > 0 {
			d.DynArrayRemove[path] = remove
		}
		if fromReplace != toReplace {
			d.ReplaceMode[path] = toReplace
		}
	}

	if !ptrEqual(from.Prototype, to.Prototype) {
		d.PrototypeChanged = true
		d.Prototype = to.Prototype
	}
	if from.Location != to.Location {
		d.LocationChanged = true
		d.Location = to.Location
	}
	if !strPtrEqual(from.Name, to.Name) {
		d.NameChanged = true
		d.Name = to.Name
	}
	return d
}

func diffEntries(from, to []dataset.AID) (add, remove []dataset.AID) {
	fromSet := make(map[dataset.AID]bool, len(from))
	for _, e := range from {
		fromSet[e] = true
	}
	toSet := make(map[dataset.AID]bool, len(to))
	for _, e := range to {
		toSet[e] = true
	}
	for _, e := range to {
		if !fromSet[e] {
			add = append(add, e)
		}
	}
	for _, e := range from {
		if !toSet[e] {
			remove = append(remove, e)
		}
	}
	return add, remove
}

func ptrEqual(a, b *dataset.AID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// applyAssetDiff writes one AssetDiff's changes onto aid through ds's
// ordinary validated mutation API, so replayed undo/redo state can never
// violate the schema invariants a live edit would have to satisfy.
func applyAssetDiff(ds *dataset.DataSet, aid dataset.AID, d *AssetDiff) error {
	for path, v := range d.SetProperties {
		if _, err := ds.SetProperty(aid, dataset.Path(path), v); err != nil {
			return err
		}
	}
	for _, path := range d.RemoveProperties {
		if err := ds.ClearPropertyOverride(aid, dataset.Path(path)); err != nil {
			return err
		}
	}
	for path, st := range d.SetNullOverrides {
		if err := ds.SetNullOverride(aid, dataset.Path(path), st); err != nil {
			return err
		}
	}
	for _, path := range d.RemoveNullOverrides {
		if err := ds.SetNullOverride(aid, dataset.Path(path), dataset.Unset); err != nil {
			return err
		}
	}
	for path, entries := range d.DynArrayAdd {
		for _, e := range entries {
			if err := ds.AppendDynamicArrayEntryRaw(aid, dataset.Path(path), e); err != nil {
				return err
			}
		}
	}
	for path, entries := range d.DynArrayRemove {
		for _, e := range entries {
			if err := ds.RemoveDynamicArrayEntry(aid, dataset.Path(path), e); err != nil {
				return err
			}
		}
	}
	for path, on := range d.ReplaceMode {
		if err := ds.SetReplaceMode(aid, dataset.Path(path), on); err != nil {
			return err
		}
	}
	if d.PrototypeChanged {
		if err := ds.SetPrototype(aid, d.Prototype); err != nil {
			return err
		}
	}
	if d.LocationChanged {
		if err := ds.SetLocation(aid, d.Location); err != nil {
			return err
		}
	}
	if d.NameChanged {
		if err := ds.SetName(aid, d.Name); err != nil {
			return err
		}
	}
	return nil
}
