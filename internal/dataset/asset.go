package dataset

import (
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/schema"
)

// NullOverrideState is the tri-state a Nullable field's local override can
// hold (spec.md §3).
type NullOverrideState int

const (
	Unset NullOverrideState = iota
	SetNull
	SetNonNull
)

// DynArrayState is one dynamic array's local state: its own entries, in
// first-appearance order, and whether it replaces (rather than unions
// with) its prototype's entries.
type DynArrayState struct {
	Entries []AID
	Replace bool
}

func (s *DynArrayState) has(id AID) bool {
	for _, e := range s.Entries {
		if e == id {
			return true
		}
	}
	return false
}

// ImportInfo records where an asset came from, for importer re-runs and
// staleness detection (spec.md §3).
type ImportInfo struct {
	SourceFile         string
	ImportableName     *string
	ImporterID         fhash.Digest128
	SourceFileMetadata SourceFileMetadata
}

type SourceFileMetadata struct {
	ModifiedTS  int64
	SizeBytes   uint64
	ContentHash fhash.Digest128
}

// Asset is the authoritative in-memory representation of spec.md §3's
// Asset type.
type Asset struct {
	ID       AID
	Schema   schema.SF
	Name     *string
	Location AID // NilAID is the null/root location
	Prototype *AID

	Properties          map[string]Value
	NullOverrides       map[string]NullOverrideState
	DynamicArrayEntries map[string]*DynArrayState

	ImportInfo *ImportInfo
	// Generated marks an importer-produced asset not yet persisted by a
	// Data Source (spec.md §4.D).
	Generated bool
}

// NewAssetForLoad constructs an Asset directly from a known id, for a Data
// Source loading a previously persisted asset file rather than minting a
// fresh id via NewAID. Callers insert the result into a DataSet with
// RestoreSnapshot.
func NewAssetForLoad(id AID, sf schema.SF, name *string, location AID) *Asset {
	return newAsset(id, sf, name, location)
}

func newAsset(id AID, sf schema.SF, name *string, location AID) *Asset {
	return &Asset{
		ID:                  id,
		Schema:              sf,
		Name:                name,
		Location:            location,
		Properties:          make(map[string]Value),
		NullOverrides:       make(map[string]NullOverrideState),
		DynamicArrayEntries: make(map[string]*DynArrayState),
	}
}

// clone deep-copies an asset for prototype snapshots, undo before-images,
// and copy_from.
func (a *Asset) clone() *Asset {
	c := *a
	if a.Name != nil {
		n := *a.Name
		c.Name = &n
	}
	if a.Prototype != nil {
		p := *a.Prototype
		c.Prototype = &p
	}
	c.Properties = make(map[string]Value, len(a.Properties))
	for k, v := range a.Properties {
		c.Properties[k] = v
	}
	c.NullOverrides = make(map[string]NullOverrideState, len(a.NullOverrides))
	for k, v := range a.NullOverrides {
		c.NullOverrides[k] = v
	}
	c.DynamicArrayEntries = make(map[string]*DynArrayState, len(a.DynamicArrayEntries))
	for k, v := range a.DynamicArrayEntries {
		entries := make([]AID, len(v.Entries))
		copy(entries, v.Entries)
		c.DynamicArrayEntries[k] = &DynArrayState{Entries: entries, Replace: v.Replace}
	}
	if a.ImportInfo != nil {
		ii := *a.ImportInfo
		c.ImportInfo = &ii
	}
	return &c
}
