package datasource

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/fhash"
)

// valueJSON is the on-disk encoding of one leaf dataset.Value, matching
// the "properties: map<property-path, Value>" shape named in spec.md §6's
// asset file format. Exactly one non-Kind field is populated.
type valueJSON struct {
	Kind     string   `json:"kind"`
	Bool     *bool    `json:"bool,omitempty"`
	I32      *int32   `json:"i32,omitempty"`
	I64      *int64   `json:"i64,omitempty"`
	U32      *uint32  `json:"u32,omitempty"`
	U64      *uint64  `json:"u64,omitempty"`
	F32      *float32 `json:"f32,omitempty"`
	F64      *float64 `json:"f64,omitempty"`
	Bytes    []byte   `json:"bytes,omitempty"`
	Str      *string  `json:"str,omitempty"`
	AssetRef *string  `json:"asset_ref,omitempty"`
}

func valueToJSON(v dataset.Value) valueJSON {
	vj := valueJSON{Kind: string(v.Kind)}
	switch v.Kind {
	case dataset.VBool:
		vj.Bool = &v.B
	case dataset.VI32:
		vj.I32 = &v.I32
	case dataset.VI64:
		vj.I64 = &v.I64
	case dataset.VU32:
		vj.U32 = &v.U32
	case dataset.VU64:
		vj.U64 = &v.U64
	case dataset.VF32:
		vj.F32 = &v.F32
	case dataset.VF64:
		vj.F64 = &v.F64
	case dataset.VBytes:
		vj.Bytes = v.Bytes
	case dataset.VString:
		vj.Str = &v.Str
	case dataset.VEnumSymbol:
		vj.Str = &v.Str
	case dataset.VAssetRef:
		s := v.AssetRef.String()
		vj.AssetRef = &s
	}
	return vj
}

func valueFromJSON(vj valueJSON) (dataset.Value, error) {
	switch dataset.ValueKind(vj.Kind) {
	case dataset.VBool:
		return dataset.BoolValue(derefBool(vj.Bool)), nil
	case dataset.VI32:
		return dataset.I32Value(derefI32(vj.I32)), nil
	case dataset.VI64:
		return dataset.I64Value(derefI64(vj.I64)), nil
	case dataset.VU32:
		return dataset.U32Value(derefU32(vj.U32)), nil
	case dataset.VU64:
		return dataset.U64Value(derefU64(vj.U64)), nil
	case dataset.VF32:
		return dataset.F32Value(derefF32(vj.F32)), nil
	case dataset.VF64:
		return dataset.F64Value(derefF64(vj.F64)), nil
	case dataset.VBytes:
		return dataset.BytesValue(vj.Bytes), nil
	case dataset.VString:
		return dataset.StringValue(derefStr(vj.Str)), nil
	case dataset.VEnumSymbol:
		return dataset.EnumSymbolValue(derefStr(vj.Str)), nil
	case dataset.VAssetRef:
		if vj.AssetRef == nil {
			return dataset.AssetRefValue(dataset.NilAID), nil
		}
		id, err := uuid.Parse(*vj.AssetRef)
		if err != nil {
			return dataset.Value{}, ferrors.WrapIO(*vj.AssetRef, err)
		}
		return dataset.AssetRefValue(id), nil
	default:
		return dataset.Value{}, ferrors.Wrap(ferrors.Import, ferrors.ErrInvalidSchema, vj.Kind, "unknown value kind in asset file")
	}
}

func derefBool(p *bool) bool       { if p == nil { return false }; return *p }
func derefI32(p *int32) int32      { if p == nil { return 0 }; return *p }
func derefI64(p *int64) int64      { if p == nil { return 0 }; return *p }
func derefU32(p *uint32) uint32    { if p == nil { return 0 }; return *p }
func derefU64(p *uint64) uint64    { if p == nil { return 0 }; return *p }
func derefF32(p *float32) float32  { if p == nil { return 0 }; return *p }
func derefF64(p *float64) float64  { if p == nil { return 0 }; return *p }
func derefStr(p *string) string    { if p == nil { return "" }; return *p }

// assetFileJSON is the on-disk shape of an "Asset file" (spec.md §6):
// `{name, prototype, location, import_info, properties, null_overrides,
// dynamic_array_entries, properties_in_replace_mode}`. A `schema`
// fingerprint field is added (not spelled out in spec.md §6, but required
// to deserialize an asset at all — see DESIGN.md).
type assetFileJSON struct {
	Schema                  string                   `json:"schema"`
	Name                    *string                  `json:"name,omitempty"`
	Prototype               *string                  `json:"prototype,omitempty"`
	Location                string                   `json:"location,omitempty"`
	ImportInfo              *importInfoJSON          `json:"import_info,omitempty"`
	Properties              map[string]valueJSON     `json:"properties,omitempty"`
	NullOverrides           map[string]string        `json:"null_overrides,omitempty"`
	DynamicArrayEntries     map[string][]string       `json:"dynamic_array_entries,omitempty"`
	PropertiesInReplaceMode []string                 `json:"properties_in_replace_mode,omitempty"`
}

type importInfoJSON struct {
	SourceFile         string              `json:"source_file"`
	ImportableName     *string             `json:"importable_name,omitempty"`
	ImporterID         string              `json:"importer_id"`
	SourceFileMetadata sourceFileMetaJSON  `json:"source_file_metadata"`
}

type sourceFileMetaJSON struct {
	ModifiedTS  int64  `json:"modified_ts"`
	SizeBytes   uint64 `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
}

func assetToJSON(a *dataset.Asset) ([]byte, error) {
	return json.Marshal(buildAssetFileJSON(a))
}

func buildAssetFileJSON(a *dataset.Asset) assetFileJSON {
	af := assetFileJSON{
		Schema:   a.Schema.String(),
		Name:     a.Name,
		Location: a.Location.String(),
	}
	if a.Prototype != nil {
		s := a.Prototype.String()
		af.Prototype = &s
	}
	if a.ImportInfo != nil {
		ii := a.ImportInfo
		af.ImportInfo = &importInfoJSON{
			SourceFile:     ii.SourceFile,
			ImportableName: ii.ImportableName,
			ImporterID:     ii.ImporterID.String(),
			SourceFileMetadata: sourceFileMetaJSON{
				ModifiedTS:  ii.SourceFileMetadata.ModifiedTS,
				SizeBytes:   ii.SourceFileMetadata.SizeBytes,
				ContentHash: ii.SourceFileMetadata.ContentHash.String(),
			},
		}
	}
	if len(a.Properties) > 0 {
		af.Properties = make(map[string]valueJSON, len(a.Properties))
		for k, v := range a.Properties {
			af.Properties[k] = valueToJSON(v)
		}
	}
	if len(a.NullOverrides) > 0 {
		af.NullOverrides = make(map[string]string, len(a.NullOverrides))
		for k, v := range a.NullOverrides {
			af.NullOverrides[k] = nullOverrideString(v)
		}
	}
	for path, state := range a.DynamicArrayEntries {
		if af.DynamicArrayEntries == nil {
			af.DynamicArrayEntries = map[string][]string{}
		}
		ids := make([]string, len(state.Entries))
		for i, e := range state.Entries {
			ids[i] = e.String()
		}
		af.DynamicArrayEntries[path] = ids
		if state.Replace {
			af.PropertiesInReplaceMode = append(af.PropertiesInReplaceMode, path)
		}
	}
	return af
}

func assetFromJSON(id dataset.AID, data []byte) (*dataset.Asset, error) {
	var af assetFileJSON
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, ferrors.WrapIO(id.String(), err)
	}
	return assetFromFileJSON(id, af)
}

func assetFromFileJSON(id dataset.AID, af assetFileJSON) (*dataset.Asset, error) {
	sf, err := fhash.ParseDigest128(af.Schema)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Import, ferrors.ErrInvalidSchema, id.String(), "malformed schema fingerprint")
	}
	loc := dataset.NilAID
	if af.Location != "" {
		if loc, err = uuid.Parse(af.Location); err != nil {
			return nil, ferrors.WrapIO(af.Location, err)
		}
	}
	a := dataset.NewAssetForLoad(id, sf, af.Name, loc)
	if af.Prototype != nil {
		p, err := uuid.Parse(*af.Prototype)
		if err != nil {
			return nil, ferrors.WrapIO(*af.Prototype, err)
		}
		a.Prototype = &p
	}
	for k, vj := range af.Properties {
		v, err := valueFromJSON(vj)
		if err != nil {
			return nil, err
		}
		a.Properties[k] = v
	}
	for k, s := range af.NullOverrides {
		a.NullOverrides[k] = nullOverrideFromString(s)
	}
	replace := make(map[string]bool, len(af.PropertiesInReplaceMode))
	for _, p := range af.PropertiesInReplaceMode {
		replace[p] = true
	}
	for path, ids := range af.DynamicArrayEntries {
		entries := make([]dataset.AID, 0, len(ids))
		for _, s := range ids {
			eid, err := uuid.Parse(s)
			if err != nil {
				return nil, ferrors.WrapIO(s, err)
			}
			entries = append(entries, eid)
		}
		a.DynamicArrayEntries[path] = &dataset.DynArrayState{Entries: entries, Replace: replace[path]}
	}
	if af.ImportInfo != nil {
		ii := af.ImportInfo
		importerID, err := fhash.ParseDigest128(ii.ImporterID)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.Import, ferrors.ErrInvalidSchema, id.String(), "malformed importer id")
		}
		contentHash, err := fhash.ParseDigest128(ii.SourceFileMetadata.ContentHash)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.Import, ferrors.ErrInvalidSchema, id.String(), "malformed content hash")
		}
		a.ImportInfo = &dataset.ImportInfo{
			SourceFile:     ii.SourceFile,
			ImportableName: ii.ImportableName,
			ImporterID:     importerID,
			SourceFileMetadata: dataset.SourceFileMetadata{
				ModifiedTS:  ii.SourceFileMetadata.ModifiedTS,
				SizeBytes:   ii.SourceFileMetadata.SizeBytes,
				ContentHash: contentHash,
			},
		}
	}
	return a, nil
}

func nullOverrideString(s dataset.NullOverrideState) string {
	switch s {
	case dataset.SetNull:
		return "null"
	case dataset.SetNonNull:
		return "non_null"
	default:
		return "unset"
	}
}

func nullOverrideFromString(s string) dataset.NullOverrideState {
	switch s {
	case "null":
		return dataset.SetNull
	case "non_null":
		return dataset.SetNonNull
	default:
		return dataset.Unset
	}
}
