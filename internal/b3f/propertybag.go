package b3f

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// valueJSON is the same on-disk value encoding internal/datasource uses
// for asset files (spec.md §6); duplicated here rather than exported,
// since a b3f block's JSON is a file-format detail private to this
// package, not something callers should construct directly.
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
	case dataset.VString, dataset.VEnumSymbol:
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
		return dataset.BoolValue(vj.Bool != nil && *vj.Bool), nil
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
		return dataset.Value{}, ferrors.Wrap(ferrors.IO, ferrors.ErrInvalidSchema, vj.Kind, "unknown value kind in b3f block")
	}
}

func derefI32(p *int32) int32     { if p == nil { return 0 }; return *p }
func derefI64(p *int64) int64     { if p == nil { return 0 }; return *p }
func derefU32(p *uint32) uint32   { if p == nil { return 0 }; return *p }
func derefU64(p *uint64) uint64   { if p == nil { return 0 }; return *p }
func derefF32(p *float32) float32 { if p == nil { return 0 }; return *p }
func derefF64(p *float64) float64 { if p == nil { return 0 }; return *p }
func derefStr(p *string) string   { if p == nil { return "" }; return *p }

// encodePropertyBag renders a property bag (a default asset, or an
// import-data bag) as the "UTF-8 JSON of property bag" spec.md §4.H
// names for block 1 (and, for import files, the import-data bag in
// block 2).
func encodePropertyBag(props map[dataset.Path]dataset.Value) ([]byte, error) {
	out := make(map[string]valueJSON, len(props))
	for p, v := range props {
		out[string(p)] = valueToJSON(v)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: encode property bag")
	}
	return b, nil
}

func decodePropertyBag(data []byte) (map[dataset.Path]dataset.Value, error) {
	var raw map[string]valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: decode property bag")
	}
	out := make(map[dataset.Path]dataset.Value, len(raw))
	for p, vj := range raw {
		v, err := valueFromJSON(vj)
		if err != nil {
			return nil, err
		}
		out[dataset.Path(p)] = v
	}
	return out, nil
}
