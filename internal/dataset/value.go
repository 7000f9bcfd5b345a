// Package dataset implements the Data Set (spec.md §4.B): the in-memory
// store of every asset loaded into an edit session, with prototype-chain
// property resolution, null overrides, and dynamic-array entries.
package dataset

import (
	"github.com/google/uuid"

	"github.com/foundryforge/foundry/internal/schema"
)

// AID is a 128-bit asset id, also reused for dynamic-array element
// identity (spec.md §3: "Asset Id (AID): 128-bit UUID").
type AID = uuid.UUID

// NilAID is the null asset id, used both for "no prototype" and for the
// null AssetLocation (a per-source root, spec.md §3).
var NilAID = uuid.Nil

// NewAID mints a fresh random asset/element id.
func NewAID() AID { return uuid.New() }

// ValueKind tags which leaf case a Value holds. Values are always leaves:
// composite structure (record fields, array elements, map entries) is
// represented by distinct property paths, never by a nested Value.
type ValueKind string

const (
	VBool       ValueKind = "bool"
	VI32        ValueKind = "i32"
	VI64        ValueKind = "i64"
	VU32        ValueKind = "u32"
	VU64        ValueKind = "u64"
	VF32        ValueKind = "f32"
	VF64        ValueKind = "f64"
	VBytes      ValueKind = "bytes"
	VString     ValueKind = "string"
	VAssetRef   ValueKind = "asset_ref"
	VEnumSymbol ValueKind = "enum_symbol"
)

// Value is a single resolved or stored leaf property value.
type Value struct {
	Kind ValueKind

	B        bool
	I32      int32
	I64      int64
	U32      uint32
	U64      uint64
	F32      float32
	F64      float64
	Bytes    []byte
	Str      string // VString and VEnumSymbol
	AssetRef AID    // VAssetRef; NilAID means "no reference"
}

func BoolValue(v bool) Value     { return Value{Kind: VBool, B: v} }
func I32Value(v int32) Value     { return Value{Kind: VI32, I32: v} }
func I64Value(v int64) Value     { return Value{Kind: VI64, I64: v} }
func U32Value(v uint32) Value    { return Value{Kind: VU32, U32: v} }
func U64Value(v uint64) Value    { return Value{Kind: VU64, U64: v} }
func F32Value(v float32) Value   { return Value{Kind: VF32, F32: v} }
func F64Value(v float64) Value   { return Value{Kind: VF64, F64: v} }
func BytesValue(v []byte) Value  { return Value{Kind: VBytes, Bytes: v} }
func StringValue(v string) Value { return Value{Kind: VString, Str: v} }
func AssetRefValue(v AID) Value  { return Value{Kind: VAssetRef, AssetRef: v} }
func EnumSymbolValue(v string) Value { return Value{Kind: VEnumSymbol, Str: v} }

// matchesPrimitive reports whether v is a legal leaf value for a
// primitive field type, the check behind "ValueDoesNotMatchSchema"
// (spec.md §4.B).
func matchesPrimitive(v Value, p schema.Primitive) bool {
	switch p {
	case schema.Bool:
		return v.Kind == VBool
	case schema.I32:
		return v.Kind == VI32
	case schema.I64:
		return v.Kind == VI64
	case schema.U32:
		return v.Kind == VU32
	case schema.U64:
		return v.Kind == VU64
	case schema.F32:
		return v.Kind == VF32
	case schema.F64:
		return v.Kind == VF64
	case schema.Bytes:
		return v.Kind == VBytes
	case schema.String:
		return v.Kind == VString
	default:
		return false
	}
}

// defaultPrimitive returns the schema zero value for a primitive type.
func defaultPrimitive(p schema.Primitive) Value {
	switch p {
	case schema.Bool:
		return BoolValue(false)
	case schema.I32:
		return I32Value(0)
	case schema.I64:
		return I64Value(0)
	case schema.U32:
		return U32Value(0)
	case schema.U64:
		return U64Value(0)
	case schema.F32:
		return F32Value(0)
	case schema.F64:
		return F64Value(0)
	case schema.Bytes:
		return BytesValue(nil)
	case schema.String:
		return StringValue("")
	default:
		return Value{}
	}
}
