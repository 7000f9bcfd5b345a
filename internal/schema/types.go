// Package schema implements the Schema Registry (spec.md §4.A): parsing
// unlinked schema definitions, resolving symbolic references into a linked
// SchemaSet, computing stable 128-bit fingerprints, and persisting a
// schema cache tolerant of evolution.
package schema

import "github.com/foundryforge/foundry/internal/fhash"

// SF is a Schema Fingerprint: a 128-bit structural hash of a named type's
// full transitive shape. Field names and types (recursively, by
// fingerprint) and enum symbols feed the hash; aliases never do.
type SF = fhash.Digest128

// Primitive enumerates the scalar field kinds.
type Primitive string

const (
	Bool   Primitive = "bool"
	I32    Primitive = "i32"
	I64    Primitive = "i64"
	U32    Primitive = "u32"
	U64    Primitive = "u64"
	F32    Primitive = "f32"
	F64    Primitive = "f64"
	Bytes  Primitive = "bytes"
	String Primitive = "string"
)

// FieldTypeKind tags which case of the FieldType union is populated.
type FieldTypeKind string

const (
	KindNullable     FieldTypeKind = "nullable"
	KindPrimitive    FieldTypeKind = "primitive"
	KindStaticArray  FieldTypeKind = "static_array"
	KindDynamicArray FieldTypeKind = "dynamic_array"
	KindMap          FieldTypeKind = "map"
	KindAssetRef     FieldTypeKind = "asset_ref"
	KindNamedRef     FieldTypeKind = "named_ref"
)

// FieldType is the linked, tagged-union field type described in spec.md
// §3. Only the member matching Kind is populated.
type FieldType struct {
	Kind FieldTypeKind

	Inner     *FieldType // Nullable, StaticArray, DynamicArray
	Primitive Primitive  // KindPrimitive
	ArrayLen  uint32     // KindStaticArray

	MapKey   *FieldType // KindMap
	MapValue *FieldType // KindMap

	TargetFingerprint SF // KindAssetRef: target schema fingerprint
	RefFingerprint    SF // KindNamedRef: referenced named type's fingerprint
}

// Field is one record field: an ordered name, its aliases (excluded from
// the fingerprint), and its type.
type Field struct {
	Name    string
	Aliases []string
	Type    FieldType
}

// Symbol is one enum member.
type Symbol struct {
	Name    string
	Aliases []string
}

// NamedTypeKind distinguishes Record from Enum.
type NamedTypeKind string

const (
	RecordKind NamedTypeKind = "record"
	EnumKind   NamedTypeKind = "enum"
)

// NamedType is a linked, fingerprinted schema type: a Record (ordered
// fields) or an Enum (ordered symbols).
type NamedType struct {
	Kind NamedTypeKind
	Name string // canonical name at link time (informational; not hashed)

	// Record
	Fields        []Field
	RecordAliases []string // type-level aliases, excluded from the hash

	// Enum
	Symbols      []Symbol
	EnumAliases  []string

	Fingerprint SF
}

// SchemaSet is the result of Registry.Link: every named type resolved and
// fingerprinted, indexed by fingerprint and by every name/alias it is
// currently known by.
type SchemaSet struct {
	ByFingerprint map[SF]*NamedType
	byName        map[string]SF // current names+aliases -> fingerprint
}

func newSchemaSet() *SchemaSet {
	return &SchemaSet{
		ByFingerprint: make(map[SF]*NamedType),
		byName:        make(map[string]SF),
	}
}

// Find resolves a current name or alias to its fingerprint. Aliases from
// schemas no longer part of the current set are not searched here — use
// the Registry's cache for historical lookups.
func (s *SchemaSet) Find(nameOrAlias string) (SF, bool) {
	sf, ok := s.byName[nameOrAlias]
	return sf, ok
}

func (s *SchemaSet) Get(sf SF) (*NamedType, bool) {
	nt, ok := s.ByFingerprint[sf]
	return nt, ok
}
