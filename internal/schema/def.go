package schema

// The *Def types are the unlinked schema definitions a project's
// schema_def_paths files decode into (spec.md §6): named types may refer
// to one another by name or alias, not yet by fingerprint.

type FieldTypeDefKind string

const (
	DefNullable     FieldTypeDefKind = "nullable"
	DefPrimitive    FieldTypeDefKind = "primitive"
	DefStaticArray  FieldTypeDefKind = "static_array"
	DefDynamicArray FieldTypeDefKind = "dynamic_array"
	DefMap          FieldTypeDefKind = "map"
	DefAssetRef     FieldTypeDefKind = "asset_ref"
	DefNamedRef     FieldTypeDefKind = "named_ref"
)

// FieldTypeDef mirrors FieldType but references other named types
// symbolically (by name/alias string) instead of by fingerprint.
type FieldTypeDef struct {
	Kind FieldTypeDefKind `json:"kind"`

	Inner     *FieldTypeDef `json:"inner,omitempty"`
	Primitive Primitive     `json:"primitive,omitempty"`
	ArrayLen  uint32        `json:"array_len,omitempty"`

	MapKey   *FieldTypeDef `json:"map_key,omitempty"`
	MapValue *FieldTypeDef `json:"map_value,omitempty"`

	// RefName is the symbolic name/alias of the referenced named type,
	// used by both DefAssetRef and DefNamedRef.
	RefName string `json:"ref_name,omitempty"`
}

type FieldDef struct {
	Name    string       `json:"name"`
	Aliases []string     `json:"aliases,omitempty"`
	Type    FieldTypeDef `json:"type"`
}

type SymbolDef struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// NamedTypeDef is one unlinked type definition: exactly one of Fields or
// Symbols is set, selected by Kind.
type NamedTypeDef struct {
	Kind NamedTypeKind `json:"kind"`
	Name string        `json:"name"`

	Fields  []FieldDef `json:"fields,omitempty"`
	Aliases []string   `json:"aliases,omitempty"` // type-level aliases

	Symbols []SymbolDef `json:"symbols,omitempty"`
}
