package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func simpleRecord(name string, fieldPrims []Primitive, aliases []string) *NamedTypeDef {
	d := &NamedTypeDef{Kind: RecordKind, Name: name, Aliases: aliases}
	for i, p := range fieldPrims {
		d.Fields = append(d.Fields, FieldDef{
			Name: rapidFieldName(i),
			Type: FieldTypeDef{Kind: DefPrimitive, Primitive: p},
		})
	}
	return d
}

func rapidFieldName(i int) string {
	return string(rune('a' + i))
}

func TestFingerprint_ExcludesAliases(t *testing.T) {
	a := []*NamedTypeDef{simpleRecord("Point", []Primitive{F32, F32}, []string{"Vec2"})}
	b := []*NamedTypeDef{simpleRecord("Point", []Primitive{F32, F32}, nil)}

	setA, err := link(a)
	require.NoError(t, err)
	setB, err := link(b)
	require.NoError(t, err)

	fpA := setA.byName["Point"]
	fpB := setB.byName["Point"]
	require.Equal(t, fpA, fpB, "aliases must not affect the fingerprint")
}

func TestFingerprint_RecordOrderSensitive(t *testing.T) {
	a := []*NamedTypeDef{simpleRecord("Pair", []Primitive{I32, String}, nil)}
	b := []*NamedTypeDef{simpleRecord("Pair", []Primitive{String, I32}, nil)}

	setA, err := link(a)
	require.NoError(t, err)
	setB, err := link(b)
	require.NoError(t, err)

	require.NotEqual(t, setA.byName["Pair"], setB.byName["Pair"], "record field order must change the fingerprint")
}

func TestFingerprint_EnumOrderInsensitive(t *testing.T) {
	a := []*NamedTypeDef{{Kind: EnumKind, Name: "Color", Symbols: []SymbolDef{{Name: "Red"}, {Name: "Blue"}}}}
	b := []*NamedTypeDef{{Kind: EnumKind, Name: "Color", Symbols: []SymbolDef{{Name: "Blue"}, {Name: "Red"}}}}

	setA, err := link(a)
	require.NoError(t, err)
	setB, err := link(b)
	require.NoError(t, err)

	require.Equal(t, setA.byName["Color"], setB.byName["Color"], "enum symbol order must not change the fingerprint")
}

func TestFingerprint_MutualRecursionTerminates(t *testing.T) {
	// A.next -> Nullable(NamedRef(B)); B.next -> Nullable(NamedRef(A)).
	defs := []*NamedTypeDef{
		{
			Kind: RecordKind, Name: "A",
			Fields: []FieldDef{{Name: "next", Type: FieldTypeDef{Kind: DefNullable, Inner: &FieldTypeDef{Kind: DefNamedRef, RefName: "B"}}}},
		},
		{
			Kind: RecordKind, Name: "B",
			Fields: []FieldDef{{Name: "next", Type: FieldTypeDef{Kind: DefNullable, Inner: &FieldTypeDef{Kind: DefNamedRef, RefName: "A"}}}},
		},
	}
	set, err := link(defs)
	require.NoError(t, err)
	require.False(t, set.byName["A"].IsZero())
	require.False(t, set.byName["B"].IsZero())
	require.NotEqual(t, set.byName["A"], set.byName["B"])
}

func TestFingerprint_DanglingReference(t *testing.T) {
	defs := []*NamedTypeDef{
		{Kind: RecordKind, Name: "A", Fields: []FieldDef{{Name: "x", Type: FieldTypeDef{Kind: DefNamedRef, RefName: "Missing"}}}},
	}
	_, err := link(defs)
	require.Error(t, err)
}

func TestFingerprint_DuplicateName(t *testing.T) {
	defs := []*NamedTypeDef{
		{Kind: RecordKind, Name: "A"},
		{Kind: RecordKind, Name: "A"},
	}
	_, err := link(defs)
	require.Error(t, err)
}

// Property: fingerprints are stable across permutations of the definition
// order passed to link (spec.md §8 "Fingerprint stability").
func TestFingerprint_StableAcrossDefinitionOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "n")
		names := make([]string, n)
		for i := range names {
			names[i] = rapidFieldName(i) + "Type"
		}

		defs := make([]*NamedTypeDef, n)
		for i, name := range names {
			defs[i] = simpleRecord(name, []Primitive{I32, Bool}, nil)
		}

		setForward, err := link(defs)
		require.NoError(t, err)

		reversed := make([]*NamedTypeDef, n)
		for i, d := range defs {
			reversed[n-1-i] = d
		}
		setReversed, err := link(reversed)
		require.NoError(t, err)

		for _, name := range names {
			require.Equal(t, setForward.byName[name], setReversed.byName[name])
		}
	})
}
