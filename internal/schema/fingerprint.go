package schema

import (
	"encoding/binary"

	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// visitState tracks a named type's position in the fingerprinting DFS.
type visitState int

const (
	unvisited visitState = iota
	visiting
	done
)

type linker struct {
	defs    map[string]*NamedTypeDef // every current name/alias -> def
	primary map[string]*NamedTypeDef // def.Name -> def, for error messages

	state map[string]visitState
	fp    map[string]SF // def.Name -> final fingerprint, once done
}

// link resolves every symbolic reference in defs and computes fingerprints,
// returning a SchemaSet. It fails on any dangling reference, duplicate
// primary name, or alias collision, per spec.md §4.A.
func link(defs []*NamedTypeDef) (*SchemaSet, error) {
	l := &linker{
		defs:    make(map[string]*NamedTypeDef),
		primary: make(map[string]*NamedTypeDef),
		state:   make(map[string]visitState),
		fp:      make(map[string]SF),
	}

	for _, d := range defs {
		if _, exists := l.primary[d.Name]; exists {
			return nil, ferrors.Wrap(ferrors.Schema, ferrors.ErrDuplicateName, "", d.Name)
		}
		l.primary[d.Name] = d

		if err := l.registerName(d.Name, d); err != nil {
			return nil, err
		}
		for _, a := range d.Aliases {
			if err := l.registerName(a, d); err != nil {
				return nil, err
			}
		}
	}

	// Fingerprint every type as the root of its own walk, with fresh
	// memoization, so a reference cycle is always cut at the same type and
	// definition order doesn't matter for the result, per the
	// fingerprint-stability testable property.
	final := make(map[string]SF, len(l.defs))
	for _, d := range defs {
		l.state = make(map[string]visitState)
		l.fp = make(map[string]SF)
		sf, err := l.fingerprintOf(d.Name)
		if err != nil {
			return nil, err
		}
		final[d.Name] = sf
		for _, a := range d.Aliases {
			final[a] = sf
		}
	}
	l.fp = final

	set := newSchemaSet()
	for _, d := range defs {
		nt, err := l.build(d)
		if err != nil {
			return nil, err
		}
		set.ByFingerprint[nt.Fingerprint] = nt
		set.byName[d.Name] = nt.Fingerprint
		for _, a := range d.Aliases {
			set.byName[a] = nt.Fingerprint
		}
	}
	return set, nil
}

func (l *linker) registerName(name string, d *NamedTypeDef) error {
	if existing, ok := l.defs[name]; ok && existing != d {
		return ferrors.Wrap(ferrors.Schema, ferrors.ErrAliasCollision, "", name)
	}
	l.defs[name] = d
	return nil
}

// fingerprintOf returns the final fingerprint for the named type `name`,
// or the cycle placeholder if `name` is currently being visited higher up
// the same DFS stack (spec.md §4.A algorithm).
func (l *linker) fingerprintOf(name string) (SF, error) {
	switch l.state[name] {
	case done:
		return l.fp[name], nil
	case visiting:
		return fhash.NamePlaceholder(name), nil
	}

	d, ok := l.defs[name]
	if !ok {
		return SF{}, ferrors.Wrap(ferrors.Schema, ferrors.ErrDanglingReference, "", name)
	}

	l.state[name] = visiting
	var sum SF
	var err error
	switch d.Kind {
	case RecordKind:
		sum, err = l.fingerprintRecord(d)
	case EnumKind:
		sum, err = l.fingerprintEnum(d)
	default:
		return SF{}, ferrors.Wrap(ferrors.Schema, ferrors.ErrInvalidSchema, "", name)
	}
	if err != nil {
		return SF{}, err
	}
	l.state[name] = done
	l.fp[name] = sum
	return sum, nil
}

// fingerprintRecord hashes field names and types in declared order
// (records ARE order-sensitive, per spec.md §4.A), excluding aliases.
func (l *linker) fingerprintRecord(d *NamedTypeDef) (SF, error) {
	oc := fhash.NewOrderedCombinator()
	oc.Add([]byte("record"))
	for _, f := range d.Fields {
		oc.Add([]byte(f.Name))
		ftHash, err := l.hashFieldType(&f.Type)
		if err != nil {
			return SF{}, err
		}
		oc.Add(ftHash[:])
	}
	return truncate(oc.Sum64(), d.Name), nil
}

// fingerprintEnum hashes symbol names order-insensitively (enums are NOT
// order-sensitive, per spec.md §4.A), excluding aliases.
func (l *linker) fingerprintEnum(d *NamedTypeDef) (SF, error) {
	uc := &fhash.UnorderedCombinator{}
	for _, s := range d.Symbols {
		uc.Add([]byte(s.Name))
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uc.Sum64())
	return fhash.Sum128([]byte("enum"), buf[:]), nil
}

// hashFieldType recursively hashes a field type's structure, substituting
// referenced named types by their (possibly placeholder) fingerprint.
func (l *linker) hashFieldType(ft *FieldTypeDef) (SF, error) {
	switch ft.Kind {
	case DefNullable:
		inner, err := l.hashFieldType(ft.Inner)
		if err != nil {
			return SF{}, err
		}
		return fhash.Sum128([]byte("nullable"), inner[:]), nil
	case DefPrimitive:
		return fhash.Sum128([]byte("primitive"), []byte(ft.Primitive)), nil
	case DefStaticArray:
		inner, err := l.hashFieldType(ft.Inner)
		if err != nil {
			return SF{}, err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], ft.ArrayLen)
		return fhash.Sum128([]byte("static_array"), inner[:], lenBuf[:]), nil
	case DefDynamicArray:
		inner, err := l.hashFieldType(ft.Inner)
		if err != nil {
			return SF{}, err
		}
		return fhash.Sum128([]byte("dynamic_array"), inner[:]), nil
	case DefMap:
		k, err := l.hashFieldType(ft.MapKey)
		if err != nil {
			return SF{}, err
		}
		v, err := l.hashFieldType(ft.MapValue)
		if err != nil {
			return SF{}, err
		}
		return fhash.Sum128([]byte("map"), k[:], v[:]), nil
	case DefAssetRef:
		target, err := l.fingerprintOf(ft.RefName)
		if err != nil {
			return SF{}, err
		}
		return fhash.Sum128([]byte("asset_ref"), target[:]), nil
	case DefNamedRef:
		ref, err := l.fingerprintOf(ft.RefName)
		if err != nil {
			return SF{}, err
		}
		return fhash.Sum128([]byte("named_ref"), ref[:]), nil
	default:
		return SF{}, ferrors.Wrap(ferrors.Schema, ferrors.ErrInvalidSchema, "", string(ft.Kind))
	}
}

func truncate(sum64 uint64, salt string) SF {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sum64)
	return fhash.Sum128(buf[:], []byte(salt))
}

// build converts a definition plus the now-fully-computed fingerprint
// table into a linked NamedType, with every reference resolved to its
// final (non-placeholder) fingerprint.
func (l *linker) build(d *NamedTypeDef) (*NamedType, error) {
	nt := &NamedType{Kind: d.Kind, Name: d.Name, Fingerprint: l.fp[d.Name]}
	switch d.Kind {
	case RecordKind:
		nt.RecordAliases = d.Aliases
		for _, f := range d.Fields {
			ft, err := l.buildFieldType(&f.Type)
			if err != nil {
				return nil, err
			}
			nt.Fields = append(nt.Fields, Field{Name: f.Name, Aliases: f.Aliases, Type: *ft})
		}
	case EnumKind:
		nt.EnumAliases = d.Aliases
		for _, s := range d.Symbols {
			nt.Symbols = append(nt.Symbols, Symbol{Name: s.Name, Aliases: s.Aliases})
		}
	}
	return nt, nil
}

func (l *linker) buildFieldType(ft *FieldTypeDef) (*FieldType, error) {
	switch ft.Kind {
	case DefNullable:
		inner, err := l.buildFieldType(ft.Inner)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindNullable, Inner: inner}, nil
	case DefPrimitive:
		return &FieldType{Kind: KindPrimitive, Primitive: ft.Primitive}, nil
	case DefStaticArray:
		inner, err := l.buildFieldType(ft.Inner)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindStaticArray, Inner: inner, ArrayLen: ft.ArrayLen}, nil
	case DefDynamicArray:
		inner, err := l.buildFieldType(ft.Inner)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindDynamicArray, Inner: inner}, nil
	case DefMap:
		k, err := l.buildFieldType(ft.MapKey)
		if err != nil {
			return nil, err
		}
		v, err := l.buildFieldType(ft.MapValue)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindMap, MapKey: k, MapValue: v}, nil
	case DefAssetRef:
		return &FieldType{Kind: KindAssetRef, TargetFingerprint: l.fp[ft.RefName]}, nil
	case DefNamedRef:
		return &FieldType{Kind: KindNamedRef, RefFingerprint: l.fp[ft.RefName]}, nil
	default:
		return nil, ferrors.Wrap(ferrors.Schema, ferrors.ErrInvalidSchema, "", string(ft.Kind))
	}
}
