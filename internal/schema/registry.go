package schema

import (
	"go.uber.org/zap"

	"github.com/foundryforge/foundry/internal/ferrors"
)

// Registry holds the SchemaSet linked for the current session, plus every
// historical schema ever seen (loaded from the cache file), so that data
// referencing an older fingerprint can still be interpreted even after the
// live schema evolves (spec.md §4.A).
type Registry struct {
	current   *SchemaSet
	historic  map[SF]*NamedType // superset of current.ByFingerprint
}

// NewRegistry constructs an empty registry; call Link to populate it.
func NewRegistry() *Registry {
	return &Registry{historic: make(map[SF]*NamedType)}
}

// Link resolves defs into the current SchemaSet and folds every type into
// the historic set so later load_cache/save_cache round-trips include it.
// Schema load failures are fatal at startup per spec.md §7.
func (r *Registry) Link(defs []*NamedTypeDef) error {
	set, err := link(defs)
	if err != nil {
		return err
	}
	r.current = set
	for fp, nt := range set.ByFingerprint {
		r.historic[fp] = nt
	}
	return nil
}

// Fingerprint returns the fingerprint of an already-linked named type.
// It never recomputes; linking is the only place fingerprints are derived.
func (r *Registry) Fingerprint(nt *NamedType) SF { return nt.Fingerprint }

// Find resolves a name or alias against the CURRENT schema set only, per
// spec.md §4.A ("find(name_or_alias) -> SF: current schemas only").
func (r *Registry) Find(nameOrAlias string) (SF, bool) {
	if r.current == nil {
		return SF{}, false
	}
	return r.current.Find(nameOrAlias)
}

// Get resolves a fingerprint against every schema this registry has ever
// seen (current or historic), so stored assets referencing a retired
// fingerprint still resolve.
func (r *Registry) Get(sf SF) (*NamedType, bool) {
	nt, ok := r.historic[sf]
	return nt, ok
}

// Current exposes the linked set for current-session validation (e.g.
// Data Set property writes must match a currently-linked schema).
func (r *Registry) Current() (*SchemaSet, error) {
	if r.current == nil {
		return nil, ferrors.Wrap(ferrors.Schema, ferrors.ErrInvalidSchema, "", "registry not linked")
	}
	return r.current, nil
}

// LoadCacheFile folds a persisted cache file's historic entries into this
// registry, without disturbing whatever Link has already established as
// current. Call before Link during startup.
func (r *Registry) LoadCacheFile(path string, log *zap.Logger) error {
	loaded, err := LoadCache(path, log)
	if err != nil {
		return err
	}
	for fp, nt := range loaded {
		if _, exists := r.historic[fp]; !exists {
			r.historic[fp] = nt
		}
	}
	return nil
}

// SaveCacheFile persists every schema this registry has ever seen.
func (r *Registry) SaveCacheFile(path string) error {
	return SaveCache(path, r.historic)
}
