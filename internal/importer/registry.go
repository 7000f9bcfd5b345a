package importer

import (
	"strings"

	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// Registry maps file extensions and importer ids to registered Importers.
// A later Register call for an already-registered extension replaces the
// prior one; spec.md does not define a conflict policy, and "last wins"
// lets a project override a default importer for an extension.
type Registry struct {
	byExt map[string]Importer
	byID  map[fhash.Digest128]Importer
}

func NewRegistry() *Registry {
	return &Registry{byExt: map[string]Importer{}, byID: map[fhash.Digest128]Importer{}}
}

func (r *Registry) Register(imp Importer) {
	r.byID[imp.ID()] = imp
	for _, ext := range imp.SupportedExtensions() {
		r.byExt[strings.ToLower(ext)] = imp
	}
}

func (r *Registry) ForExtension(ext string) (Importer, error) {
	imp, ok := r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	if !ok {
		return nil, ferrors.Wrap(ferrors.Import, ferrors.ErrImporterNotFoundForExt, ext, "")
	}
	return imp, nil
}

func (r *Registry) ByID(id fhash.Digest128) (Importer, bool) {
	imp, ok := r.byID[id]
	return imp, ok
}
