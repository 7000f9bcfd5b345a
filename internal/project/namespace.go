package project

import (
	"path/filepath"

	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/importer"
)

// Resolver implements importer.Resolver over a Config's three named root
// lists, the Go counterpart of
// original_source/hydrate-pipeline/src/project.rs's
// PathReferenceNamespaceResolver impl for HydrateProjectConfiguration: a
// namespace is just a name shared by one entry across the id-based asset
// sources, path-based asset sources, or source file locations.
type Resolver struct {
	cfg *Config
}

func NewResolver(cfg *Config) *Resolver { return &Resolver{cfg: cfg} }

// namespaceRoot returns the absolute root path for namespace, searching
// all three named-root lists in the order the original checks them.
func (r *Resolver) namespaceRoot(namespace string) (string, bool) {
	for _, src := range r.cfg.IDBasedAssetSources {
		if src.Name == namespace {
			return src.Path, true
		}
	}
	for _, src := range r.cfg.PathBasedAssetSources {
		if src.Name == namespace {
			return src.Path, true
		}
	}
	for _, src := range r.cfg.SourceFileLocations {
		if src.Name == namespace {
			return src.Path, true
		}
	}
	return "", false
}

// Resolve turns "namespace://relative/path" into an absolute path. An
// empty namespace means ref.Path is already absolute or relative to the
// caller's own working context (spec.md §4.E leaves that case to the
// caller, e.g. an importer resolving a reference found inside its own
// source file).
func (r *Resolver) Resolve(ref importer.CanonicalPathReference) (string, error) {
	if ref.Namespace == "" {
		return ref.Path, nil
	}
	root, ok := r.namespaceRoot(ref.Namespace)
	if !ok {
		return "", ferrors.Wrap(ferrors.Import, ferrors.ErrUnknownPathNamespace, ref.Namespace, "")
	}
	return filepath.Join(root, ref.Path), nil
}

// Simplify is Resolve's inverse: given an absolute path, find the
// narrowest named root that contains it and return the namespace plus
// the path relative to that root. Returns ok=false if no known root
// contains the path, in which case the caller keeps the path as-is
// (original_source/hydrate-data/src/path_reference.rs's
// PathReference::simplify: "if it has a namespace it can't be
// simplified further").
func (r *Resolver) Simplify(absPath string) (namespace, relPath string, ok bool) {
	bestLen := -1
	for _, list := range [][]NamePathPair{r.cfg.IDBasedAssetSources, r.cfg.PathBasedAssetSources, r.cfg.SourceFileLocations} {
		for _, src := range list {
			if rel, matched := strip(src.Path, absPath); matched && len(src.Path) > bestLen {
				namespace, relPath, ok, bestLen = src.Name, rel, true, len(src.Path)
			}
		}
	}
	return namespace, relPath, ok
}
