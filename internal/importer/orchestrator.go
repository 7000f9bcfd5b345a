package importer

import (
	"context"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// ImportDataStore persists an importable's optional import-data bag,
// keyed by the generated asset id that owns it. Populated by the Data
// Source's parallel uuid-keyed import-data tree (spec.md §4.D) once it
// exists; a simple in-memory store is enough for tests and for processors
// that run in the same pass as the import.
type ImportDataStore interface {
	Put(aid dataset.AID, bag map[dataset.Path]dataset.Value) error
}

// MemImportDataStore is the trivial in-memory ImportDataStore.
type MemImportDataStore struct {
	mu   sync.Mutex
	data map[dataset.AID]map[dataset.Path]dataset.Value
}

func NewMemImportDataStore() *MemImportDataStore {
	return &MemImportDataStore{data: map[dataset.AID]map[dataset.Path]dataset.Value{}}
}

func (s *MemImportDataStore) Put(aid dataset.AID, bag map[dataset.Path]dataset.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[aid] = bag
	return nil
}

func (s *MemImportDataStore) Get(aid dataset.AID) (map[dataset.Path]dataset.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bag, ok := s.data[aid]
	return bag, ok
}

// Orchestrator performs the DFS-recursive import spec.md §4.E describes:
// scanning an importable can declare references to other source files
// that must also be imported, so every referenced file is imported (and
// its results cached) before the file that referenced it.
type Orchestrator struct {
	registry   *Registry
	ds         *dataset.DataSet
	fs         afero.Fs
	resolver   Resolver
	importData ImportDataStore
	sem        *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]*pathImport // absolute path -> its single-flighted import
}

// pathImport lets concurrent importers of the same referenced file (a
// shared texture referenced by two materials, say) wait for one import
// instead of racing to import it twice.
type pathImport struct {
	done   chan struct{}
	result map[string]dataset.AID
	err    error
}

// NewOrchestrator builds an orchestrator bounding concurrent open file
// handles at maxConcurrentFiles (SPEC_FULL.md §4.E: a
// golang.org/x/sync/semaphore.Weighted caps fan-out, one goroutine per
// referenced source file via golang.org/x/sync/errgroup, cancellation
// propagated on first hard failure).
func NewOrchestrator(reg *Registry, ds *dataset.DataSet, fs afero.Fs, resolver Resolver, importData ImportDataStore, maxConcurrentFiles int64) *Orchestrator {
	if maxConcurrentFiles <= 0 {
		maxConcurrentFiles = 8
	}
	return &Orchestrator{
		registry:   reg,
		ds:         ds,
		fs:         fs,
		resolver:   resolver,
		importData: importData,
		sem:        semaphore.NewWeighted(maxConcurrentFiles),
		inflight:   map[string]*pathImport{},
	}
}

// Import recursively imports path and everything it references, returning
// the asset id produced for every importable path's own scan reported.
// Concurrent Import calls for the same path (two importables referencing
// one shared file) block on the first call's result rather than
// re-importing.
func (o *Orchestrator) Import(ctx context.Context, path string) (map[string]dataset.AID, error) {
	path = filepath.Clean(path)

	o.mu.Lock()
	if pi, ok := o.inflight[path]; ok {
		o.mu.Unlock()
		select {
		case <-pi.done:
			return pi.result, pi.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pi := &pathImport{done: make(chan struct{})}
	o.inflight[path] = pi
	o.mu.Unlock()

	result, err := o.importOnce(ctx, path)
	pi.result, pi.err = result, err
	close(pi.done)
	return result, err
}

func (o *Orchestrator) importOnce(ctx context.Context, path string) (map[string]dataset.AID, error) {
	imp, err := o.registry.ForExtension(filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	scanRes, err := imp.Scan(ScanContext{Fs: o.fs, Path: path})
	o.sem.Release(1)
	if err != nil {
		return nil, err
	}

	// referenced_paths across every importable this file reports are
	// deduplicated before recursing, since the same referenced file can
	// legitimately be named by more than one importable in one scan.
	refs := mapset.NewSet[string]()
	for _, im := range scanRes.Importables {
		for _, ref := range im.ReferencedPaths {
			abs, err := o.resolver.Resolve(ref)
			if err != nil {
				return nil, err
			}
			refs.Add(abs)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, abs := range refs.ToSlice() {
		abs := abs
		g.Go(func() error {
			_, err := o.Import(gctx, abs)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Asset ids are minted up front, before Import runs, so an importer
	// producing several cross-referencing importables in one pass (an
	// asset plus its imported-data companion) can embed a forward
	// reference to a sibling importable's real id instead of guessing one.
	names := make([]string, len(scanRes.Importables))
	assignedIDs := make(map[string]dataset.AID, len(scanRes.Importables))
	for i, im := range scanRes.Importables {
		names[i] = im.Name
		assignedIDs[im.Name] = dataset.NewAID()
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	produced, err := imp.Import(ImportContext{Fs: o.fs, Path: path, Requested: names, AssignedIDs: assignedIDs})
	o.sem.Release(1)
	if err != nil {
		return nil, err
	}

	result := make(map[string]dataset.AID, len(scanRes.Importables))
	for _, im := range scanRes.Importables {
		out, ok := produced[im.Name]
		if !ok {
			return nil, ferrors.Wrap(ferrors.Import, ferrors.ErrImportableNotDeclared, im.Name, "importer did not produce a requested importable")
		}
		name := im.Name
		aid := assignedIDs[im.Name]
		if err := o.ds.RestoreSnapshot(dataset.NewAssetForLoad(aid, im.AssetSchema, &name, dataset.NilAID)); err != nil {
			return nil, err
		}
		if err := o.ds.MarkGenerated(aid); err != nil {
			return nil, err
		}
		for p, v := range out.DefaultAsset {
			if _, err := o.ds.SetProperty(aid, p, v); err != nil {
				return nil, err
			}
		}
		if len(out.ImportData) > 0 && o.importData != nil {
			if err := o.importData.Put(aid, out.ImportData); err != nil {
				return nil, err
			}
		}
		result[im.Name] = aid
	}

	return result, nil
}
