package jobs

import (
	"context"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/schema"
)

// Processor is a typed handler registered against a JobTypeId (spec.md
// §4.F). Version bumps invalidate every cached result for that type.
type Processor interface {
	Version() uint32
	EnumerateDependencies(input []byte, ds *dataset.DataSet, reg *schema.Registry) (JobEnumeratedDependencies, error)
	Run(ctx context.Context, input []byte, ds *dataset.DataSet, reg *schema.Registry, fetch Fetch, api Api) ([]byte, error)
}

// Fetch is the capability a Processor uses during Run to read the import
// data and upstream job outputs it declared in EnumerateDependencies.
// Requesting anything outside that declared set is an UndeclaredDependency
// failure, fatal for the job (spec.md §4.F "Fetch discipline").
type Fetch interface {
	ImportData(aid dataset.AID) (map[dataset.Path]dataset.Value, error)
	UpstreamOutput(id JobId) ([]byte, error)
}

// Api is the capability a Processor uses to enqueue child jobs and
// publish artifacts — the Go analog of the Rust original's JobApi trait
// object passed into run().
type Api interface {
	EnqueueJob(ds *dataset.DataSet, reg *schema.Registry, job NewJob) (JobId, error)
	ProduceArtifact(a BuiltArtifact) error
}

// ImportDataProvider resolves an asset's import-data bag by id, backing
// Fetch.ImportData. internal/datasource's parallel uuid-keyed tree
// implements this once it exists; internal/importer.MemImportDataStore
// also satisfies it directly for tests that import and build in one pass.
type ImportDataProvider interface {
	Get(aid dataset.AID) (map[dataset.Path]dataset.Value, bool)
}
