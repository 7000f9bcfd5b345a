package engine

import (
	"context"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/jobs"
	"github.com/foundryforge/foundry/internal/schema"
)

// Builder is the Go analog of the original's Builder trait
// (original_source/m3/src/pipeline/build.rs): one implementation per asset
// type, producing a built artifact's payload from an asset's resolved
// properties and its dependencies' import data.
type Builder interface {
	AssetType() schema.SF
	// Version bumps invalidate every cached build of this asset type,
	// the same way a Processor's Version does (spec.md §4.F/§4.G share
	// this mechanism deliberately: a builder IS a job processor here).
	Version() uint32
	// Dependencies lists the assets (usually the asset's own imported-data
	// companion, sometimes a referenced asset like a material's image)
	// this build needs available. Only entries with import data are
	// fetchable through Fetch; others are read straight from the Data Set.
	Dependencies(aid dataset.AID, ds *dataset.DataSet, reg *schema.Registry) []dataset.AID
	Build(ctx context.Context, aid dataset.AID, ds *dataset.DataSet, reg *schema.Registry, fetch jobs.Fetch) ([]byte, error)
}

type registeredBuilder struct {
	builder Builder
	jobType jobs.JobTypeId
}

// BuilderRegistry maps an asset schema to the Builder that builds it, the
// engine-level counterpart to m3's BuilderRegistry
// (asset_type_to_builder), adapted so "finding the handler" and "running
// it" both go through the Job Executor rather than a direct function call.
type BuilderRegistry struct {
	byType map[schema.SF]registeredBuilder
}

func NewBuilderRegistry() *BuilderRegistry {
	return &BuilderRegistry{byType: map[schema.SF]registeredBuilder{}}
}

// Register records b against its asset type and returns the JobTypeId the
// caller must register b's Processor adapter under on the Job Executor.
func (r *BuilderRegistry) Register(b Builder) jobs.JobTypeId {
	at := b.AssetType()
	jt := fhash.Sum128([]byte("builder:"), at[:])
	r.byType[at] = registeredBuilder{builder: b, jobType: jt}
	return jt
}

func (r *BuilderRegistry) Lookup(sf schema.SF) (Builder, jobs.JobTypeId, bool) {
	rb, ok := r.byType[sf]
	return rb.builder, rb.jobType, ok
}

// processor adapts the registered builder into a jobs.Processor so the Job Executor schedules,
// retries, and caches builds exactly like any other job — the Asset
// Engine never runs a builder directly.
func (r *registeredBuilder) processor() jobs.Processor { return &builderProcessor{b: r.builder} }

type builderProcessor struct{ b Builder }

func (p *builderProcessor) Version() uint32 { return p.b.Version() }

func (p *builderProcessor) EnumerateDependencies(input []byte, ds *dataset.DataSet, reg *schema.Registry) (jobs.JobEnumeratedDependencies, error) {
	aid, err := aidFromInput(input)
	if err != nil {
		return jobs.JobEnumeratedDependencies{}, err
	}
	// Every dependency the builder names is declared fetchable; whether
	// one actually carries an import-data bag is discovered at Fetch
	// time by the ImportDataProvider (ErrMissingImportData), not decided
	// here — declaring a plain asset reference as fetchable is harmless
	// since nothing requires it to be fetched.
	return jobs.JobEnumeratedDependencies{ImportData: p.b.Dependencies(aid, ds, reg)}, nil
}

func (p *builderProcessor) Run(ctx context.Context, input []byte, ds *dataset.DataSet, reg *schema.Registry, fetch jobs.Fetch, api jobs.Api) ([]byte, error) {
	aid, err := aidFromInput(input)
	if err != nil {
		return nil, err
	}
	payload, err := p.b.Build(ctx, aid, ds, reg, fetch)
	if err != nil {
		return nil, err
	}
	a, err := ds.Get(aid)
	if err != nil {
		return nil, err
	}
	art := jobs.BuiltArtifact{
		AssetId:      aid,
		ArtifactId:   jobs.DefaultArtifactId(aid),
		ArtifactType: a.Schema,
		Payload:      payload,
	}
	if err := api.ProduceArtifact(art); err != nil {
		return nil, err
	}
	return payload, nil
}

func aidFromInput(input []byte) (dataset.AID, error) {
	if len(input) < 16 {
		return dataset.NilAID, ferrors.Wrap(ferrors.Build, ferrors.ErrDependencyFailed, "", "build job input too short to carry an asset id")
	}
	var aid dataset.AID
	copy(aid[:], input[:16])
	return aid, nil
}
