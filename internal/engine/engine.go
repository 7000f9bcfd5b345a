package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/importer"
	"github.com/foundryforge/foundry/internal/jobs"
	"github.com/foundryforge/foundry/internal/schema"
)

// Importer is the subset of *importer.Orchestrator the engine drives — an
// interface so tests can substitute a stub rather than standing up a real
// filesystem tree.
type Importer interface {
	Import(ctx context.Context, path string) (map[string]dataset.AID, error)
}

var _ Importer = (*importer.Orchestrator)(nil)

// Engine is the Asset Engine (spec.md §4.G): it owns the state machine
// sequencing import requests and build cycles against one Data Set, and
// reports what happened as a slice of LogEntry per Tick.
type Engine struct {
	ds       *dataset.DataSet
	reg      *schema.Registry
	imp      Importer
	exec     *jobs.Executor
	builders *BuilderRegistry
	importData jobs.ImportDataProvider
	fs       afero.Fs
	root     string
	log      *zap.Logger

	state          State
	pendingImports []string
	// lastBuildInput remembers each built asset's last-seen build job
	// input bytes, so a later Tick can tell whether it's gone stale
	// without re-running anything — the engine-level counterpart to
	// m3's BuildJobs cache (original_source/m3/src/pipeline/build.rs).
	lastBuildInput map[dataset.AID][]byte
}

func New(ds *dataset.DataSet, reg *schema.Registry, imp Importer, exec *jobs.Executor, builders *BuilderRegistry, importData jobs.ImportDataProvider, fs afero.Fs, root string, log *zap.Logger) *Engine {
	return &Engine{
		ds:             ds,
		reg:            reg,
		imp:            imp,
		exec:           exec,
		builders:       builders,
		importData:     importData,
		fs:             fs,
		root:           root,
		log:            log,
		state:          Idle,
		lastBuildInput: map[dataset.AID][]byte{},
	}
}

// RegisterBuilders installs every builder in reg onto the engine's Job
// Executor, so Tick can enqueue their root jobs by JobTypeId. Call this
// once after both the BuilderRegistry and Executor are constructed.
func (e *Engine) RegisterBuilders() {
	for sf, rb := range e.builders.byType {
		_ = sf
		e.exec.Register(rb.jobType, rb.processor())
	}
}

// RequestImport queues path to be imported on the next Tick (spec.md
// §4.G step 1).
func (e *Engine) RequestImport(path string) {
	e.pendingImports = append(e.pendingImports, path)
}

func (e *Engine) State() State { return e.state }

// Tick runs one cycle of the main loop spec.md §4.G describes: flush
// pending imports first, otherwise look for stale built assets and run a
// build cycle.
func (e *Engine) Tick(ctx context.Context) ([]LogEntry, error) {
	if len(e.pendingImports) > 0 {
		return e.runImportCycle(ctx)
	}
	return e.runBuildCycle(ctx)
}

func (e *Engine) runImportCycle(ctx context.Context) ([]LogEntry, error) {
	e.state = Importing
	paths := e.pendingImports
	e.pendingImports = nil

	var logs []LogEntry
	for _, path := range paths {
		produced, err := e.imp.Import(ctx, path)
		if err != nil {
			logs = append(logs, sourceLog("error", path, err.Error()))
			continue
		}
		logs = append(logs, sourceLog("info", path, fmt.Sprintf("imported %d asset(s)", len(produced))))
	}
	e.state = Idle
	return logs, nil
}

// runBuildCycle implements spec.md §4.G steps 3-5: compute the stale set,
// enqueue each stale asset's builder as a root job, run the Job Executor
// to idle, and write the manifest.
func (e *Engine) runBuildCycle(ctx context.Context) ([]LogEntry, error) {
	var logs []LogEntry

	stale, inputs, err := e.computeStaleAssets()
	if err != nil {
		return logs, err
	}
	if len(stale) == 0 {
		return logs, nil
	}

	e.state = Building
	jobIds := make(map[dataset.AID]jobs.JobId, len(stale))
	for _, aid := range stale {
		_, jt, ok := e.builders.Lookup(mustSchema(e.ds, aid))
		if !ok {
			continue
		}
		jobId, err := e.exec.EnqueueJob(e.ds, e.reg, jobs.NewJob{JobType: jt, Input: inputs[aid]})
		if err != nil {
			logs = append(logs, assetLog("error", aid, err.Error()))
			continue
		}
		jobIds[aid] = jobId
		logs = append(logs, assetLog("info", aid, "enqueued build job"))
	}

	if err := e.exec.RunUntilIdle(e.ds, e.reg, 30*time.Second); err != nil {
		logs = append(logs, errorLog(fmt.Sprintf("build cycle did not reach idle: %v", err)))
		return logs, err
	}

	var records []ManifestRecord
	for aid, jobId := range jobIds {
		status, runErr := e.exec.Status(jobId)
		if status != jobs.Complete {
			logs = append(logs, assetLog("error", aid, fmt.Sprintf("build did not complete: %v", runErr)))
			continue
		}
		out, _ := e.exec.Output(jobId)
		records = append(records, ManifestRecord{
			AssetId:      aid,
			ArtifactId:   jobs.DefaultArtifactId(aid),
			ArtifactHash: fhash.Sum128(out),
		})
		e.lastBuildInput[aid] = inputs[aid]
	}

	if len(records) > 0 {
		path, combined, err := WriteManifest(e.fs, e.root, records)
		if err != nil {
			logs = append(logs, errorLog(fmt.Sprintf("writing manifest: %v", err)))
			return logs, err
		}
		logs = append(logs, infoLog(fmt.Sprintf("wrote manifest %s (%s)", path, combined.String())))
	}

	e.state = Idle
	return logs, nil
}

func mustSchema(ds *dataset.DataSet, aid dataset.AID) schema.SF {
	a, err := ds.Get(aid)
	if err != nil {
		return schema.SF{}
	}
	return a.Schema
}

// computeStaleAssets walks every asset with a registered builder and
// computes its current build job input; an asset is stale when that input
// differs from the one recorded at the end of the last build that
// included it (spec.md §4.G step 3's four staleness conditions all fold
// into this one byte comparison — see buildInput).
func (e *Engine) computeStaleAssets() ([]dataset.AID, map[dataset.AID][]byte, error) {
	var stale []dataset.AID
	inputs := map[dataset.AID][]byte{}
	for _, aid := range e.ds.AllAssetIDs() {
		a, err := e.ds.Get(aid)
		if err != nil {
			continue
		}
		b, _, ok := e.builders.Lookup(a.Schema)
		if !ok {
			continue
		}
		input, err := e.buildInput(aid, b)
		if err != nil {
			return nil, nil, err
		}
		inputs[aid] = input
		if prev, ok := e.lastBuildInput[aid]; ok && bytes.Equal(prev, input) {
			continue
		}
		stale = append(stale, aid)
	}
	return stale, inputs, nil
}

// buildInput folds an asset's resolved-properties hash, its builder's
// version, and every dependency's (properties hash, import-data hash)
// pair into the bytes that become the build job's content-addressed
// Input — the same "hash what matters, let content addressing do the
// invalidation" approach original_source/m3/src/pipeline/build.rs's
// build_hash takes (properties_hash ^ imported_data_hash), extended to
// also cover dependency and builder-version drift.
func (e *Engine) buildInput(aid dataset.AID, b Builder) ([]byte, error) {
	propsHash, err := e.ds.HashProperties(aid)
	if err != nil {
		return nil, err
	}

	uc := fhash.UnorderedCombinator{}
	for _, dep := range b.Dependencies(aid, e.ds, e.reg) {
		depPropsHash, err := e.ds.HashProperties(dep)
		if err != nil {
			continue
		}
		var depImportHash uint64
		if e.importData != nil {
			if bag, ok := e.importData.Get(dep); ok {
				depImportHash = hashImportDataBag(bag)
			}
		}
		uc.Add(dep[:], u64Bytes(depPropsHash), u64Bytes(depImportHash))
	}

	buf := make([]byte, 0, 16+8+8+4)
	buf = append(buf, aid[:]...)
	buf = append(buf, u64Bytes(propsHash)...)
	buf = append(buf, u64Bytes(uc.Sum64())...)
	buf = append(buf, u32Bytes(b.Version())...)
	return buf, nil
}

func u64Bytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func u32Bytes(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}
