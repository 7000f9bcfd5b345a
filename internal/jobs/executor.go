package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/kv"
	"github.com/foundryforge/foundry/internal/schema"
)

// completedJob is what a worker reports back over completedCh.
type completedJob struct {
	jobId  JobId
	output []byte
	err    error
}

// Executor runs content-addressed jobs on a fixed worker pool, matching
// the scheduling model in spec.md §4.F: a bounded goroutine pool pulls
// Ready jobs from a shared channel, while the owning goroutine drives
// Tick non-blockingly, mirroring the teacher's own tick-the-state-machine
// style (grounded on original_source/hydrate-model/src/pipeline/job_system/executor.rs,
// adapted from crossbeam channels + a single-threaded update() to Go
// channels + a worker pool, per SPEC_FULL.md §5's explicit concurrency
// model).
type Executor struct {
	store      *kv.Store
	processors map[JobTypeId]Processor
	artifacts  ArtifactSink
	importData ImportDataProvider
	log        *zap.Logger
	metrics    *metrics

	mu   sync.Mutex
	jobs map[JobId]*jobState

	createCh    chan QueuedJob
	readyCh     chan JobId
	completedCh chan completedJob

	wg sync.WaitGroup
}

// New builds an Executor. store persists JobHistory across process
// restarts (spec.md §8 Testable Scenario 5); artifacts receives every
// BuiltArtifact a processor produces; promReg may be nil to skip metrics
// registration (e.g. in tests that construct more than one Executor).
func New(store *kv.Store, artifacts ArtifactSink, log *zap.Logger, promReg prometheus.Registerer) *Executor {
	return &Executor{
		store:       store,
		processors:  map[JobTypeId]Processor{},
		artifacts:   artifacts,
		log:         log,
		metrics:     newMetrics(promReg),
		jobs:        map[JobId]*jobState{},
		createCh:    make(chan QueuedJob, 256),
		readyCh:     make(chan JobId, 256),
		completedCh: make(chan completedJob, 256),
	}
}

// Register associates a Processor with the JobTypeId its own type uuid
// derives to (callers pick the id; unlike the Rust original there is no
// TypeUuid derive to lean on).
func (e *Executor) Register(jobType JobTypeId, p Processor) {
	e.processors[jobType] = p
}

// Start launches workerCount goroutines pulling Ready jobs from readyCh.
// Call Stop to drain and join them.
func (e *Executor) Start(ctx context.Context, workerCount int, ds *dataset.DataSet, reg *schema.Registry, importData ImportDataProvider) {
	if workerCount <= 0 {
		workerCount = 1
	}
	e.importData = importData
	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, ds, reg, importData)
	}
}

// Stop drains the ready queue (already-running workers finish their
// current job; their outputs are still cached — spec.md §4.F
// Cancellation: "work is never wasted") and waits for every worker to
// exit.
func (e *Executor) Stop() {
	close(e.readyCh)
	e.wg.Wait()
}

func (e *Executor) worker(ctx context.Context, ds *dataset.DataSet, reg *schema.Registry, importData ImportDataProvider) {
	defer e.wg.Done()
	for jobId := range e.readyCh {
		e.runJob(ctx, jobId, ds, reg, importData)
	}
}

func (e *Executor) runJob(ctx context.Context, jobId JobId, ds *dataset.DataSet, reg *schema.Registry, importData ImportDataProvider) {
	e.mu.Lock()
	st, ok := e.jobs[jobId]
	e.mu.Unlock()
	if !ok {
		return
	}

	proc, ok := e.processors[st.jobType]
	if !ok {
		e.completedCh <- completedJob{jobId: jobId, err: errors.New("jobs: no processor registered for job type")}
		return
	}

	fetch := &boundFetch{exec: e, deps: st.deps, importData: importData}
	api := &boundApi{exec: e, ds: ds, reg: reg, parent: jobId}

	output, err := e.runWithRetry(ctx, proc, st.input, ds, reg, fetch, api)
	e.completedCh <- completedJob{jobId: jobId, output: output, err: err}
}

// runWithRetry retries a transient IO failure (a re-fetchable input) a
// bounded number of times with exponential backoff (spec.md §7:
// "recoverable if the input can be re-fetched"); an UndeclaredDependency
// or a processor panic is never retried.
func (e *Executor) runWithRetry(ctx context.Context, proc Processor, input []byte, ds *dataset.DataSet, reg *schema.Registry, fetch Fetch, api Api) (out []byte, err error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)

	op := func() error {
		out, err = e.runOnce(ctx, proc, input, ds, reg, fetch, api)
		if err != nil && isRetryableIOError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	_ = backoff.Retry(op, bo)
	return out, err
}

func isRetryableIOError(err error) bool {
	var fe *ferrors.Error
	return errors.As(err, &fe) && fe.Kind == ferrors.IO
}

// runOnce invokes a processor's Run, converting a panic into a
// ProcessorPanic failure rather than crashing the worker pool (spec.md
// §4.F Failure semantics).
func (e *Executor) runOnce(ctx context.Context, proc Processor, input []byte, ds *dataset.DataSet, reg *schema.Registry, fetch Fetch, api Api) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job processor panicked", zap.Any("recover", r))
			err = ferrors.Wrap(ferrors.Build, ferrors.ErrProcessorPanic, "", "")
		}
	}()
	return proc.Run(ctx, input, ds, reg, fetch, api)
}

// EnqueueJob implements Api: computes the content-addressed JobId,
// enumerates dependencies, and queues the job for the next Tick to
// absorb. Re-enqueuing identical (type, input) returns the existing id
// without recomputation (spec.md §4.F "Identical inputs -> identical id
// -> reuse"). It carries no parent, so unlike enqueueJob it never records
// a DownstreamJobs entry — this is the entry point a Processor's Run
// never calls (that goes through boundApi, which does carry a parent);
// it's the one the engine uses to enqueue a build cycle's own root jobs.
func (e *Executor) EnqueueJob(ds *dataset.DataSet, reg *schema.Registry, job NewJob) (JobId, error) {
	return e.enqueueJob(JobId{}, ds, reg, job)
}

// enqueueJob is EnqueueJob's implementation, extended with an optional
// parent job id. When parent is non-zero (a Processor's Run calling
// Api.EnqueueJob on itself), the enqueued job is also appended to
// parent's jobState.downstream, so that if parent is later served from
// cache (tryReuse) without running again, the jobs it would have
// enqueued get queued anyway (spec.md §4.F cache-reuse steps 1-2).
func (e *Executor) enqueueJob(parent JobId, ds *dataset.DataSet, reg *schema.Registry, job NewJob) (JobId, error) {
	proc, ok := e.processors[job.JobType]
	if !ok {
		return JobId{}, ferrors.Wrap(ferrors.Build, ferrors.ErrDependencyFailed, "", "no processor registered for job type")
	}

	jobId := jobIdFor(job.JobType, proc.Version(), job.Input)

	e.mu.Lock()
	st, exists := e.jobs[jobId]
	var deps JobEnumeratedDependencies
	if exists {
		deps = st.deps
	}
	e.mu.Unlock()

	if !exists {
		var err error
		deps, err = proc.EnumerateDependencies(job.Input, ds, reg)
		if err != nil {
			return JobId{}, err
		}
		e.createCh <- QueuedJob{JobId: jobId, JobType: job.JobType, Input: job.Input, Deps: deps}
	}

	if !parent.IsZero() {
		e.recordDownstream(parent, QueuedJob{JobId: jobId, JobType: job.JobType, Input: job.Input, Deps: deps})
	}
	return jobId, nil
}

// recordDownstream appends child to parent's jobState.downstream, if
// parent is still known. A parent that has already left e.jobs (it
// can't — a Run call holds its own job in Running the whole time this
// would be called from) is simply a no-op guard, not an expected path.
func (e *Executor) recordDownstream(parent JobId, child QueuedJob) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pst, ok := e.jobs[parent]; ok {
		pst.downstream = append(pst.downstream, child)
	}
}

func jobIdFor(jobType JobTypeId, version uint32, input []byte) JobId {
	return sum128JobId(jobType, version, input)
}

// ProduceArtifact implements Api by forwarding to the configured
// ArtifactSink.
func (e *Executor) ProduceArtifact(a BuiltArtifact) error {
	return e.artifacts.Write(a)
}

// Tick absorbs newly-created jobs, advances every job's scheduling state,
// and drains completions — the non-blocking per-cycle pump spec.md §5
// describes ("the main thread never blocks on worker work; it polls via
// non-blocking channel receives each tick").
func (e *Executor) Tick(ds *dataset.DataSet, reg *schema.Registry) error {
	e.handleCreateQueue()
	if err := e.advanceReady(ds, reg); err != nil {
		return err
	}
	e.handleCompletedQueue()
	return nil
}

func (e *Executor) handleCreateQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		select {
		case q := <-e.createCh:
			if _, ok := e.jobs[q.JobId]; !ok {
				e.jobs[q.JobId] = &jobState{jobType: q.JobType, input: q.Input, deps: q.Deps, status: Queued}
			}
		default:
			return
		}
	}
}

func (e *Executor) advanceReady(ds *dataset.DataSet, reg *schema.Registry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	queued, running := 0, 0
	for jobId, st := range e.jobs {
		switch st.status {
		case Complete, Failed, Skipped:
			continue
		case Running:
			running++
			continue
		}

		waiting := false
		for _, up := range st.deps.UpstreamJobs {
			upState, ok := e.jobs[up]
			if !ok {
				return ferrors.Wrap(ferrors.Build, ferrors.ErrDependencyFailed, up.String(), "upstream job has not been created")
			}
			if upState.status == Failed || upState.status == Skipped {
				st.status = Skipped
				waiting = true
				break
			}
			if upState.status != Complete {
				waiting = true
				break
			}
		}
		if waiting {
			if st.status != Skipped {
				st.status = WaitingOnDeps
				queued++
			}
			continue
		}

		if reused, err := e.tryReuse(jobId, st, ds); err != nil {
			return err
		} else if reused {
			continue
		}

		st.status = Running
		running++
		e.readyCh <- jobId
	}
	e.metrics.queued.Set(float64(queued))
	e.metrics.running.Set(float64(running))
	return nil
}

// tryReuse applies spec.md §4.F's cache-reuse algorithm: a job with
// recorded history whose processor version and every import-data hash
// still match, AND every upstream job this cycle reused its own cache
// (rather than actually running and possibly producing different
// output), is marked Complete without running, and its recorded
// downstream jobs are re-queued so they perform the same check.
func (e *Executor) tryReuse(jobId JobId, st *jobState, ds *dataset.DataSet) (bool, error) {
	rec, found, err := loadHistory(e.store, jobId)
	if err != nil || !found {
		return false, err
	}
	proc, ok := e.processors[st.jobType]
	if !ok || proc.Version() != rec.Version {
		return false, nil
	}
	if e.importData != nil {
		for _, aid := range st.deps.ImportData {
			bag, ok := e.importData.Get(aid)
			if !ok {
				return false, nil
			}
			if hashImportData(bag) != rec.ImportDataHashes[importDataHashKey(aid)] {
				return false, nil
			}
		}
	}
	for _, up := range st.deps.UpstreamJobs {
		// advanceReady only calls tryReuse once every upstream is
		// Complete, so upState is guaranteed present here; it's only
		// .reused that distinguishes "reached Complete via cache" from
		// "reached Complete by actually running this cycle."
		if upState, ok := e.jobs[up]; !ok || !upState.reused {
			return false, nil
		}
	}

	st.status = Complete
	st.reused = true
	for _, downstream := range rec.DownstreamJobs {
		e.createCh <- downstream
	}
	e.metrics.complete.Inc()
	e.metrics.reused.Inc()
	return true, nil
}

func (e *Executor) handleCompletedQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		select {
		case c := <-e.completedCh:
			st, ok := e.jobs[c.jobId]
			if !ok {
				continue
			}
			if c.err != nil {
				st.status = Failed
				st.runErr = c.err
				e.metrics.failed.Inc()
				e.log.Error("job failed", zap.String("job_id", c.jobId.String()), zap.Error(c.err))
				continue
			}
			st.status = Complete
			st.output = c.output
			e.metrics.complete.Inc()

			if err := saveHistory(e.store, c.jobId, JobHistoryRecord{
				Version:          e.processors[st.jobType].Version(),
				Dependencies:     st.deps,
				ImportDataHashes: e.snapshotImportDataHashes(st.deps.ImportData),
				DownstreamJobs:   st.downstream,
			}); err != nil {
				e.log.Error("failed to persist job history", zap.String("job_id", c.jobId.String()), zap.Error(err))
			}
		default:
			return
		}
	}
}

// snapshotImportDataHashes records the current hash of every declared
// import-data dependency at the moment a job completes, so a later Tick
// can tell whether any of them have since changed (spec.md §4.F
// cache-reuse step 2).
func (e *Executor) snapshotImportDataHashes(deps []dataset.AID) map[string]uint64 {
	out := make(map[string]uint64, len(deps))
	if e.importData == nil {
		return out
	}
	for _, aid := range deps {
		if bag, ok := e.importData.Get(aid); ok {
			out[importDataHashKey(aid)] = hashImportData(bag)
		}
	}
	return out
}

// IsIdle reports whether every queue is drained and every known job has
// reached a terminal status.
func (e *Executor) IsIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.createCh) > 0 || len(e.readyCh) > 0 || len(e.completedCh) > 0 {
		return false
	}
	for _, st := range e.jobs {
		switch st.status {
		case Complete, Failed, Skipped:
		default:
			return false
		}
	}
	return true
}

// Status returns a job's current state and, if Failed, the recorded
// error.
func (e *Executor) Status(id JobId) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.jobs[id]
	if !ok {
		return "", ferrors.Wrap(ferrors.Build, ferrors.ErrDependencyFailed, id.String(), "job not found")
	}
	return st.status, st.runErr
}

// Output returns a Complete job's output bytes.
func (e *Executor) Output(id JobId) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.jobs[id]
	if !ok || st.status != Complete {
		return nil, false
	}
	return st.output, true
}

// RunUntilIdle is a test/demo convenience: Tick repeatedly until IsIdle or
// timeout elapses.
func (e *Executor) RunUntilIdle(ds *dataset.DataSet, reg *schema.Registry, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := e.Tick(ds, reg); err != nil {
			return err
		}
		if e.IsIdle() {
			return nil
		}
		if time.Now().After(deadline) {
			return ferrors.Wrap(ferrors.Build, ferrors.ErrDependencyFailed, "", "executor did not reach idle before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}
