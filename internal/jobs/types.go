// Package jobs implements the Job Executor (spec.md §4.F): content-addressed
// jobs run on a fixed worker pool, with cache reuse keyed by job history and
// dependency-ordered scheduling.
package jobs

import (
	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
)

// JobId and JobTypeId share the same 128-bit content-hash primitive the
// Schema Registry uses for fingerprints (fhash.Digest128), reused rather
// than reinvented (SPEC_FULL.md §4.F).
type JobId = fhash.Digest128
type JobTypeId = fhash.Digest128

// JobEnumeratedDependencies is a job's declared input set: the import data
// it reads and the upstream jobs whose output it reads. The executor
// refuses fetches outside this set (spec.md §4.F "Fetch discipline").
type JobEnumeratedDependencies struct {
	ImportData   []dataset.AID
	UpstreamJobs []JobId
}

// Status is a job's position in the state machine spec.md §4.F draws:
// Queued -> WaitingOnDeps -> Ready -> Running -> Complete, with a Failed
// branch off Running and a Skipped branch for jobs downstream of a
// failure.
type Status string

const (
	Queued        Status = "queued"
	WaitingOnDeps Status = "waiting_on_deps"
	Ready         Status = "ready"
	Running       Status = "running"
	Complete      Status = "complete"
	Failed        Status = "failed"
	Skipped       Status = "skipped"
)

// NewJob is what a processor (or the host) submits to EnqueueJob: the
// caller does not choose the JobId, it's derived from the type+input.
type NewJob struct {
	JobType JobTypeId
	Input   []byte
}

// QueuedJob is a NewJob plus its already-enumerated dependencies and
// resolved JobId, queued for the executor's next Tick to absorb.
type QueuedJob struct {
	JobId   JobId
	JobType JobTypeId
	Input   []byte
	Deps    JobEnumeratedDependencies
}

// jobState is the executor's live bookkeeping for one job across the
// current build cycle; never persisted directly (JobHistoryRecord is the
// persisted projection of the fields that matter for cache reuse).
type jobState struct {
	jobType JobTypeId
	input   []byte
	deps    JobEnumeratedDependencies
	status  Status
	output  []byte
	runErr  error
	// downstream accumulates every job this job's own Run enqueued via
	// Api.EnqueueJob, so a successful completion can persist them as the
	// job's JobHistoryRecord.DownstreamJobs (spec.md §4.F cache-reuse step
	// 1) and a later cache hit can re-queue them without re-running this
	// job (step 2).
	downstream []QueuedJob
	// reused is true only when this job reached Complete via tryReuse
	// (a cache hit) rather than an actual Run — the bit spec.md §4.F
	// cache-reuse step 2's "AND every upstream job reused its cache"
	// condition checks on each of a job's UpstreamJobs before allowing
	// that job itself to reuse. A Complete upstream that actually ran
	// this cycle produced output that may differ from what's on record,
	// so a downstream job must not be served from cache on its account.
	reused bool
}
