package jobs

import (
	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/schema"
)

// sum128JobId folds a job type, its processor's version, and the input
// bytes into the content-addressed JobId (spec.md §4.F: "JobId =
// hash128(JobTypeId, processor_version, input_bytes)").
func sum128JobId(jobType JobTypeId, version uint32, input []byte) JobId {
	var vbuf [4]byte
	vbuf[0] = byte(version)
	vbuf[1] = byte(version >> 8)
	vbuf[2] = byte(version >> 16)
	vbuf[3] = byte(version >> 24)
	return fhash.Sum128(jobType[:], vbuf[:], input)
}

// boundFetch is the Fetch capability handed to one job's Run call, scoped
// to that job's own declared dependencies.
type boundFetch struct {
	exec       *Executor
	deps       JobEnumeratedDependencies
	importData ImportDataProvider
}

func (f *boundFetch) ImportData(aid dataset.AID) (map[dataset.Path]dataset.Value, error) {
	if !containsAID(f.deps.ImportData, aid) {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrUndeclaredDependency, aid.String(), "import data not in enumerated dependencies")
	}
	if f.importData == nil {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrMissingImportData, aid.String(), "no import data provider configured")
	}
	bag, ok := f.importData.Get(aid)
	if !ok {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrMissingImportData, aid.String(), "")
	}
	return bag, nil
}

func (f *boundFetch) UpstreamOutput(id JobId) ([]byte, error) {
	if !containsJobId(f.deps.UpstreamJobs, id) {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrUndeclaredDependency, id.String(), "upstream job not in enumerated dependencies")
	}
	out, ok := f.exec.Output(id)
	if !ok {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrDependencyFailed, id.String(), "upstream job has no output")
	}
	return out, nil
}

// boundApi is the Api capability handed to one job's Run call. parent is
// that job's own JobId, so an EnqueueJob call it makes is recorded as one
// of parent's DownstreamJobs (spec.md §4.F cache-reuse steps 1-2) rather
// than simply enqueued and forgotten.
type boundApi struct {
	exec   *Executor
	ds     *dataset.DataSet
	reg    *schema.Registry
	parent JobId
}

func (a *boundApi) EnqueueJob(ds *dataset.DataSet, reg *schema.Registry, job NewJob) (JobId, error) {
	return a.exec.enqueueJob(a.parent, ds, reg, job)
}

func (a *boundApi) ProduceArtifact(art BuiltArtifact) error {
	return a.exec.ProduceArtifact(art)
}

func containsAID(haystack []dataset.AID, needle dataset.AID) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsJobId(haystack []JobId, needle JobId) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
