package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/kv"
	"github.com/foundryforge/foundry/internal/schema"
)

func newTestExecutor(t *testing.T) (*Executor, *dataset.DataSet, *schema.Registry) {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := schema.NewRegistry()
	ds := dataset.New(reg)
	exec := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	return exec, ds, reg
}

// countingProcessor records every Run invocation so tests can tell a cache
// reuse apart from an actual rerun.
type countingProcessor struct {
	version int32
	runs    int32
	deps    JobEnumeratedDependencies
	run     func(fetch Fetch, api Api) ([]byte, error)
}

func (p *countingProcessor) Version() uint32 { return uint32(atomic.LoadInt32(&p.version)) }

func (p *countingProcessor) EnumerateDependencies(_ []byte, _ *dataset.DataSet, _ *schema.Registry) (JobEnumeratedDependencies, error) {
	return p.deps, nil
}

func (p *countingProcessor) Run(_ context.Context, _ []byte, _ *dataset.DataSet, _ *schema.Registry, fetch Fetch, api Api) ([]byte, error) {
	atomic.AddInt32(&p.runs, 1)
	if p.run != nil {
		return p.run(fetch, api)
	}
	return []byte("out"), nil
}

type stubImportData struct {
	bags map[dataset.AID]map[dataset.Path]dataset.Value
}

func (s *stubImportData) Get(aid dataset.AID) (map[dataset.Path]dataset.Value, bool) {
	b, ok := s.bags[aid]
	return b, ok
}

func jobTypeId(name string) JobTypeId { return sum128JobId(JobTypeId{}, 0, []byte(name)) }

func TestExecutor_EnqueueJobDedupesIdenticalInput(t *testing.T) {
	exec, ds, reg := newTestExecutor(t)
	exec.Start(context.Background(), 1, ds, reg, nil)
	defer exec.Stop()
	jt := jobTypeId("thumbnail")
	proc := &countingProcessor{version: 1}
	exec.Register(jt, proc)

	id1, err := exec.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("a")})
	require.NoError(t, err)
	id2, err := exec.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	require.NoError(t, exec.RunUntilIdle(ds, reg, time.Second))
	assert.EqualValues(t, 1, atomic.LoadInt32(&proc.runs))
}

func TestExecutor_DependencyOrderedScheduling(t *testing.T) {
	exec, ds, reg := newTestExecutor(t)
	exec.Start(context.Background(), 1, ds, reg, nil)
	defer exec.Stop()

	upstreamType := jobTypeId("upstream")
	var order []string
	upstream := &countingProcessor{version: 1, run: func(fetch Fetch, api Api) ([]byte, error) {
		order = append(order, "upstream")
		return []byte("upstream-out"), nil
	}}
	exec.Register(upstreamType, upstream)

	upstreamId, err := exec.EnqueueJob(ds, reg, NewJob{JobType: upstreamType, Input: []byte("u")})
	require.NoError(t, err)

	downstreamType := jobTypeId("downstream")
	downstream := &countingProcessor{
		version: 1,
		deps:    JobEnumeratedDependencies{UpstreamJobs: []JobId{upstreamId}},
		run: func(fetch Fetch, api Api) ([]byte, error) {
			out, err := fetch.UpstreamOutput(upstreamId)
			if err != nil {
				return nil, err
			}
			order = append(order, "downstream:"+string(out))
			return []byte("downstream-out"), nil
		},
	}
	exec.Register(downstreamType, downstream)

	_, err = exec.EnqueueJob(ds, reg, NewJob{JobType: downstreamType, Input: []byte("d")})
	require.NoError(t, err)

	require.NoError(t, exec.RunUntilIdle(ds, reg, time.Second))
	require.Len(t, order, 2)
	assert.Equal(t, "upstream", order[0])
	assert.Equal(t, "downstream:upstream-out", order[1])
}

func TestExecutor_CacheReuseAcrossRun(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := schema.NewRegistry()
	ds := dataset.New(reg)
	aid := dataset.NewAID()
	importData := &stubImportData{bags: map[dataset.AID]map[dataset.Path]dataset.Value{
		aid: {"value": {Kind: dataset.VI32, I32: 7}},
	}}

	jt := jobTypeId("resize")
	proc1 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{ImportData: []dataset.AID{aid}}}

	exec1 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec1.Register(jt, proc1)
	exec1.Start(context.Background(), 2, ds, reg, importData)
	_, err = exec1.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec1.RunUntilIdle(ds, reg, time.Second))
	exec1.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&proc1.runs))

	// A fresh executor sharing the same history store should reuse the
	// recorded result instead of invoking Run again, since the processor
	// version and import data hash are unchanged.
	proc2 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{ImportData: []dataset.AID{aid}}}
	exec2 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec2.Register(jt, proc2)
	exec2.Start(context.Background(), 2, ds, reg, importData)
	_, err = exec2.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec2.RunUntilIdle(ds, reg, time.Second))
	exec2.Stop()
	assert.EqualValues(t, 0, atomic.LoadInt32(&proc2.runs))
}

func TestExecutor_CacheInvalidatedWhenImportDataChanges(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := schema.NewRegistry()
	ds := dataset.New(reg)
	aid := dataset.NewAID()
	importData := &stubImportData{bags: map[dataset.AID]map[dataset.Path]dataset.Value{
		aid: {"value": {Kind: dataset.VI32, I32: 7}},
	}}

	jt := jobTypeId("resize")
	proc1 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{ImportData: []dataset.AID{aid}}}
	exec1 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec1.Register(jt, proc1)
	exec1.Start(context.Background(), 2, ds, reg, importData)
	_, err = exec1.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec1.RunUntilIdle(ds, reg, time.Second))
	exec1.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&proc1.runs))

	importData.bags[aid] = map[dataset.Path]dataset.Value{"value": {Kind: dataset.VI32, I32: 8}}

	proc2 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{ImportData: []dataset.AID{aid}}}
	exec2 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec2.Register(jt, proc2)
	exec2.Start(context.Background(), 2, ds, reg, importData)
	_, err = exec2.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec2.RunUntilIdle(ds, reg, time.Second))
	exec2.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&proc2.runs))
}

func TestExecutor_DownstreamJobsReenqueuedOnCacheHit(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := schema.NewRegistry()
	ds := dataset.New(reg)

	childType := jobTypeId("child")
	parentType := jobTypeId("parent")
	childProc1 := &countingProcessor{version: 1}

	var childId JobId
	parentProc1 := &countingProcessor{version: 1, run: func(fetch Fetch, api Api) ([]byte, error) {
		id, err := api.EnqueueJob(ds, reg, NewJob{JobType: childType, Input: []byte("child-in")})
		childId = id
		return []byte("parent-out"), err
	}}

	exec1 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec1.Register(parentType, parentProc1)
	exec1.Register(childType, childProc1)
	exec1.Start(context.Background(), 2, ds, reg, nil)
	_, err = exec1.EnqueueJob(ds, reg, NewJob{JobType: parentType, Input: []byte("parent-in")})
	require.NoError(t, err)
	require.NoError(t, exec1.RunUntilIdle(ds, reg, time.Second))
	exec1.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&parentProc1.runs))
	assert.EqualValues(t, 1, atomic.LoadInt32(&childProc1.runs))
	status, err := exec1.Status(childId)
	require.NoError(t, err)
	assert.Equal(t, Complete, status)

	// Second run: the parent is unchanged, so it's served from cache and
	// its Run (and therefore its Api.EnqueueJob call) never executes. Its
	// recorded DownstreamJobs must still be re-queued and reach Complete.
	parentProc2 := &countingProcessor{version: 1}
	childProc2 := &countingProcessor{version: 1}
	exec2 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec2.Register(parentType, parentProc2)
	exec2.Register(childType, childProc2)
	exec2.Start(context.Background(), 2, ds, reg, nil)
	_, err = exec2.EnqueueJob(ds, reg, NewJob{JobType: parentType, Input: []byte("parent-in")})
	require.NoError(t, err)
	require.NoError(t, exec2.RunUntilIdle(ds, reg, time.Second))
	exec2.Stop()

	assert.EqualValues(t, 0, atomic.LoadInt32(&parentProc2.runs), "parent should be served from cache")
	status2, err := exec2.Status(childId)
	require.NoError(t, err)
	assert.Equal(t, Complete, status2, "a recorded downstream job must be re-queued and reach completion on a cache hit")
	assert.EqualValues(t, 0, atomic.LoadInt32(&childProc2.runs), "child should also be served from cache, since its own history matches")
}

func TestExecutor_UpstreamRerunForcesDownstreamRerun(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := schema.NewRegistry()
	ds := dataset.New(reg)
	aid := dataset.NewAID()
	importData := &stubImportData{bags: map[dataset.AID]map[dataset.Path]dataset.Value{
		aid: {"value": {Kind: dataset.VI32, I32: 1}},
	}}

	upstreamType := jobTypeId("upstream")
	downstreamType := jobTypeId("downstream")
	upstreamProc1 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{ImportData: []dataset.AID{aid}}}

	exec1 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec1.Register(upstreamType, upstreamProc1)
	exec1.Start(context.Background(), 2, ds, reg, importData)
	upstreamId, err := exec1.EnqueueJob(ds, reg, NewJob{JobType: upstreamType, Input: []byte("u")})
	require.NoError(t, err)

	downstreamProc1 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{UpstreamJobs: []JobId{upstreamId}}}
	exec1.Register(downstreamType, downstreamProc1)
	_, err = exec1.EnqueueJob(ds, reg, NewJob{JobType: downstreamType, Input: []byte("d")})
	require.NoError(t, err)

	require.NoError(t, exec1.RunUntilIdle(ds, reg, time.Second))
	exec1.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&upstreamProc1.runs))
	assert.EqualValues(t, 1, atomic.LoadInt32(&downstreamProc1.runs))

	// Second run: the upstream job's import data changed, forcing an
	// actual rerun even though its JobId (type + version + input) is
	// unchanged. The downstream job's own history still matches (same
	// version, same input, no import data of its own) — but it must
	// rerun anyway, since its upstream did not reuse its cache.
	importData.bags[aid] = map[dataset.Path]dataset.Value{"value": {Kind: dataset.VI32, I32: 2}}

	upstreamProc2 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{ImportData: []dataset.AID{aid}}}
	downstreamProc2 := &countingProcessor{version: 1, deps: JobEnumeratedDependencies{UpstreamJobs: []JobId{upstreamId}}}
	exec2 := New(store, NewMemArtifactSink(), zap.NewNop(), nil)
	exec2.Register(upstreamType, upstreamProc2)
	exec2.Register(downstreamType, downstreamProc2)
	exec2.Start(context.Background(), 2, ds, reg, importData)
	_, err = exec2.EnqueueJob(ds, reg, NewJob{JobType: upstreamType, Input: []byte("u")})
	require.NoError(t, err)
	_, err = exec2.EnqueueJob(ds, reg, NewJob{JobType: downstreamType, Input: []byte("d")})
	require.NoError(t, err)
	require.NoError(t, exec2.RunUntilIdle(ds, reg, time.Second))
	exec2.Stop()

	assert.EqualValues(t, 1, atomic.LoadInt32(&upstreamProc2.runs), "upstream import data change forces a rerun")
	assert.EqualValues(t, 1, atomic.LoadInt32(&downstreamProc2.runs), "downstream must rerun since its upstream did not reuse its cache")
}

func TestExecutor_UndeclaredDependencyFailsJob(t *testing.T) {
	exec, ds, reg := newTestExecutor(t)
	importData := &stubImportData{bags: map[dataset.AID]map[dataset.Path]dataset.Value{}}
	exec.Start(context.Background(), 1, ds, reg, importData)
	defer exec.Stop()

	undeclaredAID := dataset.NewAID()
	jt := jobTypeId("sneaky")
	proc := &countingProcessor{version: 1, run: func(fetch Fetch, api Api) ([]byte, error) {
		_, err := fetch.ImportData(undeclaredAID)
		return nil, err
	}}
	exec.Register(jt, proc)

	id, err := exec.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec.RunUntilIdle(ds, reg, time.Second))

	status, runErr := exec.Status(id)
	assert.Equal(t, Failed, status)
	var fe *ferrors.Error
	require.True(t, errors.As(runErr, &fe))
	assert.ErrorIs(t, fe, ferrors.ErrUndeclaredDependency)
}

func TestExecutor_ProcessorPanicIsRecoveredAsFailure(t *testing.T) {
	exec, ds, reg := newTestExecutor(t)
	exec.Start(context.Background(), 1, ds, reg, nil)
	defer exec.Stop()

	jt := jobTypeId("explodes")
	proc := &countingProcessor{version: 1, run: func(fetch Fetch, api Api) ([]byte, error) {
		panic("boom")
	}}
	exec.Register(jt, proc)

	id, err := exec.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec.RunUntilIdle(ds, reg, time.Second))

	status, runErr := exec.Status(id)
	assert.Equal(t, Failed, status)
	var fe *ferrors.Error
	require.True(t, errors.As(runErr, &fe))
	assert.ErrorIs(t, fe, ferrors.ErrProcessorPanic)
}

func TestExecutor_ProduceArtifactReachesSink(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := schema.NewRegistry()
	ds := dataset.New(reg)
	sink := NewMemArtifactSink()
	exec := New(store, sink, zap.NewNop(), nil)
	exec.Start(context.Background(), 1, ds, reg, nil)
	defer exec.Stop()

	aid := dataset.NewAID()
	jt := jobTypeId("bake")
	proc := &countingProcessor{version: 1, run: func(fetch Fetch, api Api) ([]byte, error) {
		err := api.ProduceArtifact(BuiltArtifact{
			AssetId:    aid,
			ArtifactId: DefaultArtifactId(aid),
			Payload:    []byte("baked"),
		})
		return []byte("ok"), err
	}}
	exec.Register(jt, proc)

	_, err = exec.EnqueueJob(ds, reg, NewJob{JobType: jt, Input: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, exec.RunUntilIdle(ds, reg, time.Second))

	require.Len(t, sink.Artifacts, 1)
	assert.Equal(t, aid, sink.Artifacts[0].AssetId)
	assert.Equal(t, []byte("baked"), sink.Artifacts[0].Payload)
}

func TestDefaultAndKeyedArtifactId(t *testing.T) {
	aid := dataset.NewAID()
	def := DefaultArtifactId(aid)
	assert.Equal(t, aid[:], def[:])

	keyed1 := KeyedArtifactId(aid, "mip0")
	keyed2 := KeyedArtifactId(aid, "mip1")
	assert.NotEqual(t, keyed1, keyed2)
	assert.NotEqual(t, def, keyed1)
}
