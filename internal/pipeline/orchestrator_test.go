package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/artifact"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/store"
)

type fakeStage struct {
	name string
	fn   func(ctx context.Context, rc *RunContext, input any) (any, error)
}

func (s *fakeStage) Name() string { return s.name }
func (s *fakeStage) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	return s.fn(ctx, rc, input)
}

type fakeArtifact struct {
	Data []byte `json:"-"`
}

func (a fakeArtifact) ArtifactBytes() []byte { return a.Data }

func testConfig() common.PipelineConfig {
	return common.PipelineConfig{
		MaxStages:      6,
		ConcurrencyCap: 2,
		BackoffBase:    time.Millisecond,
		BackoffCap:     4 * time.Millisecond,
	}
}

func newHarness(t *testing.T, specs []StageSpec) (*Orchestrator, store.Store, *artifact.Store) {
	t.Helper()
	defn, err := NewDefinition(specs, 6)
	require.NoError(t, err)
	st := store.NewMemoryStore(nil)
	art, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return NewOrchestrator(st, art, defn, testConfig(), nil), st, art
}

func passthrough(name string) *fakeStage {
	return &fakeStage{name: name, fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		return input, nil
	}}
}

func finalStage(name string, data []byte) *fakeStage {
	return &fakeStage{name: name, fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		return fakeArtifact{Data: data}, nil
	}}
}

func TestRunSucceedsEndToEnd(t *testing.T) {
	orch, st, art := newHarness(t, []StageSpec{
		{Stage: passthrough("parse")},
		{Stage: finalStage("render", []byte("video"))},
	})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "primes"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, got.Status)
	assert.Equal(t, j.ID.String()+".mp4", got.ArtifactRef)
	assert.Len(t, got.StageOutputs, 2)

	video, err := art.Get(got.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), video)
}

func TestRetryableFailureRetriesWithinBudget(t *testing.T) {
	var calls atomic.Int32
	flaky := &fakeStage{name: "parse", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, job.NewStageError(constants.ErrKindTransientUpstream, "parse", "rate limited", true)
		}
		return input, nil
	}}
	orch, st, _ := newHarness(t, []StageSpec{
		{Stage: flaky, MaxRetries: 2},
		{Stage: finalStage("render", []byte("v"))},
	})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "flaky"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, got.Status)
	assert.EqualValues(t, 3, calls.Load())
	require.Len(t, got.StageOutputs, 2)
	assert.Equal(t, 3, got.StageOutputs[0].Attempts)
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	broken := &fakeStage{name: "parse", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		calls.Add(1)
		return nil, job.NewStageError(constants.ErrKindTransientUpstream, "parse", "still down", true)
	}}
	orch, st, _ := newHarness(t, []StageSpec{{Stage: broken, MaxRetries: 2}})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "down"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.EqualValues(t, 3, calls.Load(), "initial attempt plus two retries")
	require.NotNil(t, got.Error)
	assert.Equal(t, constants.ErrKindTransientUpstream, got.Error.Kind)
}

func TestInvalidInputFailsFast(t *testing.T) {
	var calls atomic.Int32
	gate := &fakeStage{name: "parse", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		calls.Add(1)
		return nil, job.NewStageError(constants.ErrKindInvalidInput, "parse", "document has 12 pages, limit is 10", false)
	}}
	orch, st, _ := newHarness(t, []StageSpec{{Stage: gate, MaxRetries: 2}})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "too big"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.EqualValues(t, 1, calls.Load(), "invalid input is never retried")
	assert.Empty(t, got.StageOutputs)
	require.NotNil(t, got.Error)
	assert.Equal(t, constants.ErrKindInvalidInput, got.Error.Kind)
	assert.Equal(t, "document has 12 pages, limit is 10", got.Error.Message)
}

func TestRenderFailureKeepsPriorOutputs(t *testing.T) {
	boom := &fakeStage{name: "render", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		return nil, job.NewStageError(constants.ErrKindRenderFailure, "render", "LaTeX Error", false)
	}}
	orch, st, _ := newHarness(t, []StageSpec{
		{Stage: passthrough("parse")},
		{Stage: boom},
	})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "tex"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Len(t, got.StageOutputs, 1, "completed stage outputs survive the failure")
	assert.Equal(t, 1, got.StageIndex)
	require.NotNil(t, got.Error)
	assert.Equal(t, constants.ErrKindRenderFailure, got.Error.Kind)
}

func TestCancelDuringStage(t *testing.T) {
	started := make(chan struct{})
	blocking := &fakeStage{name: "parse", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	orch, st, _ := newHarness(t, []StageSpec{{Stage: blocking}})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "slow"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)

	<-started
	assert.True(t, orch.Cancel(j.ID))
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCancelled, got.Status)
	assert.Nil(t, got.Error)
}

func TestCancelUnknownJob(t *testing.T) {
	orch, _, _ := newHarness(t, []StageSpec{{Stage: passthrough("parse")}})
	assert.False(t, orch.Cancel(job.New(job.Input{}).ID))
}

func TestStageTimeoutWithoutRetriesIsInternal(t *testing.T) {
	slow := &fakeStage{name: "render", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	orch, st, _ := newHarness(t, []StageSpec{{Stage: slow, Timeout: 10 * time.Millisecond}})
	ctx := context.Background()

	j, err := st.Create(ctx, job.Input{Topic: "timeout"})
	require.NoError(t, err)
	orch.Dispatch(j.ID)
	orch.Wait()

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, constants.ErrKindInternal, got.Error.Kind)
}

func TestConcurrencyCapBoundsParallelism(t *testing.T) {
	var running, peak atomic.Int32
	stage := &fakeStage{name: "parse", fn: func(ctx context.Context, rc *RunContext, input any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return fakeArtifact{Data: []byte("v")}, nil
	}}

	defn, err := NewDefinition([]StageSpec{{Stage: stage}}, 6)
	require.NoError(t, err)
	st := store.NewMemoryStore(nil)
	art, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.ConcurrencyCap = 2
	orch := NewOrchestrator(st, art, defn, cfg, nil)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		j, err := st.Create(ctx, job.Input{Topic: "n"})
		require.NoError(t, err)
		orch.Dispatch(j.ID)
	}
	orch.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 2 * time.Second
	cap := 32 * time.Second

	assert.Equal(t, 2*time.Second, backoff(base, cap, 1))
	assert.Equal(t, 4*time.Second, backoff(base, cap, 2))
	assert.Equal(t, 16*time.Second, backoff(base, cap, 4))
	assert.Equal(t, 32*time.Second, backoff(base, cap, 5))
	assert.Equal(t, 32*time.Second, backoff(base, cap, 50))
}
