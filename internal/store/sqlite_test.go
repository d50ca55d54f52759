package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	created, err := s.Create(ctx, job.Input{
		Document:   &job.Document{Text: "lemma and proof", Pages: 2},
		Difficulty: constants.DifficultyHighSchool,
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, constants.JobStatusQueued, got.Status)
	require.NotNil(t, got.Input.Document)
	assert.Equal(t, 2, got.Input.Document.Pages)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStoreUpdatePersistsOutputsAndError(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	created, err := s.Create(ctx, job.Input{Topic: "modular arithmetic"})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, func(j *job.Job) {
		_ = j.MarkRunning(0, "parse")
		j.AppendOutput(job.StageOutput{Stage: "parse", Attempts: 1, Payload: []byte(`{"main_topic":"mod"}`)})
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, func(j *job.Job) {
		_ = j.MarkFailed(job.NewStageError(constants.ErrKindRenderFailure, "render", "tex blew up", false))
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.Len(t, got.StageOutputs, 1)
	assert.JSONEq(t, `{"main_topic":"mod"}`, string(got.StageOutputs[0].Payload))
	require.NotNil(t, got.Error)
	assert.Equal(t, constants.ErrKindRenderFailure, got.Error.Kind)
}

func TestSQLiteStoreTerminalIsSticky(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	created, err := s.Create(ctx, job.Input{Topic: "group theory"})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, func(j *job.Job) { _ = j.MarkCancelled() })
	require.NoError(t, err)

	after, err := s.Update(ctx, created.ID, func(j *job.Job) {
		_ = j.MarkRunning(5, "render")
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCancelled, after.Status)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, got.StageIndex)
}

func TestSQLiteStoreFailInterrupted(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	queued, err := s.Create(ctx, job.Input{Topic: "queued"})
	require.NoError(t, err)
	running, err := s.Create(ctx, job.Input{Topic: "running"})
	require.NoError(t, err)
	_, err = s.Update(ctx, running.ID, func(j *job.Job) { _ = j.MarkRunning(2, "plan_pedagogy") })
	require.NoError(t, err)
	done, err := s.Create(ctx, job.Input{Topic: "done"})
	require.NoError(t, err)
	_, err = s.Update(ctx, done.ID, func(j *job.Job) { _ = j.MarkSucceeded("done.mp4") })
	require.NoError(t, err)

	n, err := s.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range []uuid.UUID{queued.ID, running.ID} {
		j, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusFailed, j.Status)
		require.NotNil(t, j.Error)
		assert.Equal(t, constants.ErrKindInternal, j.Error.Kind)
	}
	j, err := s.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, j.Status)
}

func TestSQLiteStoreDelete(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	created, err := s.Create(ctx, job.Input{Topic: "bye"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, created.ID))
	assert.ErrorIs(t, s.Delete(ctx, created.ID), common.ErrNotFound)
}

func TestSQLiteStoreListFilter(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	a, err := s.Create(ctx, job.Input{Topic: "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, job.Input{Topic: "b"})
	require.NoError(t, err)
	_, err = s.Update(ctx, a.ID, func(j *job.Job) { _ = j.MarkCancelled() })
	require.NoError(t, err)

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := s.List(ctx, Filter{Status: constants.JobStatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)
}
