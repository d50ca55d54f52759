package artifact

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathvizai/mathviz/internal/common"
)

func TestPutGetRoundtrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	id := uuid.New()
	ref, err := s.Put(id, []byte("mp4 bytes"))
	require.NoError(t, err)
	assert.Equal(t, id.String()+".mp4", ref)

	got, err := s.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4 bytes"), got)
}

func TestPutIsWriteOnce(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	id := uuid.New()
	_, err = s.Put(id, []byte("first"))
	require.NoError(t, err)

	_, err = s.Put(id, []byte("second"))
	assert.ErrorIs(t, err, common.ErrConflict)

	got, err := s.Get(id.String() + ".mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got, "original artifact must be untouched")
}

func TestGetMissing(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Get("nope.mp4")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	id := uuid.New()
	ref, err := s.Put(id, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ref))
	assert.ErrorIs(t, s.Delete(ref), common.ErrNotFound)
}

func TestPathRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	require.NoError(t, err)

	p := s.Path("../../etc/passwd")
	assert.Equal(t, filepath.Join(dir, "passwd"), p)
}
