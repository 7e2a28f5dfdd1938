package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = filepath.Join(t.TempDir(), "sandbox")
	}
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	return m
}

func TestAllocate_CreatesDirectoryUnderRoot(t *testing.T) {
	m := newTestManager(t, Config{})

	ws, err := m.Allocate()
	require.NoError(t, err)

	info, err := os.Stat(ws.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, m.Root(), filepath.Dir(ws.Path))
	assert.NotEmpty(t, ws.ID)
}

func TestAllocate_UniqueNames(t *testing.T) {
	m := newTestManager(t, Config{})

	a, err := m.Allocate()
	require.NoError(t, err)
	b, err := m.Allocate()
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
}

func TestAllocate_CountQuota(t *testing.T) {
	m := newTestManager(t, Config{MaxWorkspaces: 2})

	_, err := m.Allocate()
	require.NoError(t, err)
	_, err = m.Allocate()
	require.NoError(t, err)

	_, err = m.Allocate()
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestAllocate_DiskQuota(t *testing.T) {
	m := newTestManager(t, Config{MaxDiskBytes: 10})

	ws, err := m.Allocate()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "big"), make([]byte, 64), 0o644))

	_, err = m.Allocate()
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestDestroy_Idempotent(t *testing.T) {
	m := newTestManager(t, Config{})

	ws, err := m.Allocate()
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ws))
	require.NoError(t, m.Destroy(ws))
	require.NoError(t, m.Destroy(nil))

	_, err = os.Stat(ws.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestDestroy_RefusesPathsOutsideRoot(t *testing.T) {
	m := newTestManager(t, Config{})

	victim := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.MkdirAll(victim, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "keep.txt"), []byte("x"), 0o644))

	adversarial := []string{
		victim,
		"/",
		"/etc",
		m.Root(),                                    // the root itself, not a descendant
		filepath.Join(m.Root(), ".."),               // parent traversal
		filepath.Join(m.Root(), "..", "..", "etc"),  // deep traversal
		filepath.Join(m.Root(), "x", "..", ".."),    // traversal through a child
	}
	for _, p := range adversarial {
		err := m.Destroy(&Workspace{ID: "evil", Path: p})
		assert.ErrorIs(t, err, ErrUnsafeDeletion, "path %q", p)
	}

	// Filesystem untouched.
	_, err := os.Stat(filepath.Join(victim, "keep.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(m.Root())
	assert.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	m := newTestManager(t, Config{TTL: time.Millisecond})

	ws, err := m.Allocate()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	swept := m.SweepExpired()
	assert.Equal(t, 1, swept)

	_, err = os.Stat(ws.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepExpired_KeepsFreshWorkspaces(t *testing.T) {
	m := newTestManager(t, Config{TTL: time.Hour})

	ws, err := m.Allocate()
	require.NoError(t, err)

	assert.Equal(t, 0, m.SweepExpired())
	_, err = os.Stat(ws.Path)
	assert.NoError(t, err)
}
