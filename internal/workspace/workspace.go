// Package workspace manages ephemeral filesystem scopes for cloned
// repositories. Every workspace lives under a single sandbox root and is
// exclusively owned by one check.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrQuotaExceeded means allocating would exceed the workspace count or
	// aggregate disk limit.
	ErrQuotaExceeded = errors.New("workspace quota exceeded")

	// ErrUnsafeDeletion means a destroy targeted a path outside the sandbox
	// root. This is fatal and never retried; no filesystem mutation happens.
	ErrUnsafeDeletion = errors.New("refusing to delete path outside sandbox root")
)

// Workspace is an ephemeral directory scope owned by a single check.
type Workspace struct {
	ID        string
	Path      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Config holds workspace manager limits.
type Config struct {
	Root          string        // sandbox root; all workspaces are descendants
	MaxWorkspaces int           // 0 = unlimited
	MaxDiskBytes  int64         // aggregate usage limit under Root; 0 = unlimited
	TTL           time.Duration // idle expiry after creation
}

// Manager allocates, tracks, and destroys workspaces.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*Workspace
	rnd  *rand.Rand
}

// NewManager creates a manager rooted at cfg.Root, creating the root
// directory if needed.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root not configured")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	cfg.Root = root
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "workspace"),
		live:   map[string]*Workspace{},
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Root returns the sandbox root directory.
func (m *Manager) Root() string { return m.cfg.Root }

// Allocate creates a new workspace directory with a collision-resistant
// random name. Expired workspaces are swept first so leaked directories do
// not count against the quota.
func (m *Manager) Allocate() (*Workspace, error) {
	m.sweep(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxWorkspaces > 0 && len(m.live) >= m.cfg.MaxWorkspaces {
		return nil, fmt.Errorf("%w: %d live workspaces", ErrQuotaExceeded, len(m.live))
	}
	if m.cfg.MaxDiskBytes > 0 {
		used, err := diskUsage(m.cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("measure sandbox usage: %w", err)
		}
		if used >= m.cfg.MaxDiskBytes {
			return nil, fmt.Errorf("%w: %d bytes used of %d", ErrQuotaExceeded, used, m.cfg.MaxDiskBytes)
		}
	}

	now := time.Now()
	id := strings.ToLower(ulid.MustNew(ulid.Timestamp(now), m.rnd).String())
	path := filepath.Join(m.cfg.Root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{
		ID:        id,
		Path:      path,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	m.live[id] = ws
	m.logger.Debug("workspace allocated", "id", id, "path", path)
	return ws, nil
}

// Destroy removes a workspace directory. Idempotent: destroying an unknown
// or already-removed workspace succeeds. Returns ErrUnsafeDeletion without
// touching disk if the path escapes the sandbox root.
func (m *Manager) Destroy(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	if err := m.checkContained(ws.Path); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.live, ws.ID)
	m.mu.Unlock()

	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("remove workspace %s: %w", ws.ID, err)
	}
	m.logger.Debug("workspace destroyed", "id", ws.ID)
	return nil
}

// SweepExpired destroys workspaces past their expiry deadline, regardless of
// their owning check's state. Returns the number destroyed.
func (m *Manager) SweepExpired() int {
	return m.sweep(time.Now())
}

func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*Workspace
	for _, ws := range m.live {
		if now.After(ws.ExpiresAt) {
			expired = append(expired, ws)
		}
	}
	m.mu.Unlock()

	swept := 0
	for _, ws := range expired {
		if err := m.Destroy(ws); err != nil {
			m.logger.Warn("sweep failed", "id", ws.ID, "error", err)
			continue
		}
		m.logger.Info("swept expired workspace", "id", ws.ID)
		swept++
	}
	return swept
}

// checkContained verifies that path resolves to a strict descendant of the
// sandbox root.
func (m *Manager) checkContained(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsafeDeletion, path)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(m.cfg.Root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrUnsafeDeletion, path)
	}
	return nil
}

func diskUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk when another check is destroyed.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
