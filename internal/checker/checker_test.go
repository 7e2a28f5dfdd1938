package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speccheck/speccheck/internal/gitrepo"
	"github.com/speccheck/speccheck/internal/judge"
	"github.com/speccheck/speccheck/internal/models"
	"github.com/speccheck/speccheck/internal/store"
	"github.com/speccheck/speccheck/internal/workspace"
)

// fakeFetcher materializes a fixed tree instead of cloning. A non-nil gate
// makes Clone block until the test sends a token, which lets tests hold
// checks in the running state.
type fakeFetcher struct {
	mu         sync.Mutex
	tree       map[string]string
	cloneErr   error
	pushErr    error
	gate       chan struct{}
	cloneCalls int
	pushCalls  int
}

func (f *fakeFetcher) Clone(_ context.Context, _, _, _ string, dest string) error {
	f.mu.Lock()
	f.cloneCalls++
	gate, err, tree := f.gate, f.cloneErr, f.tree
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	for rel, content := range tree {
		p := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeFetcher) CommitAndPush(context.Context, string, string, string, gitrepo.CommitInfo, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls++
	return f.pushErr
}

// scriptedBackend returns canned responses in order, repeating the last one.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (b *scriptedBackend) Generate(context.Context, string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	if len(b.responses) == 0 {
		return `{"implemented": true, "confidence": 95, "issues": [], "explanation": "ok"}`, nil
	}
	resp := b.responses[0]
	if len(b.responses) > 1 {
		b.responses = b.responses[1:]
	}
	return resp, nil
}

func (b *scriptedBackend) Health(context.Context) judge.Health {
	return judge.Health{Status: "connected", PrimaryLoaded: true}
}

func defaultTree() map[string]string {
	return map[string]string{
		"spec/api-spec.md": "# API\n\nAPI-1: The data endpoint SHALL require authentication.\n",
		"api/server.go":    "package api\n\n// HandleData serves the data endpoint.\nfunc HandleData() {}\n",
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, fetcher *fakeFetcher, backend judge.Backend) *Orchestrator {
	t.Helper()
	ws, err := workspace.NewManager(workspace.Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)
	jc := judge.NewClient(backend, judge.Config{RetryBase: time.Millisecond}, nil)
	o := New(cfg, ws, fetcher, jc, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) models.Check {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := o.Wait(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	return c
}

func TestSubmit_Validation(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, &fakeFetcher{}, &scriptedBackend{})
	_, err := o.Submit(models.CheckRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmit_NonBlocking(t *testing.T) {
	fetcher := &fakeFetcher{tree: defaultTree(), gate: make(chan struct{})}
	o := newTestOrchestrator(t, Config{}, fetcher, &scriptedBackend{})

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Contains(t, c.ID, "chk_")
	assert.Equal(t, "main", c.Request.Branch, "branch defaults to main")
	assert.Equal(t, "example.com/a", c.Repository)

	close(fetcher.gate)
	waitTerminal(t, o, c.ID)
}

func TestCheck_MissingAuthRequirement(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"implemented": false, "confidence": 90, "issues": [{"severity": "high", "type": "missing-implementation", "description": "no auth check on data endpoint", "file": "api/server.go"}], "explanation": "handler has no auth"}`,
	}}
	fetcher := &fakeFetcher{tree: defaultTree()}
	o := newTestOrchestrator(t, Config{}, fetcher, backend)

	c, err := o.Submit(models.CheckRequest{
		RepositoryURL: "https://example.com/a.git",
		Branch:        "main",
		SpecFiles:     []string{"spec/api-spec.md"},
	})
	require.NoError(t, err)

	got := waitTerminal(t, o, c.ID)
	require.Equal(t, models.CheckStateCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	require.NotEmpty(t, got.Issues)

	var found bool
	for _, iss := range got.Issues {
		if iss.Type == models.IssueTypeMissingImplementation && iss.SpecFile == "spec/api-spec.md" {
			found = true
			assert.Contains(t, []models.Severity{models.SeverityCritical, models.SeverityHigh}, iss.Severity)
		}
	}
	assert.True(t, found, "expected a missing-implementation issue tagged with its spec file")

	rep, err := o.GetReport(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Contains(t, rep, "# Compliance Check Report")
	assert.Contains(t, rep, "API-1")
}

func TestCheck_MalformedBackendResponseStillCompletes(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"I cannot answer in JSON, sorry."}}
	fetcher := &fakeFetcher{tree: defaultTree()}
	o := newTestOrchestrator(t, Config{}, fetcher, backend)

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	got := waitTerminal(t, o, c.ID)
	assert.Equal(t, models.CheckStateCompleted, got.State, "judgment failure must not fail the check")
	assert.Contains(t, got.Warnings, "unparsable backend response for 1 requirements")
}

func TestCheck_BackendUnavailableWarning(t *testing.T) {
	backend := &scriptedBackend{err: fmt.Errorf("boom")}
	fetcher := &fakeFetcher{tree: defaultTree()}
	o := newTestOrchestrator(t, Config{}, fetcher, backend)

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	got := waitTerminal(t, o, c.ID)
	assert.Equal(t, models.CheckStateCompleted, got.State)
}

func TestCheck_CloneAuthFailure(t *testing.T) {
	fetcher := &fakeFetcher{cloneErr: fmt.Errorf("%w: 403", gitrepo.ErrCloneAuthFailed)}
	o := newTestOrchestrator(t, Config{}, fetcher, &scriptedBackend{})

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	got := waitTerminal(t, o, c.ID)
	assert.Equal(t, models.CheckStateFailed, got.State)
	assert.Equal(t, FailureCloneAuth, got.ErrorCode)
	assert.NotEmpty(t, got.Error)

	_, err = o.GetReport(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCheck_PushFailureCompletesWithWarning(t *testing.T) {
	fetcher := &fakeFetcher{tree: defaultTree(), pushErr: fmt.Errorf("%w: rejected", gitrepo.ErrPushConflict)}
	o := newTestOrchestrator(t, Config{ResultsRepoURL: "https://example.com/results.git"}, fetcher, &scriptedBackend{})

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	got := waitTerminal(t, o, c.ID)
	assert.Equal(t, models.CheckStateCompleted, got.State, "push failure never fails a check")
	require.NotEmpty(t, got.Warnings)
	assert.Contains(t, got.Warnings[0], "results push failed")

	// The report stays retrievable even though the remote write failed.
	rep, err := o.GetReport(context.Background(), c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rep)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, 1, fetcher.pushCalls)
}

func TestConcurrencyLimitAndAdmissionOrder(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{tree: defaultTree(), gate: gate}
	o := newTestOrchestrator(t, Config{MaxConcurrentChecks: 2}, fetcher, &scriptedBackend{})

	var ids []string
	for i := 0; i < 4; i++ {
		c, err := o.Submit(models.CheckRequest{RepositoryURL: fmt.Sprintf("https://example.com/r%d.git", i)})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	// Sample the running count continuously while checks drain.
	stop := make(chan struct{})
	maxRunning := make(chan int, 1)
	go func() {
		peak := 0
		for {
			select {
			case <-stop:
				maxRunning <- peak
				return
			default:
			}
			running := 0
			for _, id := range ids {
				c, err := o.GetStatus(context.Background(), id)
				if err == nil && c.State == models.CheckStateRunning {
					running++
				}
			}
			if running > peak {
				peak = running
			}
			time.Sleep(time.Millisecond)
		}
	}()

	// First-accepted-first-run: while the first two hold the slots, the
	// later submissions stay pending.
	require.Eventually(t, func() bool {
		a, _ := o.GetStatus(context.Background(), ids[0])
		b, _ := o.GetStatus(context.Background(), ids[1])
		return a.State == models.CheckStateRunning && b.State == models.CheckStateRunning
	}, 5*time.Second, time.Millisecond)

	c2, err := o.GetStatus(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatePending, c2.State)

	close(gate)
	for _, id := range ids {
		waitTerminal(t, o, id)
	}
	close(stop)
	assert.LessOrEqual(t, <-maxRunning, 2, "running set must respect the concurrency limit")
}

func TestCancelPendingCheck(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{tree: defaultTree(), gate: gate}
	o := newTestOrchestrator(t, Config{MaxConcurrentChecks: 1}, fetcher, &scriptedBackend{})

	first, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)
	second, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/b.git"})
	require.NoError(t, err)

	require.NoError(t, o.Cancel(second.ID))
	got, err := o.GetStatus(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateFailed, got.State)
	assert.Equal(t, FailureCancelled, got.ErrorCode)

	close(gate)
	waitTerminal(t, o, first.ID)
}

func TestCancelRunningCheck(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{tree: defaultTree(), gate: gate}
	wsRoot := t.TempDir()
	ws, err := workspace.NewManager(workspace.Config{Root: wsRoot}, nil)
	require.NoError(t, err)
	jc := judge.NewClient(&scriptedBackend{}, judge.Config{RetryBase: time.Millisecond}, nil)
	o := New(Config{}, ws, fetcher, jc, nil, nil)

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.GetStatus(context.Background(), c.ID)
		return err == nil && got.State == models.CheckStateRunning
	}, 5*time.Second, time.Millisecond)

	// Cancel mid-clone; the flag is honored at the next phase boundary.
	require.NoError(t, o.Cancel(c.ID))
	close(gate)

	got := waitTerminal(t, o, c.ID)
	assert.Equal(t, models.CheckStateFailed, got.State)
	assert.Equal(t, FailureCancelled, got.ErrorCode)
	assert.Equal(t, "cancelled", got.Message)

	// No report for a cancelled check.
	_, err = o.GetReport(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	// Workspace destroyed on the cancellation exit path. The destroy runs
	// just after the terminal transition, so poll briefly.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(wsRoot)
		return err == nil && len(entries) == 0
	}, 5*time.Second, time.Millisecond)
}

func TestCancelUnknownCheck(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, &fakeFetcher{}, &scriptedBackend{})
	assert.ErrorIs(t, o.Cancel("chk_nope"), ErrNotFound)
}

func TestDelete_ConflictWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{tree: defaultTree(), gate: gate}
	o := newTestOrchestrator(t, Config{}, fetcher, &scriptedBackend{})

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	err = o.Delete(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrConflict)

	close(gate)
	waitTerminal(t, o, c.ID)

	require.NoError(t, o.Delete(context.Background(), c.ID))
	_, err = o.GetStatus(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStatus_NotFound(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, &fakeFetcher{}, &scriptedBackend{})
	_, err := o.GetStatus(context.Background(), "chk_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_FiltersAndOrder(t *testing.T) {
	fetcher := &fakeFetcher{tree: defaultTree()}
	o := newTestOrchestrator(t, Config{MaxConcurrentChecks: 1}, fetcher, &scriptedBackend{})

	a, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/alpha.git"})
	require.NoError(t, err)
	waitTerminal(t, o, a.ID)
	b, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/beta.git"})
	require.NoError(t, err)
	waitTerminal(t, o, b.ID)

	all, err := o.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	byRepo, err := o.List(context.Background(), store.ListFilter{Repository: "alpha"})
	require.NoError(t, err)
	require.Len(t, byRepo, 1)
	assert.Equal(t, a.ID, byRepo[0].ID)
}

func TestShutdownFlushesArchive(t *testing.T) {
	archive, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	require.NoError(t, archive.Migrate(context.Background()))
	defer archive.Close()

	ws, err := workspace.NewManager(workspace.Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)
	jc := judge.NewClient(&scriptedBackend{}, judge.Config{RetryBase: time.Millisecond}, nil)
	o := New(Config{}, ws, &fakeFetcher{tree: defaultTree()}, jc, archive, nil)

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)
	done := waitTerminal(t, o, c.ID)
	require.Equal(t, models.CheckStateCompleted, done.State)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	// Shutdown must not return before the terminal snapshot and report land.
	saved, rep, err := archive.GetCheck(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateCompleted, saved.State)
	assert.Contains(t, rep, "# Compliance Check Report")
}

func TestNoSpecFilesFound(t *testing.T) {
	fetcher := &fakeFetcher{tree: map[string]string{
		"main.go": "package main\n\nfunc main() {}\n",
	}}
	o := newTestOrchestrator(t, Config{}, fetcher, &scriptedBackend{})

	c, err := o.Submit(models.CheckRequest{RepositoryURL: "https://example.com/a.git"})
	require.NoError(t, err)

	got := waitTerminal(t, o, c.ID)
	assert.Equal(t, models.CheckStateCompleted, got.State)
	assert.Contains(t, got.Warnings, "no requirements found in specification files")
	assert.Empty(t, got.Issues)
}

func TestRepositoryName(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widget.git": "acme/widget",
		"https://github.com/acme/widget":     "acme/widget",
		"git@github.com:acme/widget.git":     "acme/widget",
		"https://example.com/solo.git":       "example.com/solo",
	}
	for url, want := range cases {
		assert.Equal(t, want, repositoryName(url), url)
	}
}
