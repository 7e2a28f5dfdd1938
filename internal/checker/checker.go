// Package checker is the top-level state machine and concurrency governor.
// It owns the check registry, admits pending checks into a bounded running
// set in acceptance order, and drives each check through the pipeline:
// clone, parse and index, judge, classify, render, push.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/speccheck/speccheck/internal/classify"
	"github.com/speccheck/speccheck/internal/codeindex"
	"github.com/speccheck/speccheck/internal/gitrepo"
	"github.com/speccheck/speccheck/internal/judge"
	"github.com/speccheck/speccheck/internal/models"
	"github.com/speccheck/speccheck/internal/report"
	"github.com/speccheck/speccheck/internal/specparse"
	"github.com/speccheck/speccheck/internal/store"
	"github.com/speccheck/speccheck/internal/workspace"
)

var (
	// ErrNotFound means no live or archived check exists for the id.
	ErrNotFound = errors.New("check not found")

	// ErrNotReady means the check has not completed, so no report exists yet.
	ErrNotReady = errors.New("check not completed")

	// ErrConflict means the operation requires a terminal check.
	ErrConflict = errors.New("check is not in a terminal state")

	// ErrInvalidRequest means the request failed validation at submission.
	ErrInvalidRequest = errors.New("invalid check request")
)

// Failure classifications recorded on failed checks.
const (
	FailureCancelled    = "cancelled"
	FailureWorkspace    = "workspace-unavailable"
	FailureCloneAuth    = "clone-auth-failed"
	FailureCloneMissing = "clone-not-found"
	FailureCloneTimeout = "clone-timeout"
	FailureClone        = "clone-failed"
	FailureInternal     = "internal"
)

// Config holds orchestrator tunables.
type Config struct {
	MaxConcurrentChecks int           // running-state ceiling; default 2
	JudgeParallelism    int           // per-check judgment fan-out; default 2
	MaxRelevantFiles    int           // index files offered per requirement; default 8
	ResultsRepoURL      string        // empty disables the push phase
	GitToken            string        // credential for clone and push
	SweepInterval       time.Duration // workspace expiry sweep cadence
}

// Orchestrator sequences checks through the pipeline and exposes their state.
type Orchestrator struct {
	cfg     Config
	ws      *workspace.Manager
	fetcher gitrepo.Fetcher
	judge   *judge.Client
	archive store.Store // nil disables archival
	logger  *slog.Logger

	mu      sync.Mutex
	checks  map[string]*entry
	queue   []string // pending check ids in acceptance order
	running int

	stop chan struct{}
	wg   sync.WaitGroup
}

// entry pairs a check with its pipeline-private state. The check struct is
// mutated only under the orchestrator mutex; the rendered report and the
// cancellation flag live alongside it.
type entry struct {
	check     *models.Check
	report    string
	cancelled bool
}

// New creates an orchestrator over the given collaborators. The store may be
// nil, in which case terminal checks survive only as long as the process.
func New(cfg Config, ws *workspace.Manager, fetcher gitrepo.Fetcher, judgeClient *judge.Client, archive store.Store, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = 2
	}
	if cfg.JudgeParallelism <= 0 {
		cfg.JudgeParallelism = 2
	}
	if cfg.MaxRelevantFiles <= 0 {
		cfg.MaxRelevantFiles = 8
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		ws:      ws,
		fetcher: fetcher,
		judge:   judgeClient,
		archive: archive,
		logger:  logger.With("component", "checker"),
		checks:  map[string]*entry{},
		stop:    make(chan struct{}),
	}
}

// Start launches the background workspace sweeper.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				if n := o.ws.SweepExpired(); n > 0 {
					o.logger.Info("swept expired workspaces", "count", n)
				}
			}
		}
	}()
}

// Shutdown stops the sweeper and waits for in-flight checks to finish, or
// until ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	close(o.stop)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit accepts a check request, returning immediately with the accepted
// check's snapshot. The check starts in pending and runs when a slot frees.
func (o *Orchestrator) Submit(req models.CheckRequest) (models.Check, error) {
	if req.RepositoryURL == "" {
		return models.Check{}, fmt.Errorf("%w: repository_url is required", ErrInvalidRequest)
	}
	if req.Branch == "" {
		req.Branch = "main"
	}

	c := &models.Check{
		ID:         "chk_" + strings.ToLower(ulid.Make().String()),
		Request:    req,
		Repository: repositoryName(req.RepositoryURL),
		State:      models.CheckStatePending,
		Message:    "queued",
		AcceptedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.checks[c.ID] = &entry{check: c}
	o.queue = append(o.queue, c.ID)
	snapshot := snapshotLocked(c)
	o.dispatchLocked()
	o.mu.Unlock()

	o.logger.Info("check accepted", "check_id", c.ID, "repository", c.Repository, "branch", req.Branch)
	return snapshot, nil
}

// GetStatus returns a read-only snapshot of a check. Unknown ids that were
// archived before a restart are served from the store.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (models.Check, error) {
	o.mu.Lock()
	e, ok := o.checks[id]
	if ok {
		snap := snapshotLocked(e.check)
		o.mu.Unlock()
		return snap, nil
	}
	o.mu.Unlock()

	if c, _, err := o.fromArchive(ctx, id); err == nil {
		return *c, nil
	}
	return models.Check{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// GetReport returns the rendered report for a completed check.
func (o *Orchestrator) GetReport(ctx context.Context, id string) (string, error) {
	o.mu.Lock()
	e, ok := o.checks[id]
	if ok {
		state, rep := e.check.State, e.report
		o.mu.Unlock()
		if state != models.CheckStateCompleted {
			return "", fmt.Errorf("%w: %s is %s", ErrNotReady, id, state)
		}
		return rep, nil
	}
	o.mu.Unlock()

	c, rep, err := o.fromArchive(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.State != models.CheckStateCompleted {
		return "", fmt.Errorf("%w: %s is %s", ErrNotReady, id, c.State)
	}
	return rep, nil
}

// Cancel requests cancellation. A pending check terminates immediately; a
// running check finishes its current phase, then skips the rest and fails
// with reason "cancelled". Cancelling a terminal check is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.checks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch e.check.State {
	case models.CheckStatePending:
		o.dequeueLocked(id)
		o.terminateLocked(e, models.CheckStateFailed, FailureCancelled, "cancelled before start")
	case models.CheckStateRunning:
		e.cancelled = true
		e.check.Message = "cancellation requested"
	}
	return nil
}

// Delete removes a terminal check from the registry and the archive.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	e, ok := o.checks[id]
	if ok && !e.check.State.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrConflict, id, e.check.State)
	}
	delete(o.checks, id)
	o.mu.Unlock()

	if !ok {
		// Only an archived copy may exist.
		if _, _, err := o.fromArchive(ctx, id); err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	if o.archive != nil {
		if err := o.archive.DeleteCheck(ctx, id); err != nil {
			return fmt.Errorf("delete archived check: %w", err)
		}
	}
	return nil
}

// List returns check snapshots newest first, merging the live registry with
// the archive. Limit and offset apply to the merged view.
func (o *Orchestrator) List(ctx context.Context, filter store.ListFilter) ([]models.Check, error) {
	o.mu.Lock()
	seen := make(map[string]bool, len(o.checks))
	var out []models.Check
	for id, e := range o.checks {
		seen[id] = true
		if filter.State != "" && e.check.State != filter.State {
			continue
		}
		if filter.Repository != "" && !strings.Contains(e.check.Repository, filter.Repository) {
			continue
		}
		out = append(out, snapshotLocked(e.check))
	}
	o.mu.Unlock()

	if o.archive != nil {
		archived, err := o.archive.ListChecks(ctx, store.ListFilter{State: filter.State, Repository: filter.Repository})
		if err != nil {
			return nil, fmt.Errorf("list archived checks: %w", err)
		}
		for _, c := range archived {
			if !seen[c.ID] {
				out = append(out, *c)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.After(out[j].AcceptedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Health reports the reasoning backend's availability plus queue depth.
func (o *Orchestrator) Health(ctx context.Context) (judge.Health, int, int) {
	o.mu.Lock()
	pending := len(o.queue)
	running := o.running
	o.mu.Unlock()
	return o.judge.Health(ctx), pending, running
}

// Wait polls until the check reaches a terminal state or ctx expires.
// Intended for one-shot CLI use, not the HTTP path.
func (o *Orchestrator) Wait(ctx context.Context, id string, poll time.Duration) (models.Check, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		c, err := o.GetStatus(ctx, id)
		if err != nil {
			return models.Check{}, err
		}
		if c.State.Terminal() {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return c, ctx.Err()
		case <-ticker.C:
		}
	}
}

// dispatchLocked admits queued checks while running slots are free.
// Caller holds o.mu.
func (o *Orchestrator) dispatchLocked() {
	for o.running < o.cfg.MaxConcurrentChecks && len(o.queue) > 0 {
		id := o.queue[0]
		o.queue = o.queue[1:]
		e, ok := o.checks[id]
		if !ok || e.check.State != models.CheckStatePending {
			continue // cancelled or deleted while queued
		}
		now := time.Now().UTC()
		e.check.State = models.CheckStateRunning
		e.check.StartedAt = &now
		o.running++

		o.wg.Add(1)
		go func(e *entry) {
			defer o.wg.Done()
			o.run(e)
			o.mu.Lock()
			o.running--
			o.dispatchLocked()
			o.mu.Unlock()
		}(e)
	}
}

func (o *Orchestrator) dequeueLocked(id string) {
	for i, qid := range o.queue {
		if qid == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// run drives one check through the pipeline phases. Every exit path destroys
// the check's workspace.
func (o *Orchestrator) run(e *entry) {
	ctx := context.Background()
	id := e.check.ID
	req := e.check.Request
	logger := o.logger.With("check_id", id)

	o.setProgress(e, 5, "allocating workspace")
	ws, err := o.ws.Allocate()
	if err != nil {
		o.fail(e, FailureWorkspace, fmt.Errorf("allocate workspace: %w", err))
		return
	}
	defer func() {
		if derr := o.ws.Destroy(ws); derr != nil {
			logger.Error("destroy workspace", "error", derr)
		}
	}()

	o.mu.Lock()
	e.check.WorkspacePath = ws.Path
	o.mu.Unlock()

	if o.cancelledAt(e, "cloning repository", 10) {
		return
	}
	repoPath := filepath.Join(ws.Path, "repo")
	if err := o.fetcher.Clone(ctx, req.RepositoryURL, req.Branch, o.cfg.GitToken, repoPath); err != nil {
		o.fail(e, classifyCloneFailure(err), err)
		return
	}

	if o.cancelledAt(e, "parsing specifications", 30) {
		return
	}
	requirements, idx, err := o.parseAndIndex(repoPath, req)
	if err != nil {
		o.fail(e, FailureInternal, err)
		return
	}
	if len(requirements) == 0 {
		o.addWarning(e, "no requirements found in specification files")
	}

	if o.cancelledAt(e, "judging requirements", 50) {
		return
	}
	verdicts := o.judgeAll(ctx, e, requirements, idx)
	if o.cancelledAt(e, "classifying results", 85) {
		return
	}

	classifier := classify.New(req.Options.MinSeverity, req.Options.IncludeSuggestions)
	var issues []models.Issue
	for i, v := range verdicts {
		issues = append(issues, classifier.Classify(requirements[i], v)...)
	}
	o.recordDegraded(e, verdicts)

	o.setProgress(e, 90, "rendering report")
	rendered := report.Render(report.Meta{
		CheckID:       id,
		RepositoryURL: req.RepositoryURL,
		Branch:        req.Branch,
		GeneratedAt:   time.Now().UTC(),
	}, issues)

	o.mu.Lock()
	e.check.Issues = issues
	e.report = rendered
	o.mu.Unlock()

	if o.cfg.ResultsRepoURL != "" {
		o.setProgress(e, 95, "pushing report")
		info := gitrepo.CommitInfo{
			CheckID:       id,
			RepositoryURL: req.RepositoryURL,
			Branch:        req.Branch,
			IssueCount:    len(issues),
			Timestamp:     time.Now().UTC(),
		}
		if err := o.fetcher.CommitAndPush(ctx, o.cfg.ResultsRepoURL, report.FileName, rendered, info, o.cfg.GitToken); err != nil {
			// The report was produced; a failed remote write degrades to a
			// warning, never to a failed check.
			logger.Warn("results push failed", "error", err)
			o.addWarning(e, fmt.Sprintf("results push failed: %v", err))
		}
	}

	o.mu.Lock()
	o.terminateLocked(e, models.CheckStateCompleted, "", fmt.Sprintf("completed with %d issues", len(issues)))
	o.mu.Unlock()
	logger.Info("check completed", "issues", len(issues))
}

// parseAndIndex runs spec parsing and code indexing concurrently; both only
// read the cloned tree.
func (o *Orchestrator) parseAndIndex(repoPath string, req models.CheckRequest) ([]models.Requirement, *codeindex.Index, error) {
	specFiles := req.SpecFiles
	if len(specFiles) == 0 {
		discovered, err := specparse.DiscoverSpecFiles(repoPath)
		if err != nil {
			return nil, nil, fmt.Errorf("discover spec files: %w", err)
		}
		specFiles = discovered
	}

	var (
		wg           sync.WaitGroup
		requirements []models.Requirement
		idx          *codeindex.Index
		parseErr     error
		indexErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		requirements, parseErr = specparse.ParseFiles(repoPath, specFiles)
	}()
	go func() {
		defer wg.Done()
		idx, indexErr = codeindex.Extract(repoPath, req.TargetPaths)
	}()
	wg.Wait()

	if parseErr != nil {
		return nil, nil, fmt.Errorf("parse specifications: %w", parseErr)
	}
	if indexErr != nil {
		return nil, nil, fmt.Errorf("index repository: %w", indexErr)
	}
	return requirements, idx, nil
}

// judgeAll fans requirements out to the judgment session under the per-check
// parallelism bound. Verdict order matches requirement order.
func (o *Orchestrator) judgeAll(ctx context.Context, e *entry, requirements []models.Requirement, idx *codeindex.Index) []models.Verdict {
	session := o.judge.NewSession()
	verdicts := make([]models.Verdict, len(requirements))
	sem := make(chan struct{}, o.cfg.JudgeParallelism)
	var wg sync.WaitGroup

	total := len(requirements)
	var done int
	var doneMu sync.Mutex

	deep := e.check.Request.Options.DeepAnalysis
	for i, req := range requirements {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req models.Requirement) {
			defer wg.Done()
			defer func() { <-sem }()

			files := idx.RelevantFiles(req.Text, o.cfg.MaxRelevantFiles)
			if deep && len(files) == 0 {
				verdicts[i] = session.JudgeArchitecture(ctx, req, idx)
			} else {
				verdicts[i] = session.Judge(ctx, req, idx, files)
			}

			doneMu.Lock()
			done++
			progress := 50 + 35*done/max(total, 1)
			doneMu.Unlock()
			o.setProgress(e, progress, fmt.Sprintf("judged %d/%d requirements", done, total))
		}(i, req)
	}
	wg.Wait()
	return verdicts
}

// recordDegraded surfaces backend degradation as check-level warnings.
func (o *Orchestrator) recordDegraded(e *entry, verdicts []models.Verdict) {
	counts := map[string]int{}
	for _, v := range verdicts {
		if v.Degraded {
			counts[v.DegradedReason]++
		}
	}
	if n := counts[judge.DegradedBackendUnavailable]; n > 0 {
		o.addWarning(e, fmt.Sprintf("analysis backend unavailable for %d requirements", n))
	}
	if n := counts[judge.DegradedParseFailure]; n > 0 {
		o.addWarning(e, fmt.Sprintf("unparsable backend response for %d requirements", n))
	}
}

// cancelledAt is the phase-boundary cancellation gate. When the flag is set
// it terminates the check; otherwise it records the next phase's progress.
func (o *Orchestrator) cancelledAt(e *entry, nextPhase string, progress int) bool {
	o.mu.Lock()
	if e.cancelled {
		o.terminateLocked(e, models.CheckStateFailed, FailureCancelled, "cancelled")
		e.report = ""
		o.mu.Unlock()
		o.logger.Info("check cancelled", "check_id", e.check.ID)
		return true
	}
	e.check.Progress = progress
	e.check.Message = nextPhase
	o.mu.Unlock()
	return false
}

func (o *Orchestrator) setProgress(e *entry, progress int, message string) {
	o.mu.Lock()
	if !e.check.State.Terminal() {
		e.check.Progress = progress
		e.check.Message = message
	}
	o.mu.Unlock()
}

func (o *Orchestrator) addWarning(e *entry, warning string) {
	o.mu.Lock()
	e.check.Warnings = append(e.check.Warnings, warning)
	o.mu.Unlock()
}

func (o *Orchestrator) fail(e *entry, code string, err error) {
	o.mu.Lock()
	o.terminateLocked(e, models.CheckStateFailed, code, err.Error())
	o.mu.Unlock()
	o.logger.Error("check failed", "check_id", e.check.ID, "code", code, "error", err)
}

// terminateLocked moves a check into a terminal state exactly once.
// Caller holds o.mu.
func (o *Orchestrator) terminateLocked(e *entry, state models.CheckState, code, message string) {
	if e.check.State.Terminal() {
		return
	}
	now := time.Now().UTC()
	e.check.State = state
	e.check.CompletedAt = &now
	e.check.Message = message
	if state == models.CheckStateCompleted {
		e.check.Progress = 100
	} else {
		e.check.ErrorCode = code
		e.check.Error = message
	}
	o.archiveLocked(e)
}

// archiveLocked persists a terminal check so its report outlives the process.
// Archival failure is logged, never surfaced: the live registry stays
// authoritative. The write runs off the registry lock but is tracked by the
// wait group so Shutdown does not return before it lands.
func (o *Orchestrator) archiveLocked(e *entry) {
	if o.archive == nil {
		return
	}
	snap := snapshotLocked(e.check)
	rep := e.report
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.archive.SaveCheck(ctx, &snap, rep); err != nil {
			o.logger.Error("archive check", "check_id", snap.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) fromArchive(ctx context.Context, id string) (*models.Check, string, error) {
	if o.archive == nil {
		return nil, "", ErrNotFound
	}
	return o.archive.GetCheck(ctx, id)
}

// snapshotLocked deep-copies a check so callers never observe pipeline
// mutation. Caller holds o.mu (or exclusively owns the check).
func snapshotLocked(c *models.Check) models.Check {
	snap := *c
	snap.Issues = append([]models.Issue(nil), c.Issues...)
	snap.Warnings = append([]string(nil), c.Warnings...)
	if c.StartedAt != nil {
		t := *c.StartedAt
		snap.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		snap.CompletedAt = &t
	}
	return snap
}

func classifyCloneFailure(err error) string {
	switch {
	case errors.Is(err, gitrepo.ErrCloneAuthFailed):
		return FailureCloneAuth
	case errors.Is(err, gitrepo.ErrCloneNotFound):
		return FailureCloneMissing
	case errors.Is(err, gitrepo.ErrCloneTimeout):
		return FailureCloneTimeout
	default:
		return FailureClone
	}
}

// repositoryName derives the short owner/name form from a transport URL.
func repositoryName(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimPrefix(trimmed, "git@")
	trimmed = strings.ReplaceAll(trimmed, ":", "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 {
		return path.Join(parts[len(parts)-2], parts[len(parts)-1])
	}
	return path.Base(trimmed)
}
