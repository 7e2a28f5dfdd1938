// Package gitrepo fetches target repositories and pushes generated reports
// using the git CLI.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/speccheck/speccheck/internal/retry"
	"github.com/speccheck/speccheck/internal/workspace"
)

var (
	// ErrCloneAuthFailed means the remote rejected the supplied credential.
	ErrCloneAuthFailed = errors.New("clone authentication failed")

	// ErrCloneNotFound means the repository or branch does not exist.
	ErrCloneNotFound = errors.New("repository or branch not found")

	// ErrCloneTimeout means the clone exceeded its deadline.
	ErrCloneTimeout = errors.New("clone timed out")

	// ErrPushConflict means the results push was rejected even after one
	// pull-rebase retry.
	ErrPushConflict = errors.New("results push rejected")

	// errTransient wraps network-level failures eligible for retry.
	errTransient = errors.New("transient git failure")
)

// CommitInfo feeds the deterministic results-commit message.
type CommitInfo struct {
	CheckID       string
	RepositoryURL string
	Branch        string
	IssueCount    int
	Timestamp     time.Time
}

// Fetcher defines the git operations the pipeline consumes.
type Fetcher interface {
	Clone(ctx context.Context, url, branch, token, dest string) error
	CommitAndPush(ctx context.Context, resultsURL, fileName, content string, info CommitInfo, token string) error
}

// Config holds fetcher tunables.
type Config struct {
	CloneTimeout time.Duration
	PushTimeout  time.Duration
	UserName     string
	UserEmail    string
	RetryBase    time.Duration
}

// CLIFetcher implements Fetcher by shelling out to git.
type CLIFetcher struct {
	cfg    Config
	ws     *workspace.Manager
	logger *slog.Logger

	// run invokes git; tests swap it out.
	run func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewCLIFetcher creates a fetcher. The workspace manager provides the
// ephemeral clone target for results-repository pushes.
func NewCLIFetcher(cfg Config, ws *workspace.Manager, logger *slog.Logger) *CLIFetcher {
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = 5 * time.Minute
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = time.Minute
	}
	if cfg.UserName == "" {
		cfg.UserName = "Spec Checker Bot"
	}
	if cfg.UserEmail == "" {
		cfg.UserEmail = "spec-checker@example.com"
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIFetcher{cfg: cfg, ws: ws, logger: logger.With("component", "gitrepo"), run: gitCmd}
}

// Clone performs a shallow single-branch checkout of url into dest.
// Transient network failures retry up to 3 times with doubling backoff;
// auth rejections and missing repos/branches fail immediately.
func (f *CLIFetcher) Clone(ctx context.Context, url, branch, token, dest string) error {
	authURL := injectToken(url, token)
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   f.cfg.RetryBase,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}

	f.logger.Info("cloning repository", "url", url, "branch", branch)
	err := policy.Do(ctx, func() error {
		// A failed attempt may leave a partial checkout behind.
		_ = os.RemoveAll(dest)

		cctx, cancel := context.WithTimeout(ctx, f.cfg.CloneTimeout)
		defer cancel()

		out, err := f.run(cctx, "", "clone", "--depth", "1", "--branch", branch, "--single-branch", authURL, dest)
		if err != nil {
			return classifyCloneError(cctx, scrub(combineErr(err, out), token))
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(dest)
		return err
	}
	return nil
}

// CommitAndPush clones the results repository into a fresh workspace, writes
// fileName with content, commits with the deterministic message, and pushes.
// A non-fast-forward rejection triggers one pull-rebase-and-retry cycle
// before surfacing ErrPushConflict.
func (f *CLIFetcher) CommitAndPush(ctx context.Context, resultsURL, fileName, content string, info CommitInfo, token string) error {
	ws, err := f.ws.Allocate()
	if err != nil {
		return fmt.Errorf("allocate results workspace: %w", err)
	}
	defer func() {
		if derr := f.ws.Destroy(ws); derr != nil {
			f.logger.Warn("destroy results workspace", "error", derr)
		}
	}()

	authURL := injectToken(resultsURL, token)
	dir := filepath.Join(ws.Path, "results")

	cctx, cancel := context.WithTimeout(ctx, f.cfg.CloneTimeout)
	defer cancel()
	if out, err := f.run(cctx, "", "clone", "--depth", "1", authURL, dir); err != nil {
		return fmt.Errorf("clone results repo: %s", scrub(combineErr(err, out), token))
	}

	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	steps := [][]string{
		{"config", "user.name", f.cfg.UserName},
		{"config", "user.email", f.cfg.UserEmail},
		{"add", fileName},
		{"commit", "-m", CommitMessage(info)},
	}
	for _, args := range steps {
		if out, err := f.run(ctx, dir, args...); err != nil {
			return fmt.Errorf("git %s: %s", args[0], scrub(combineErr(err, out), token))
		}
	}

	pctx, pcancel := context.WithTimeout(ctx, f.cfg.PushTimeout)
	defer pcancel()
	out, err := f.run(pctx, dir, "push")
	if err == nil {
		f.logger.Info("report pushed", "repo", resultsURL, "file", fileName)
		return nil
	}
	if !isNonFastForward(combineErr(err, out)) {
		return fmt.Errorf("push results: %s", scrub(combineErr(err, out), token))
	}

	// One rebase-and-retry cycle.
	if out, err := f.run(ctx, dir, "pull", "--rebase"); err != nil {
		return fmt.Errorf("%w: rebase failed: %s", ErrPushConflict, scrub(combineErr(err, out), token))
	}
	rctx, rcancel := context.WithTimeout(ctx, f.cfg.PushTimeout)
	defer rcancel()
	if out, err := f.run(rctx, dir, "push"); err != nil {
		return fmt.Errorf("%w: %s", ErrPushConflict, scrub(combineErr(err, out), token))
	}
	f.logger.Info("report pushed after rebase", "repo", resultsURL, "file", fileName)
	return nil
}

// CommitMessage renders the fixed results-commit template.
func CommitMessage(info CommitInfo) string {
	return fmt.Sprintf(
		"chore: compliance check results for %s\n\n- Check ID: %s\n- Branch: %s\n- Issues: %d\n- Timestamp: %s",
		info.RepositoryURL, info.CheckID, info.Branch, info.IssueCount,
		info.Timestamp.UTC().Format(time.RFC3339),
	)
}

func gitCmd(ctx context.Context, dir string, args ...string) (string, error) {
	var full []string
	if dir != "" {
		full = append(full, "-C", dir)
	}
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func combineErr(err error, out string) string {
	if out != "" {
		return out
	}
	return err.Error()
}

// injectToken splices a credential into an https transport URL. The token is
// never logged and lives only for the duration of the subprocess call.
func injectToken(url, token string) string {
	if token == "" || !strings.HasPrefix(url, "https://") {
		return url
	}
	return "https://" + token + "@" + strings.TrimPrefix(url, "https://")
}

// scrub removes the credential from subprocess output before it reaches an
// error value or a log line.
func scrub(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

// classifyCloneError maps git stderr text onto the error taxonomy.
func classifyCloneError(ctx context.Context, stderr string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s", ErrCloneTimeout, stderr)
	}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "invalid username or password"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "403"):
		return fmt.Errorf("%w: %s", ErrCloneAuthFailed, stderr)
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "remote branch"),
		strings.Contains(lower, "repository") && strings.Contains(lower, "404"):
		return fmt.Errorf("%w: %s", ErrCloneNotFound, stderr)
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "could not resolve host"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "early eof"),
		strings.Contains(lower, "unable to access"):
		return fmt.Errorf("%w: %s", errTransient, stderr)
	default:
		return fmt.Errorf("clone failed: %s", stderr)
	}
}

func isNonFastForward(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "non-fast-forward") ||
		strings.Contains(lower, "fetch first") ||
		strings.Contains(lower, "rejected")
}
