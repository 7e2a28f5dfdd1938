// Package judge sends requirement/code-context pairs to a reasoning backend
// and normalizes the responses into verdicts. Judgment failures never abort
// a check: every failure mode degrades to a low-confidence verdict instead.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/speccheck/speccheck/internal/codeindex"
	"github.com/speccheck/speccheck/internal/models"
	"github.com/speccheck/speccheck/internal/retry"
)

// DegradedParseFailure and DegradedBackendUnavailable tag why a verdict was
// synthesized instead of parsed, so the classifier can surface meta-issues.
const (
	DegradedParseFailure       = "parse-failure"
	DegradedBackendUnavailable = "backend-unavailable"
)

// Config holds judgment tunables.
type Config struct {
	MaxContextBytes int
	RetryBase       time.Duration
	CacheSize       int
}

// Client drives one reasoning backend.
type Client struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
}

// NewClient creates a judgment client over the given backend.
func NewClient(backend Backend, cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxContextBytes <= 0 {
		cfg.MaxContextBytes = 24 * 1024
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{backend: backend, cfg: cfg, logger: logger.With("component", "judge")}
}

// Health reports the backend's availability.
func (c *Client) Health(ctx context.Context) Health {
	return c.backend.Health(ctx)
}

// Session scopes the verdict cache to a single check, so entries never leak
// across unrelated repositories.
type Session struct {
	client *Client
	cache  *verdictCache
}

// NewSession starts a cache scope for one check.
func (c *Client) NewSession() *Session {
	return &Session{client: c, cache: newVerdictCache(c.cfg.CacheSize)}
}

// Judge evaluates one requirement against the summaries of the given files.
// An empty file list falls back to the whole index.
func (s *Session) Judge(ctx context.Context, req models.Requirement, idx *codeindex.Index, files []string) models.Verdict {
	if len(files) == 0 {
		files = idx.Paths()
	}
	return s.judge(ctx, req, idx, files, false)
}

// JudgeArchitecture evaluates an architecture-level requirement against the
// whole structural index rather than a file subset.
func (s *Session) JudgeArchitecture(ctx context.Context, req models.Requirement, idx *codeindex.Index) models.Verdict {
	return s.judge(ctx, req, idx, idx.Paths(), true)
}

func (s *Session) judge(ctx context.Context, req models.Requirement, idx *codeindex.Index, files []string, wholeIndex bool) models.Verdict {
	key := CacheKey(req, files, indexDigests(idx))
	if v, ok := s.cache.get(key); ok {
		return v
	}

	prompt := buildPrompt(req, idx.Render(files, s.client.cfg.MaxContextBytes), wholeIndex)

	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   s.client.cfg.RetryBase,
		Retryable:   func(err error) bool { return errors.Is(err, errBackendUnavailable) },
	}

	var body string
	err := policy.Do(ctx, func() error {
		var gerr error
		body, gerr = s.client.backend.Generate(ctx, prompt)
		return gerr
	})
	if err != nil {
		s.client.logger.Warn("judgment call failed", "requirement", req.ID, "error", err)
		v := degradedVerdict(DegradedBackendUnavailable)
		s.cache.put(key, v)
		return v
	}

	v, err := parseVerdict(body)
	if err != nil {
		s.client.logger.Warn("unparsable backend response", "requirement", req.ID)
		v = degradedVerdict(DegradedParseFailure)
	}
	s.cache.put(key, v)
	return v
}

func indexDigests(idx *codeindex.Index) map[string]string {
	out := make(map[string]string, len(idx.Files))
	for _, f := range idx.Files {
		out[f.Path] = f.Digest
	}
	return out
}

// buildPrompt pairs the requirement with the structural context and pins the
// JSON response contract.
func buildPrompt(req models.Requirement, contextText string, wholeIndex bool) string {
	var b strings.Builder
	b.WriteString("You check whether a source repository satisfies a specification requirement.\n")
	if wholeIndex {
		b.WriteString("Judge the requirement against the architecture of the whole codebase index below.\n")
	}
	b.WriteString(`Respond with ONLY a JSON object:
{"implemented": bool, "confidence": 0-100, "issues": [{"severity": "critical|high|medium|low", "type": "missing-implementation|incorrect-implementation|api-mismatch|security-gap|design-deviation|documentation-gap", "description": "...", "file": "...", "suggestion": "..."}], "explanation": "..."}

`)
	fmt.Fprintf(&b, "Requirement %s (from %s): %s\n", req.ID, req.SpecFile, req.Text)
	if req.Mandatory {
		b.WriteString("This requirement is mandatory.\n")
	}
	b.WriteString("\nCode structure index:\n")
	b.WriteString(contextText)
	return b.String()
}
