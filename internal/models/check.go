package models

import "time"

// CheckState represents the lifecycle state of a compliance check.
type CheckState string

const (
	CheckStatePending   CheckState = "pending"
	CheckStateRunning   CheckState = "running"
	CheckStateCompleted CheckState = "completed"
	CheckStateFailed    CheckState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s CheckState) Terminal() bool {
	return s == CheckStateCompleted || s == CheckStateFailed
}

// CheckOptions is the option bag accepted with a check request.
type CheckOptions struct {
	DeepAnalysis       bool     `json:"deep_analysis"`
	IncludeSuggestions bool     `json:"include_suggestions"`
	MinSeverity        Severity `json:"min_severity,omitempty"`
}

// CheckRequest describes one requested compliance run. Immutable once accepted.
type CheckRequest struct {
	RepositoryURL string       `json:"repository_url"`
	Branch        string       `json:"branch"`
	SpecFiles     []string     `json:"spec_files,omitempty"`
	TargetPaths   []string     `json:"target_paths,omitempty"`
	Options       CheckOptions `json:"options"`
}

// Check is one end-to-end compliance evaluation run. Owned and mutated only
// by the orchestrator; callers see copies.
type Check struct {
	ID            string       `json:"check_id"`
	Request       CheckRequest `json:"request"`
	Repository    string       `json:"repository"`
	State         CheckState   `json:"status"`
	Progress      int          `json:"progress"`
	Message       string       `json:"message,omitempty"`
	WorkspacePath string       `json:"-"`
	Issues        []Issue      `json:"-"`
	Warnings      []string     `json:"warnings,omitempty"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Error         string       `json:"error,omitempty"`
	AcceptedAt    time.Time    `json:"accepted_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Summary holds aggregate issue counts for a terminal check.
type Summary struct {
	TotalIssues   int `json:"total_issues"`
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	SpecsChecked  int `json:"specs_checked"`
	FilesAnalyzed int `json:"files_analyzed"`
}

// Summarize computes issue counts for the check's current issue list.
func (c *Check) Summarize() Summary {
	s := Summary{TotalIssues: len(c.Issues)}
	files := map[string]bool{}
	for _, iss := range c.Issues {
		switch iss.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
		for _, f := range iss.Files {
			files[f] = true
		}
	}
	s.FilesAnalyzed = len(files)
	return s
}
