// Package classify maps raw backend verdicts into severity-tagged issues
// with deterministic rules layered over the backend's self-reported
// severity.
package classify

import (
	"fmt"
	"strings"

	"github.com/speccheck/speccheck/internal/models"
)

// lowConfidence is the cutoff below which a verdict's self-reported
// severities are downgraded one tier.
const lowConfidence = 50

// Classifier applies the verdict-to-issue mapping for one check.
type Classifier struct {
	MinSeverity        models.Severity // issues below this rank are dropped
	IncludeSuggestions bool
}

// New creates a classifier. An empty minimum severity keeps everything.
func New(minSeverity models.Severity, includeSuggestions bool) *Classifier {
	return &Classifier{MinSeverity: minSeverity, IncludeSuggestions: includeSuggestions}
}

// Classify turns one requirement's verdict into zero or more issues.
// Issues below the minimum-severity threshold are dropped here, not later,
// so report counts always reflect only surfaced issues.
func (c *Classifier) Classify(req models.Requirement, v models.Verdict) []models.Issue {
	if v.Degraded {
		return c.threshold([]models.Issue{c.degradedIssue(req, v)})
	}

	var issues []models.Issue
	for _, raw := range v.Issues {
		issue := models.Issue{
			Severity:      c.deriveSeverity(models.ClampSeverity(raw.Severity), v.Confidence),
			Type:          clampType(raw.Type),
			RequirementID: req.ID,
			SpecFile:      req.SpecFile,
			Description:   raw.Description,
		}
		if raw.File != "" {
			issue.Files = []string{raw.File}
		}
		if c.IncludeSuggestions {
			issue.Suggestion = raw.Suggestion
		}
		issues = append(issues, issue)
	}

	// A mandatory requirement judged unimplemented always surfaces at least
	// one critical or high missing-implementation issue: one is appended
	// when the backend reported none, and a backend-reported one tagged
	// below high is raised to the floor.
	if !v.Implemented && req.Mandatory {
		floor := c.deriveSeverity(models.SeverityCritical, v.Confidence)
		first, atFloor := -1, false
		for i := range issues {
			if issues[i].Type != models.IssueTypeMissingImplementation {
				continue
			}
			if first < 0 {
				first = i
			}
			if models.SeverityRank(issues[i].Severity) <= models.SeverityRank(models.SeverityHigh) {
				atFloor = true
				break
			}
		}
		switch {
		case first < 0:
			issues = append(issues, models.Issue{
				Severity:      floor,
				Type:          models.IssueTypeMissingImplementation,
				RequirementID: req.ID,
				SpecFile:      req.SpecFile,
				Description:   fmt.Sprintf("mandatory requirement %s is not implemented: %s", req.ID, req.Text),
			})
		case !atFloor:
			issues[first].Severity = floor
		}
	}

	return c.threshold(issues)
}

// deriveSeverity downgrades the backend-reported severity one tier when
// confidence is low. Severity is never upgraded.
func (c *Classifier) deriveSeverity(reported models.Severity, confidence int) models.Severity {
	if confidence >= lowConfidence {
		return reported
	}
	switch reported {
	case models.SeverityCritical:
		return models.SeverityHigh
	case models.SeverityHigh:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (c *Classifier) degradedIssue(req models.Requirement, v models.Verdict) models.Issue {
	issueType := models.IssueTypeDocumentationGap
	if req.Mandatory {
		issueType = models.IssueTypeMissingImplementation
	}
	return models.Issue{
		Severity:      models.SeverityLow,
		Type:          issueType,
		RequirementID: req.ID,
		SpecFile:      req.SpecFile,
		Description: fmt.Sprintf("requirement %s could not be analyzed (%s); verify manually",
			req.ID, v.DegradedReason),
	}
}

func (c *Classifier) threshold(issues []models.Issue) []models.Issue {
	if c.MinSeverity == "" {
		return issues
	}
	cutoff := models.SeverityRank(c.MinSeverity)
	var kept []models.Issue
	for _, iss := range issues {
		if models.SeverityRank(iss.Severity) <= cutoff {
			kept = append(kept, iss)
		}
	}
	return kept
}

// clampType normalizes a backend-reported issue type to the enum, defaulting
// to incorrect-implementation for anything unrecognized.
func clampType(raw string) models.IssueType {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	switch models.IssueType(normalized) {
	case models.IssueTypeMissingImplementation,
		models.IssueTypeIncorrectImplementation,
		models.IssueTypeAPIMismatch,
		models.IssueTypeSecurityGap,
		models.IssueTypeDesignDeviation,
		models.IssueTypeDocumentationGap:
		return models.IssueType(normalized)
	case "documentation":
		return models.IssueTypeDocumentationGap
	default:
		return models.IssueTypeIncorrectImplementation
	}
}
