package models

// Severity ranks how serious a compliance issue is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityRank orders severities for sorting and threshold comparison.
// Lower rank means more severe. Unknown severities sort last.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// ClampSeverity normalizes a backend-reported severity string to the
// four-value enum, defaulting to medium for anything unrecognized.
func ClampSeverity(raw string) Severity {
	switch Severity(raw) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(raw)
	default:
		return SeverityMedium
	}
}

// IssueType categorizes the kind of compliance gap.
type IssueType string

const (
	IssueTypeMissingImplementation   IssueType = "missing-implementation"
	IssueTypeIncorrectImplementation IssueType = "incorrect-implementation"
	IssueTypeAPIMismatch             IssueType = "api-mismatch"
	IssueTypeSecurityGap             IssueType = "security-gap"
	IssueTypeDesignDeviation         IssueType = "design-deviation"
	IssueTypeDocumentationGap        IssueType = "documentation-gap"
)

// Issue is a classified, severity-tagged compliance gap. Immutable once created.
type Issue struct {
	Severity      Severity  `json:"severity"`
	Type          IssueType `json:"type"`
	RequirementID string    `json:"requirement_id"`
	SpecFile      string    `json:"spec_file"`
	Files         []string  `json:"files,omitempty"`
	Description   string    `json:"description"`
	Suggestion    string    `json:"suggestion,omitempty"`
}
