package models

// Requirement is a single normative statement extracted from a spec document.
type Requirement struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SpecFile  string `json:"spec_file"`
	Section   string `json:"section,omitempty"`
	Mandatory bool   `json:"mandatory"`
}

// VerdictIssue is one raw issue as reported by the reasoning backend,
// before classification.
type VerdictIssue struct {
	Severity    string `json:"severity"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Verdict is the backend's judgment about one requirement. Transient:
// consumed by the classifier and discarded.
type Verdict struct {
	Implemented bool           `json:"implemented"`
	Confidence  int            `json:"confidence"`
	Issues      []VerdictIssue `json:"issues"`
	Explanation string         `json:"explanation,omitempty"`

	// Degraded marks verdicts synthesized after the backend response could
	// not be obtained or parsed. DegradedReason is "parse-failure" or
	// "backend-unavailable".
	Degraded       bool   `json:"-"`
	DegradedReason string `json:"-"`
}
