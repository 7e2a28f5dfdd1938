// Package report renders classified issues into the canonical report
// document. Rendering is a pure function of its inputs: the same issue list
// and metadata always produce byte-identical output.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/speccheck/speccheck/internal/models"
)

// FileName is the report's name inside the results repository.
const FileName = "TODO.md"

// Meta identifies the check a report belongs to.
type Meta struct {
	CheckID       string
	RepositoryURL string
	Branch        string
	GeneratedAt   time.Time
}

var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
}

// Render produces the report document with the fixed section grammar:
// header, summary counts table, then one section per severity tier in
// critical-to-low order with numbered issue entries.
func Render(meta Meta, issues []models.Issue) string {
	groups := map[models.Severity][]models.Issue{}
	for _, iss := range issues {
		groups[iss.Severity] = append(groups[iss.Severity], iss)
	}

	var b strings.Builder
	b.WriteString("# Compliance Check Report\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", meta.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Repository: %s\n", meta.RepositoryURL)
	fmt.Fprintf(&b, "- Branch: %s\n", meta.Branch)
	fmt.Fprintf(&b, "- Check ID: %s\n", meta.CheckID)
	fmt.Fprintf(&b, "- Total issues: %d\n\n", len(issues))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Severity | Count |\n|----------|-------|\n")
	for _, sev := range severityOrder {
		fmt.Fprintf(&b, "| %s | %d |\n", sev, len(groups[sev]))
	}
	b.WriteString("\n")

	for _, sev := range severityOrder {
		list := groups[sev]
		fmt.Fprintf(&b, "## %s (%d)\n\n", strings.ToUpper(string(sev[0]))+string(sev[1:]), len(list))
		if len(list) == 0 {
			b.WriteString("No issues.\n\n")
			continue
		}
		for i, iss := range list {
			fmt.Fprintf(&b, "### %d. [%s] %s\n\n", i+1, iss.Type, iss.RequirementID)
			fmt.Fprintf(&b, "- Severity: %s\n", iss.Severity)
			fmt.Fprintf(&b, "- Spec: %s\n", iss.SpecFile)
			if len(iss.Files) > 0 {
				fmt.Fprintf(&b, "- Files: %s\n", strings.Join(iss.Files, ", "))
			}
			fmt.Fprintf(&b, "- Description: %s\n", iss.Description)
			if iss.Suggestion != "" {
				fmt.Fprintf(&b, "- Suggestion: %s\n", iss.Suggestion)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
