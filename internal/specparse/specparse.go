// Package specparse extracts structured requirements from specification
// documents.
package specparse

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/speccheck/speccheck/internal/models"
)

var (
	// Explicit requirement markers: a short uppercase code and a number,
	// e.g. FR-1, NFR-12, SR-3, API-1, SEC-4.
	idPattern = regexp.MustCompile(`^\s*(?:[-*#]+\s*)?([A-Z][A-Z0-9]{1,9}-\d+)[:.]?\s+(.+)$`)

	// Normative SHALL statements without an explicit marker.
	shallPattern = regexp.MustCompile(`(?i)\b(?:the\s+)?(?:service|system|server|application|component)\s+shall\b`)

	headingPattern = regexp.MustCompile(`^\s*#+\s+(.+)$`)

	optionalWords = regexp.MustCompile(`(?i)\b(should|may)\b`)
	requiredWords = regexp.MustCompile(`(?i)\b(shall|must|required)\b`)
)

// ParseFiles reads the given spec files (paths relative to repoPath) and
// returns every requirement found, in source order. Files with no
// recognizable requirements contribute nothing; a missing file is an error.
func ParseFiles(repoPath string, specFiles []string) ([]models.Requirement, error) {
	var reqs []models.Requirement
	for _, file := range specFiles {
		content, err := os.ReadFile(filepath.Join(repoPath, file))
		if err != nil {
			return nil, fmt.Errorf("read spec file %s: %w", file, err)
		}
		reqs = append(reqs, Parse(file, string(content))...)
	}
	return reqs, nil
}

// DiscoverSpecFiles lists markdown files under the repo's spec/ directory,
// the default when a request names no spec files. A repository without a
// spec directory yields an empty list.
func DiscoverSpecFiles(repoPath string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(repoPath, "spec"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read spec directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, filepath.Join("spec", e.Name()))
		}
	}
	return files, nil
}

// Parse extracts requirements from one document. Explicitly marked
// requirements keep their identifier; bare SHALL statements get synthetic
// REQ-n ids numbered per file. Duplicate ids across files stay distinct via
// the SpecFile tag.
func Parse(specFile, content string) []models.Requirement {
	var reqs []models.Requirement
	section := ""
	shallSeq := 0

	for _, line := range strings.Split(content, "\n") {
		if h := headingPattern.FindStringSubmatch(line); h != nil {
			section = strings.TrimSpace(h[1])
			// A heading line can itself carry a requirement id.
		}

		if m := idPattern.FindStringSubmatch(line); m != nil {
			text := strings.TrimSpace(m[2])
			reqs = append(reqs, models.Requirement{
				ID:        m[1],
				Text:      text,
				SpecFile:  specFile,
				Section:   section,
				Mandatory: isMandatory(text),
			})
			continue
		}

		if shallPattern.MatchString(line) {
			shallSeq++
			reqs = append(reqs, models.Requirement{
				ID:        fmt.Sprintf("REQ-%d", shallSeq),
				Text:      strings.TrimSpace(line),
				SpecFile:  specFile,
				Section:   section,
				Mandatory: true,
			})
		}
	}
	return reqs
}

// isMandatory applies the RFC 2119 reading: SHALL/MUST/REQUIRED bind, and a
// statement that only says SHOULD or MAY is optional. Marked requirements
// with no normative keyword at all are treated as binding.
func isMandatory(text string) bool {
	if requiredWords.MatchString(text) {
		return true
	}
	if optionalWords.MatchString(text) {
		return false
	}
	return true
}
