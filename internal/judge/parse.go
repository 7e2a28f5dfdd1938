package judge

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/speccheck/speccheck/internal/models"
)

// errUnparsable means no strategy could extract a verdict from the response.
var errUnparsable = errors.New("response is not a verdict")

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// verdictPayload is the JSON contract expected from the backend.
type verdictPayload struct {
	Implemented bool                  `json:"implemented"`
	Confidence  int                   `json:"confidence"`
	Issues      []models.VerdictIssue `json:"issues"`
	Explanation string                `json:"explanation"`
}

// parseVerdict tries the strategies in order: a fenced JSON block, then the
// whole body as JSON. Each yields a typed verdict or falls through; when
// both fail the caller degrades rather than aborting the check.
func parseVerdict(body string) (models.Verdict, error) {
	if m := fencedJSON.FindStringSubmatch(body); m != nil {
		if v, err := decodeVerdict(m[1]); err == nil {
			return v, nil
		}
	}
	if v, err := decodeVerdict(strings.TrimSpace(body)); err == nil {
		return v, nil
	}
	return models.Verdict{}, errUnparsable
}

func decodeVerdict(raw string) (models.Verdict, error) {
	var p verdictPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.Verdict{}, err
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 100 {
		p.Confidence = 100
	}
	return models.Verdict{
		Implemented: p.Implemented,
		Confidence:  p.Confidence,
		Issues:      p.Issues,
		Explanation: p.Explanation,
	}, nil
}

// degradedVerdict synthesizes the fallback used when the backend response
// is missing or malformed. reason is "parse-failure" or
// "backend-unavailable".
func degradedVerdict(reason string) models.Verdict {
	return models.Verdict{
		Implemented: false,
		Confidence:  0,
		Issues: []models.VerdictIssue{{
			Severity:    string(models.SeverityMedium),
			Type:        reason,
			Description: "requirement could not be analyzed: " + reason,
		}},
		Degraded:       true,
		DegradedReason: reason,
	}
}
