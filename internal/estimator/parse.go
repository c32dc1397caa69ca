package estimator

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// payload is the JSON shape the model is instructed to emit per document.
type payload struct {
	Items          []model.EstimateItem    `json:"items"`
	Evidence       []model.EvidenceSnippet `json:"evidence,omitempty"`
	DiscrepancyLog []string                `json:"discrepancy_log,omitempty"`
	MissingItems   []string                `json:"missing_items,omitempty"`
	ReviewFlags    []string                `json:"review_flags,omitempty"`
}

func parsePayload(text string) (*payload, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, eris.Wrap(err, "estimator: unmarshal response")
	}
	return &p, nil
}

func parseVerification(text string) (*model.Verification, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var v model.Verification
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, eris.Wrap(err, "estimator: unmarshal verification")
	}
	return &v, nil
}

// extractJSON pulls the outermost JSON object out of a model response,
// tolerating markdown fences and surrounding prose.
func extractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		} else {
			s = rest
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", eris.New("estimator: no JSON object in response")
	}
	return s[start : end+1], nil
}
