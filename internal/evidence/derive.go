package evidence

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// Text-pattern derivation over evidence snippets. The model summarizes;
// these regexes recover the table structure it may have flattened away.
var (
	// "S1  EXIT SIGN  4  EA" — code, description, qty, optional unit.
	scheduleRowRe = regexp.MustCompile(`(?i)^([A-Z]{1,3}-?\d{1,3}(?:\.\d+)?)[\s|:]+(.{3,}?)[\s|]+(\d{1,4})(?:[\s|]+(EA|EACH|LF|SF|LS|PR|SET))?[\s|]*$`)

	// Column header lines need two or more header words to count.
	headerWordRe = regexp.MustCompile(`(?i)\b(sign|type|qty|quantity|description|room|location|unit|mark|remarks)\b`)

	// "SEE DETAIL 3/A-601" style cross references.
	calloutRe = regexp.MustCompile(`(?i)\b(?:see|refer\s+to|per)\s+(detail|sheet|schedule|spec(?:ification)?|keynote)\b`)

	// Spec-section codes ("10 14 00") and drawing sheet refs ("A-601").
	codeHitRe = regexp.MustCompile(`\b(?:\d{2}\s\d{2}\s\d{2}|[A-Z]{1,2}-\d{3}(?:\.\d+)?)\b`)
)

// deriveFindings re-scans a finding's evidence text line by line and
// emits structured findings for the patterns it recognizes. IDs are
// derived from the source text so a replay regenerates the same rows.
func deriveFindings(src model.Finding) []model.Finding {
	if src.EvidenceText == "" {
		return nil
	}

	var out []model.Finding
	for _, line := range strings.Split(src.EvidenceText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := scheduleRowRe.FindStringSubmatch(line); m != nil {
			qty, err := strconv.ParseFloat(m[3], 64)
			if err == nil {
				out = append(out, derived(src, model.FindingScheduleRow, line, map[string]any{
					"code":        strings.ToUpper(m[1]),
					"description": strings.TrimSpace(strings.Trim(m[2], "|")),
					"qty":         qty,
					"unit":        strings.ToUpper(m[4]),
				}))
				continue
			}
		}

		if len(headerWordRe.FindAllString(line, -1)) >= 2 && !strings.ContainsAny(line, "0123456789") {
			out = append(out, derived(src, model.FindingHeader, line, nil))
			continue
		}

		if m := calloutRe.FindStringSubmatch(line); m != nil {
			out = append(out, derived(src, model.FindingCallout, line, map[string]any{
				"target": strings.ToLower(m[1]),
			}))
			continue
		}

		if codes := codeHitRe.FindAllString(line, -1); len(codes) > 0 {
			out = append(out, derived(src, model.FindingCodeHit, line, map[string]any{
				"codes": dedupeStrings(codes),
			}))
		}
	}
	return out
}

func derived(src model.Finding, kind model.FindingType, line string, data map[string]any) model.Finding {
	return model.Finding{
		ID: model.DeterministicID(src.RunID, "derived", src.DocumentID,
			strconv.Itoa(src.PageNumber), string(kind), line),
		RunID:        src.RunID,
		BidID:        src.BidID,
		DocumentID:   src.DocumentID,
		PageNumber:   src.PageNumber,
		Type:         kind,
		Confidence:   0.7,
		Data:         data,
		EvidenceText: line,
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
