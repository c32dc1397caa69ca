// Package fastpath deterministically parses tabular sign schedules so
// high-confidence documents never reach the reasoning service.
package fastpath

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
)

// Known source types.
const (
	SourceSignSchedule    = "sign_schedule"
	SourceMessageSchedule = "message_schedule"
)

var (
	signScheduleRe    = regexp.MustCompile(`(?i)\bsign(age)?\s+(type\s+)?schedule\b`)
	messageScheduleRe = regexp.MustCompile(`(?i)\bmessage\s+schedule\b`)
	headerRowRe       = regexp.MustCompile(`(?i)\b(qty|quantity|sign\s*type|description|message|room)\b.*\b(qty|quantity|unit|room|message)\b`)

	codeCellRe  = regexp.MustCompile(`^[A-Z]{1,3}-?\d{1,3}(\.\d+)?$`)
	qtyCellRe   = regexp.MustCompile(`^\d{1,4}$`)
	unitCellRe  = regexp.MustCompile(`^(?i)(EA|EACH|LF|SF|LS|PR|SET)$`)
	roomCellRe  = regexp.MustCompile(`^\d{3}[A-Z]?$`)
	roomAlphaRe = regexp.MustCompile(`^\d{3}[A-Z]$`)
	nameCellRe  = regexp.MustCompile(`[A-Za-z]{3,}`)
	sheetRefRe  = regexp.MustCompile(`\b[A-Z]{1,2}-\d{3}(\.\d+)?\b`)
	qtyTailRe   = regexp.MustCompile(`(?i)\b\d{1,4}\s*[|│]?\s*(EA|EACH|LF|SF|LS|PR|SET)?\s*[|│]?\s*$`)
	inlineQtyRe = regexp.MustCompile(`(?i)^(.+?[A-Za-z).])\s+(\d{1,4})\s*(EA|EACH|LF|SF|LS|PR|SET)?$`)
	wsColSplit  = regexp.MustCompile(`\s{2,}|\t+`)
	pipeSplitRe = regexp.MustCompile(`\s*[|│]\s*`)
)

// DetectSourceType identifies a known schedule format in the text, or
// returns "".
func DetectSourceType(text string) string {
	switch {
	case signScheduleRe.MatchString(text):
		return SourceSignSchedule
	case messageScheduleRe.MatchString(text):
		return SourceMessageSchedule
	default:
		return ""
	}
}

// Extractor parses schedule tables and applies the acceptance gate.
type Extractor struct {
	cfg config.FastPathConfig
}

// New creates an Extractor.
func New(cfg config.FastPathConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Accept applies the gate: the top document must have scored at least
// MinDocScore and the parse must be at least MinConfidence sure of
// itself. Anything less goes to the estimator instead.
func (e *Extractor) Accept(docScore float64, result *model.ExtractionResult) bool {
	if result == nil {
		return false
	}
	return docScore >= e.cfg.MinDocScore && result.Confidence >= e.cfg.MinConfidence
}

// TryFastPath parses text known to hold a sourceType schedule. Returns
// nil when sourceType is unknown or no rows parse.
func (e *Extractor) TryFastPath(text, sourceType string) *model.ExtractionResult {
	if sourceType != SourceSignSchedule && sourceType != SourceMessageSchedule {
		return nil
	}

	entries, candidates := parseRows(text)
	if len(entries) == 0 {
		return nil
	}

	confidence := scheduleConfidence(len(entries), candidates)
	for i := range entries {
		entries[i].Confidence = confidence
	}
	return &model.ExtractionResult{
		SourceType: sourceType,
		Entries:    entries,
		Confidence: confidence,
	}
}

// ExtractPages runs detection over the whole document and parsing per
// page, so entries carry the page they came from. Duplicate names merge,
// keeping the first quantity and accumulating page numbers.
func (e *Extractor) ExtractPages(pages []model.PageText) *model.ExtractionResult {
	var full strings.Builder
	for _, p := range pages {
		full.WriteString(p.Text)
		full.WriteString("\n")
	}
	sourceType := DetectSourceType(full.String())
	if sourceType == "" {
		return nil
	}

	var entries []model.Entry
	byName := make(map[string]int)
	totalCandidates := 0
	totalParsed := 0

	for _, page := range pages {
		rows, candidates := parseRows(page.Text)
		totalCandidates += candidates
		totalParsed += len(rows)
		refs := sheetRefRe.FindAllString(page.Text, -1)

		for _, row := range rows {
			row.PageNumbers = []int{page.PageNumber}
			row.SheetRefs = dedupeStrings(refs)
			key := row.Name + "\x00" + row.RoomNumber
			if i, ok := byName[key]; ok {
				entries[i].PageNumbers = appendUniqueInt(entries[i].PageNumbers, page.PageNumber)
				continue
			}
			byName[key] = len(entries)
			entries = append(entries, row)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	confidence := scheduleConfidence(totalParsed, totalCandidates)
	for i := range entries {
		entries[i].Confidence = confidence
	}
	return &model.ExtractionResult{
		SourceType: sourceType,
		Entries:    entries,
		Confidence: confidence,
	}
}

// parseRows walks the text line by line, classifying each candidate
// row's cells into code/name/quantity/room/unit. Returns the parsed
// entries and how many lines looked like rows at all.
func parseRows(text string) ([]model.Entry, int) {
	var entries []model.Entry
	candidates := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || headerRowRe.MatchString(trimmed) {
			continue
		}
		if !qtyTailRe.MatchString(trimmed) || !nameCellRe.MatchString(trimmed) {
			continue
		}
		candidates++

		if entry, ok := parseRow(trimmed); ok {
			entries = append(entries, entry)
		}
	}
	return entries, candidates
}

func parseRow(line string) (model.Entry, bool) {
	var cells []string
	if strings.ContainsAny(line, "|│") {
		cells = pipeSplitRe.Split(line, -1)
	} else {
		cells = wsColSplit.Split(line, -1)
	}

	var entry model.Entry
	var numeric []string

	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		switch {
		case cell == "":
		case entry.SignType == "" && codeCellRe.MatchString(cell):
			entry.SignType = cell
		case unitCellRe.MatchString(cell):
			// unit column, implicitly each
		case entry.RoomNumber == "" && roomAlphaRe.MatchString(cell):
			entry.RoomNumber = cell
		case qtyCellRe.MatchString(cell):
			numeric = append(numeric, cell)
		case entry.Name == "" && nameCellRe.MatchString(cell):
			entry.Name = cell
		}
	}

	// Layout-preserving extraction sometimes collapses columns to single
	// spaces; peel a trailing quantity off the name cell.
	if entry.Name != "" && len(numeric) == 0 {
		if m := inlineQtyRe.FindStringSubmatch(entry.Name); m != nil {
			entry.Name = strings.TrimSpace(m[1])
			numeric = append(numeric, m[2])
		}
	}

	qty, room, ok := splitQuantityRoom(numeric)
	if !ok || entry.Name == "" {
		return model.Entry{}, false
	}
	entry.Quantity = qty
	if room != "" {
		entry.RoomNumber = room
	}
	return entry, true
}

// splitQuantityRoom decides which numeric column is the quantity when a
// room-number column is also present. Room numbers are three digits with
// an optional letter; a lone number is always the quantity.
func splitQuantityRoom(numeric []string) (float64, string, bool) {
	switch len(numeric) {
	case 0:
		return 0, "", false
	case 1:
		n, _ := strconv.Atoi(numeric[0])
		if n <= 0 {
			return 0, "", false
		}
		return float64(n), "", true
	}

	qtyIdx := -1
	for i, cell := range numeric {
		if !roomCellRe.MatchString(cell) {
			qtyIdx = i
			break
		}
	}
	if qtyIdx == -1 {
		// Every column is room-shaped: schedules put the count last.
		qtyIdx = len(numeric) - 1
	}

	var room string
	for i, cell := range numeric {
		if i != qtyIdx && roomCellRe.MatchString(cell) {
			room = cell
			break
		}
	}
	n, _ := strconv.Atoi(numeric[qtyIdx])
	if n <= 0 {
		return 0, "", false
	}
	return float64(n), room, true
}

// scheduleConfidence scales with how much of the apparent table actually
// parsed. A clean full parse lands near 0.98; a table where half the
// rows resisted parsing falls below the acceptance gate.
func scheduleConfidence(parsed, candidates int) float64 {
	if candidates == 0 || parsed > candidates {
		return 0
	}
	return 0.6 + 0.38*float64(parsed)/float64(candidates)
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func appendUniqueInt(in []int, v int) []int {
	for _, x := range in {
		if x == v {
			return in
		}
	}
	return append(in, v)
}
