package estimator

import (
	"fmt"
	"strings"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// systemPrompt configures the model as a construction estimator. It is
// sent with a cache breakpoint so the per-document fan-out reuses it.
const systemPrompt = `You are a senior construction estimator performing a quantity takeoff from bid documents. You will receive the extracted text of one document, page by page. Enumerate every item of the requested trade with its quantity and the evidence that supports it.

Respond with a single JSON object and nothing else:
{
  "items": [
    {
      "category": "string",
      "description": "string",
      "code": "string (sign type or spec code, if any)",
      "qty": number or null,
      "qty_text": "string (verbatim quantity text when qty is ambiguous)",
      "unit": "string (EA, LF, SF, ...)",
      "confidence": 0.0-1.0,
      "sources": [
        {
          "filename": "string",
          "page": number,
          "sheet_ref": "string (drawing sheet, if cited)",
          "why_authoritative": "string",
          "evidence": "string (verbatim supporting text)"
        }
      ],
      "review_flags": ["string"]
    }
  ],
  "evidence": [
    {"filename": "string", "page": number, "kind": "string", "text": "string (verbatim snippet)"}
  ],
  "discrepancy_log": ["string"],
  "missing_items": ["string"],
  "review_flags": ["string"]
}

Rules:
- Quantities come only from the document text. Never invent counts.
- When a schedule and a floor plan disagree, record both in discrepancy_log and prefer the schedule.
- Include an evidence snippet for every table row or callout you read, even ones that produced no item.
- If a quantity is unreadable, set qty to null, put the raw text in qty_text, and add a review flag.`

// verifySystemPrompt runs the second pass that cross-checks item counts
// against the collected evidence.
const verifySystemPrompt = `You are auditing a construction takeoff. You will receive a list of proposed items and the evidence snippets they were derived from. For each item, check whether its quantity is supported by at least one snippet.

Respond with a single JSON object and nothing else:
{
  "checked": number,
  "confirmed": number,
  "mismatches": ["string (item description and what disagrees)"],
  "notes": "string",
  "overall_score": 0.0-1.0
}`

// buildDocumentPrompt renders one document's pages into the user message,
// truncating each page to maxChars.
func buildDocumentPrompt(doc model.Document, pages []model.PageText, tradeCode string, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trade: %s\nDocument: %s\n", tradeCode, doc.Filename)
	for _, p := range pages {
		text := p.Text
		if maxChars > 0 && len(text) > maxChars {
			text = text[:maxChars] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "\n=== %s page %d (%s) ===\n%s\n", p.Filename, p.PageNumber, p.Method, text)
	}
	return b.String()
}

// buildVerifyPrompt renders the merged items and evidence for the audit pass.
func buildVerifyPrompt(items []model.EstimateItem, snippets []model.EvidenceSnippet) string {
	var b strings.Builder
	b.WriteString("Proposed items:\n")
	for i, it := range items {
		qty := it.QtyText
		if it.Qty != nil {
			qty = fmt.Sprintf("%g", *it.Qty)
		}
		fmt.Fprintf(&b, "%d. %s | qty=%s %s | code=%s | confidence=%.2f\n",
			i+1, it.Description, qty, it.Unit, it.Code, it.Confidence)
	}
	b.WriteString("\nEvidence snippets:\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "- [%s p%d %s] %s\n", s.Filename, s.Page, s.Kind, s.Text)
	}
	return b.String()
}
