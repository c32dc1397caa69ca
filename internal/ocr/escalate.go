package ocr

import "strings"

// scheduleKeywords mark a page as likely holding tabular takeoff data
// even when direct extraction yielded almost nothing (vector drawings
// with rasterized tables).
var scheduleKeywords = []string{
	"schedule",
	"legend",
	"qty",
	"quantity",
	"sign type",
	"signage",
	"room number",
	"fixture",
	"keynote",
}

// LooksScheduleLike reports whether the text mentions any schedule or
// quantity keyword.
func LooksScheduleLike(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range scheduleKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ShouldEscalate decides whether a page whose direct text came back
// short is worth the cost of optical recognition. In full mode every
// short page is escalated. In smart mode only pages that look
// schedule-like or sit near the document boundaries are: title blocks
// and schedules cluster at the start and end of plan sets.
//
// directText is the page's direct extraction output, pageNumber is
// 1-based, scannedPages is the size of the scanned window.
func ShouldEscalate(mode string, minDirectChars, earlyPages, latePages int, directText string, pageNumber, scannedPages int) bool {
	if len(strings.TrimSpace(directText)) >= minDirectChars {
		return false
	}
	if mode == "full" {
		return true
	}
	if LooksScheduleLike(directText) {
		return true
	}
	if pageNumber <= earlyPages {
		return true
	}
	if pageNumber > scannedPages-latePages {
		return true
	}
	return false
}
