// Package vectors cleans line geometry pulled from construction
// drawings and derives the snap points the takeoff UI draws against.
package vectors

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

const (
	// Lines shorter than this are hatching or noise.
	minLineLength = 10.0
	// Two lines whose endpoint distances sum under this are the same line.
	duplicateTolerance = 4.0
	// Endpoints closer than this allow a collinear merge.
	mergeTolerance = 3.0
	// Angle difference, in radians, under which lines count as parallel.
	angleTolerance = 0.05
	// Perpendicular distance under which parallel lines count as collinear.
	collinearDistance = 3.0
	// Hard cap on lines kept per page; busy sheets get truncated.
	maxLines = 2000
)

// Point is a 2D coordinate in display space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) coord() geom.Coord {
	return geom.Coord{p.X, p.Y}
}

// Line is one cleaned segment with its stroke width.
type Line struct {
	Start Point   `json:"start"`
	End   Point   `json:"end"`
	Width float64 `json:"width,omitempty"`
}

// Length returns the segment's Euclidean length.
func (l Line) Length() float64 {
	return xy.Distance(l.Start.coord(), l.End.coord())
}

// angle returns the segment's direction normalized to [0, π), treating
// lines as non-directional.
func (l Line) angle() float64 {
	a := xy.Angle(l.Start.coord(), l.End.coord())
	if a < 0 {
		a += math.Pi
	}
	return a
}

// Midpoint returns the segment's midpoint.
func (l Line) Midpoint() Point {
	return Point{X: (l.Start.X + l.End.X) / 2, Y: (l.Start.Y + l.End.Y) / 2}
}

// Clean filters noise segments, drops duplicates in either orientation,
// merges adjacent collinear runs, and caps the result.
func Clean(lines []Line) []Line {
	filtered := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Length() < minLineLength {
			continue
		}
		if isDuplicate(filtered, l) {
			continue
		}
		filtered = append(filtered, l)
	}

	merged := mergeCollinear(filtered)
	if len(merged) > maxLines {
		merged = merged[:maxLines]
	}
	return merged
}

func isDuplicate(kept []Line, l Line) bool {
	for _, k := range kept {
		forward := xy.Distance(k.Start.coord(), l.Start.coord()) + xy.Distance(k.End.coord(), l.End.coord())
		reverse := xy.Distance(k.Start.coord(), l.End.coord()) + xy.Distance(k.End.coord(), l.Start.coord())
		if forward < duplicateTolerance || reverse < duplicateTolerance {
			return true
		}
	}
	return false
}

// collinear reports whether two segments are parallel within
// angleTolerance and b's endpoints lie within collinearDistance of a's
// infinite extension.
func collinear(a, b Line) bool {
	diff := math.Abs(a.angle() - b.angle())
	if diff > math.Pi/2 {
		diff = math.Pi - diff
	}
	if diff > angleTolerance {
		return false
	}
	return perpendicularDistance(b.Start, a) < collinearDistance &&
		perpendicularDistance(b.End, a) < collinearDistance
}

// perpendicularDistance is the distance from p to the infinite line
// through l.
func perpendicularDistance(p Point, l Line) float64 {
	length := l.Length()
	if length == 0 {
		return xy.Distance(p.coord(), l.Start.coord())
	}
	num := math.Abs((l.End.Y-l.Start.Y)*p.X - (l.End.X-l.Start.X)*p.Y +
		l.End.X*l.Start.Y - l.End.Y*l.Start.X)
	return num / length
}

// mergeCollinear folds chains of adjacent collinear segments into
// single spans, keeping the two farthest endpoints.
func mergeCollinear(lines []Line) []Line {
	if len(lines) <= 1 {
		return lines
	}

	consumed := make([]bool, len(lines))
	merged := make([]Line, 0, len(lines))

	for i := range lines {
		if consumed[i] {
			continue
		}
		current := lines[i]
		consumed[i] = true

		changed := true
		for changed {
			changed = false
			for j := range lines {
				if consumed[j] {
					continue
				}
				other := lines[j]
				if !collinear(current, other) || !adjacent(current, other) {
					continue
				}
				current = span(current, other)
				consumed[j] = true
				changed = true
			}
		}
		merged = append(merged, current)
	}
	return merged
}

func adjacent(a, b Line) bool {
	for _, p := range []Point{a.Start, a.End} {
		for _, q := range []Point{b.Start, b.End} {
			if xy.Distance(p.coord(), q.coord()) < mergeTolerance {
				return true
			}
		}
	}
	return false
}

// span returns the longest segment between any two endpoints of a and b.
func span(a, b Line) Line {
	points := []Point{a.Start, a.End, b.Start, b.End}
	best := a
	maxDist := a.Length()
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			d := xy.Distance(points[i].coord(), points[j].coord())
			if d > maxDist {
				maxDist = d
				best = Line{Start: points[i], End: points[j], Width: a.Width}
			}
		}
	}
	return best
}

// AssessQuality grades how much of the raw geometry survived cleaning.
func AssessQuality(rawCount, cleanedCount int) string {
	if cleanedCount == 0 {
		return "none"
	}
	survival := 0.0
	if rawCount > 0 {
		survival = float64(cleanedCount) / float64(rawCount)
	}
	switch {
	case survival > 0.7 && cleanedCount > 50:
		return "good"
	case survival > 0.3 && cleanedCount > 20:
		return "medium"
	default:
		return "poor"
	}
}

// Result is the cleaned geometry plus derived snap points for one page.
type Result struct {
	Lines      []Line      `json:"lines"`
	SnapPoints []SnapPoint `json:"snap_points"`
	Quality    string      `json:"quality"`
	RawCount   int         `json:"raw_count"`
	CleanCount int         `json:"clean_count"`
}

// Process cleans raw segments and derives their snap points.
func Process(raw []Line) Result {
	cleaned := Clean(raw)
	return Result{
		Lines:      cleaned,
		SnapPoints: SnapPoints(cleaned),
		Quality:    AssessQuality(len(raw), len(cleaned)),
		RawCount:   len(raw),
		CleanCount: len(cleaned),
	}
}
