package vectors

import (
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
)

const (
	// Points closer together than this collapse into one snap point.
	snapDedupeTolerance = 2.0
	// Pairwise intersection is quadratic; cap the lines it considers.
	maxIntersectionLines = 500
)

// SnapPoint is a cursor magnet derived from the cleaned geometry.
type SnapPoint struct {
	Type  string `json:"type"`
	Point Point  `json:"point"`
}

const (
	SnapEndpoint     = "endpoint"
	SnapMidpoint     = "midpoint"
	SnapIntersection = "intersection"
)

// SnapPoints derives endpoints, midpoints, and pairwise intersections
// from cleaned lines, deduplicated within snapDedupeTolerance.
// Endpoints win over midpoints, midpoints over intersections.
func SnapPoints(lines []Line) []SnapPoint {
	points := make([]SnapPoint, 0, len(lines)*3)
	for _, l := range lines {
		points = append(points,
			SnapPoint{Type: SnapEndpoint, Point: l.Start},
			SnapPoint{Type: SnapEndpoint, Point: l.End},
		)
	}
	for _, l := range lines {
		points = append(points, SnapPoint{Type: SnapMidpoint, Point: l.Midpoint()})
	}

	capped := lines
	if len(capped) > maxIntersectionLines {
		capped = capped[:maxIntersectionLines]
	}
	for i := range capped {
		for j := i + 1; j < len(capped); j++ {
			if p, ok := intersection(capped[i], capped[j]); ok {
				points = append(points, SnapPoint{Type: SnapIntersection, Point: p})
			}
		}
	}

	return dedupePoints(points)
}

// intersection returns the point where two segments cross, if any.
func intersection(a, b Line) (Point, bool) {
	result := lineintersector.LineIntersectsLine(
		lineintersector.RobustLineIntersector{},
		a.Start.coord(), a.End.coord(),
		b.Start.coord(), b.End.coord(),
	)
	if !result.HasIntersection() {
		return Point{}, false
	}
	c := result.Intersection()[0]
	return Point{X: c.X(), Y: c.Y()}, true
}

// dedupePoints keeps the first point seen within snapDedupeTolerance of
// any cluster. Input ordering makes that the highest-priority type.
func dedupePoints(points []SnapPoint) []SnapPoint {
	kept := make([]SnapPoint, 0, len(points))
	for _, p := range points {
		dup := false
		for _, k := range kept {
			if xy.Distance(p.Point.coord(), k.Point.coord()) < snapDedupeTolerance {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, p)
		}
	}
	return kept
}
