// Package geometry provides the fixed reference coordinate space and the 2D
// primitives used by the occupancy counter. All zone and line geometry is
// stored and compared in reference space; any display-space conversion is the
// rendering layer's problem, not ours.
package geometry

import (
	"encoding/json"
	"fmt"
)

// Point is a position in reference space. It marshals to a two-element
// [x, y] JSON array, the wire format the UI speaks.
type Point struct {
	X float64
	Y float64
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes a two-element [x, y] array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 2 {
		return fmt.Errorf("point must be a two-element [x, y] array, got %d elements", len(arr))
	}
	p.X, p.Y = arr[0], arr[1]
	return nil
}

// Rect is an axis-aligned rectangle defined by its top-left and bottom-right
// corners. Membership tests are inclusive of the boundary.
type Rect struct {
	TopLeft     Point `json:"top_left"`
	BottomRight Point `json:"bottom_right"`
}

// Contains reports whether p lies inside the rectangle, boundary included.
func (r Rect) Contains(p Point) bool {
	return r.TopLeft.X <= p.X && p.X <= r.BottomRight.X &&
		r.TopLeft.Y <= p.Y && p.Y <= r.BottomRight.Y
}

// Segment is a directed line segment from Start to End. The direction
// defines the crossing polarity: for a left-to-right segment in the y-down
// reference space, points above the line are on the positive side, and a
// track moving from positive to negative (downward) crosses IN.
type Segment struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Side returns the sign of the 2D cross product between the vector from
// Start to p and the segment's direction vector: +1 on the positive side,
// -1 on the negative side, 0 exactly on the carrying line.
func (s Segment) Side(p Point) int {
	dx := s.End.X - s.Start.X
	dy := s.End.Y - s.Start.Y
	px := p.X - s.Start.X
	py := p.Y - s.Start.Y
	cross := px*dy - py*dx
	switch {
	case cross > 0:
		return 1
	case cross < 0:
		return -1
	default:
		return 0
	}
}

// Space is the fixed reference coordinate space, a declared width by height.
// Geometry outside the space is rejected at definition time, never clamped.
type Space struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// InBounds reports whether p lies within the space, boundary included.
func (sp Space) InBounds(p Point) bool {
	return p.X >= 0 && p.X <= sp.Width && p.Y >= 0 && p.Y <= sp.Height
}

// ValidateRect checks that the rectangle lies within the space and has
// strictly positive width and height.
func (sp Space) ValidateRect(r Rect) error {
	if !sp.InBounds(r.TopLeft) || !sp.InBounds(r.BottomRight) {
		return fmt.Errorf("rectangle [%g,%g]-[%g,%g] outside %gx%g reference space",
			r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y, sp.Width, sp.Height)
	}
	if r.TopLeft.X >= r.BottomRight.X || r.TopLeft.Y >= r.BottomRight.Y {
		return fmt.Errorf("degenerate rectangle: top_left [%g,%g] must be strictly above and left of bottom_right [%g,%g]",
			r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y)
	}
	return nil
}

// ValidateSegment checks that the segment lies within the space and has
// non-zero length.
func (sp Space) ValidateSegment(s Segment) error {
	if !sp.InBounds(s.Start) || !sp.InBounds(s.End) {
		return fmt.Errorf("segment [%g,%g]-[%g,%g] outside %gx%g reference space",
			s.Start.X, s.Start.Y, s.End.X, s.End.Y, sp.Width, sp.Height)
	}
	if s.Start == s.End {
		return fmt.Errorf("degenerate segment: start and end are both [%g,%g]", s.Start.X, s.Start.Y)
	}
	return nil
}
