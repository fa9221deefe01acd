package model

import "math"

// Point2D is a coordinate on the sheet plane, in millimeters.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Outline is a closed polygon. The closing edge from the last vertex back
// to the first is implicit.
type Outline []Point2D

// Bounds returns the axis-aligned bounding box of the outline.
func (o Outline) Bounds() (minX, minY, maxX, maxY float64) {
	if len(o) == 0 {
		return 0, 0, 0, 0
	}
	minX, maxX = o[0].X, o[0].X
	minY, maxY = o[0].Y, o[0].Y
	for _, p := range o[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}

// Width returns the bounding-box width.
func (o Outline) Width() float64 {
	minX, _, maxX, _ := o.Bounds()
	return maxX - minX
}

// Height returns the bounding-box height.
func (o Outline) Height() float64 {
	_, minY, _, maxY := o.Bounds()
	return maxY - minY
}

// Area returns the enclosed area computed by the shoelace formula.
func (o Outline) Area() float64 {
	if len(o) < 3 {
		return 0
	}
	sum := 0.0
	for i, p := range o {
		q := o[(i+1)%len(o)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(sum) / 2
}

// Contains reports whether the point lies inside the outline, using a
// ray cast along +X. Points exactly on an edge may land on either side.
func (o Outline) Contains(p Point2D) bool {
	inside := false
	n := len(o)
	for i := 0; i < n; i++ {
		a := o[i]
		b := o[(i+1)%n]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := a.X + (p.Y-a.Y)/(b.Y-a.Y)*(b.X-a.X)
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// DrillMark is a drill position recovered from a cut layout drawing.
// Depth is not stored in the drawing and is taken from the machining
// settings when a program is generated.
type DrillMark struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Diameter float64 `json:"diameter"` // mm
}

// CutLayout is the machining view of a nested sheet: the panel contours
// to cut and the drill marks found on it. It is what the G-code stage
// recovers from a DXF artifact.
type CutLayout struct {
	SheetWidth  float64     `json:"sheet_width"`  // mm
	SheetHeight float64     `json:"sheet_height"` // mm
	Contours    []Outline   `json:"contours"`
	Drills      []DrillMark `json:"drills"`
}
