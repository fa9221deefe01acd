package importer

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/yofu/dxf"
	"github.com/yofu/dxf/entity"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

const (
	// chainTolerance is the endpoint distance under which loose LINE
	// and ARC segments are considered connected.
	chainTolerance = 0.01
	// maxDrillDiameter separates drill marks from round cutouts.
	// Boring bits top out at the 35mm hinge cup; larger circles are
	// milled as contours.
	maxDrillDiameter = 35.0
	// minPanelSide filters import contours too small to be a panel.
	minPanelSide = 10.0

	arcFacets    = 32
	circleFacets = 64
)

type segment struct {
	start model.Point2D
	end   model.Point2D
}

// ParseLayout reads DXF bytes and recovers the machining view of the
// drawing: closed contours to cut, circles to drill, and the sheet
// dimensions. When the largest contour encloses every other one it is
// taken as the sheet boundary and excluded from the cut list; a
// drawing without such a frame is cut as-is with the sheet sized to
// its extent.
func ParseLayout(data []byte) (model.CutLayout, error) {
	if len(data) == 0 {
		return model.CutLayout{}, model.Errf(model.FailureInvalidInput, "empty drawing")
	}

	// The DXF reader only opens files, so the bytes are staged in a
	// temp file for the duration of the parse.
	tmp, err := os.CreateTemp("", "layout-*.dxf")
	if err != nil {
		return model.CutLayout{}, model.WrapErr(model.FailureTransient, err, "stage drawing for parse")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return model.CutLayout{}, model.WrapErr(model.FailureTransient, err, "stage drawing for parse")
	}
	if err := tmp.Close(); err != nil {
		return model.CutLayout{}, model.WrapErr(model.FailureTransient, err, "stage drawing for parse")
	}

	drawing, err := dxf.Open(tmp.Name())
	if err != nil {
		return model.CutLayout{}, model.WrapErr(model.FailureInvalidInput, err, "parse DXF")
	}

	var (
		contours []model.Outline
		drills   []model.DrillMark
		segments []segment
	)

	for _, e := range drawing.Entities() {
		switch ent := e.(type) {
		case *entity.LwPolyline:
			if outline := lwPolylineToOutline(ent); len(outline) >= 3 {
				contours = append(contours, outline)
			}
		case *entity.Circle:
			if d := ent.Radius * 2; d <= maxDrillDiameter {
				drills = append(drills, model.DrillMark{X: ent.Center[0], Y: ent.Center[1], Diameter: d})
			} else {
				contours = append(contours, circleOutline(ent, circleFacets))
			}
		case *entity.Arc:
			segments = append(segments, pointsToSegments(arcToPoints(ent, arcFacets))...)
		case *entity.Line:
			segments = append(segments, segment{
				start: model.Point2D{X: ent.Start[0], Y: ent.Start[1]},
				end:   model.Point2D{X: ent.End[0], Y: ent.End[1]},
			})
		}
	}

	// Loose segments that close into a loop are contours too. Open
	// chains are edge-banding marks and dimension leaders; dropped.
	contours = append(contours, chainSegments(segments, chainTolerance)...)

	if len(contours) == 0 && len(drills) == 0 {
		return model.CutLayout{}, model.Errf(model.FailureInvalidInput, "drawing has no machinable entities")
	}

	sort.SliceStable(contours, func(i, j int) bool {
		return contours[i].Area() > contours[j].Area()
	})

	layout := model.CutLayout{Drills: drills}
	if len(contours) >= 2 && enclosesAll(contours[0], contours[1:]) {
		minX, minY, maxX, maxY := contours[0].Bounds()
		layout.SheetWidth = maxX - minX
		layout.SheetHeight = maxY - minY
		layout.Contours = contours[1:]
	} else {
		layout.Contours = contours
		layout.SheetWidth, layout.SheetHeight = extentOf(contours, drills)
	}

	return layout, nil
}

// ImportPanelsDXF recovers a cut list from a layout drawing: every cut
// contour becomes a panel sized by its bounding box, with the drill
// marks inside it as face drillings relative to the panel corner. A
// contour nested in a larger panel is a cutout, not a second panel.
// Shape beyond the bounding box is not preserved.
func ImportPanelsDXF(data []byte) ImportResult {
	layout, err := ParseLayout(data)
	if err != nil {
		return ImportResult{Errors: []string{err.Error()}}
	}

	type box struct{ minX, minY, maxX, maxY float64 }
	var (
		result ImportResult
		taken  []box
	)
	claimed := make([]bool, len(layout.Drills))

	// Contours arrive sorted largest first, so enclosing panels are
	// registered before anything nested in them.
	for _, c := range layout.Contours {
		minX, minY, maxX, maxY := c.Bounds()
		w, h := maxX-minX, maxY-minY

		if w < minPanelSide || h < minPanelSide {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%.0fx%.0f contour is too small for a panel, skipped", w, h))
			continue
		}
		nested := false
		for _, b := range taken {
			if minX >= b.minX && minY >= b.minY && maxX <= b.maxX && maxY <= b.maxY {
				nested = true
				break
			}
		}
		if nested {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%.0fx%.0f contour sits inside another panel, treated as a cutout", w, h))
			continue
		}
		taken = append(taken, box{minX, minY, maxX, maxY})

		panel := model.NewPanel(fmt.Sprintf("Панель %d", len(result.Panels)+1), w, h, defaultThickness)
		for i, d := range layout.Drills {
			if claimed[i] || d.X < minX || d.X > maxX || d.Y < minY || d.Y > maxY {
				continue
			}
			claimed[i] = true
			panel.DrillingPoints = append(panel.DrillingPoints, model.DrillPoint{
				X:        d.X - minX,
				Y:        d.Y - minY,
				Diameter: d.Diameter,
				Depth:    defaultDrillDepth,
				Side:     model.SideFace,
			})
		}
		result.Panels = append(result.Panels, panel)
	}

	for i, d := range layout.Drills {
		if !claimed[i] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("drill D%.0f at %.0f,%.0f lies outside every panel", d.Diameter, d.X, d.Y))
		}
	}
	if len(result.Panels) == 0 {
		result.Errors = append(result.Errors, "drawing has no panel-sized contours")
	}
	return result
}

// lwPolylineToOutline converts polyline vertices to an outline,
// interpolating bulge values into arc points.
func lwPolylineToOutline(lw *entity.LwPolyline) model.Outline {
	n := len(lw.Vertices)
	outline := make(model.Outline, 0, n)

	for i, v := range lw.Vertices {
		if len(v) < 2 {
			continue
		}
		pt := model.Point2D{X: v[0], Y: v[1]}
		outline = append(outline, pt)

		if i < len(lw.Bulges) && lw.Bulges[i] != 0 {
			next := lw.Vertices[(i+1)%n]
			if len(next) >= 2 {
				to := model.Point2D{X: next[0], Y: next[1]}
				outline = append(outline, bulgeArcPoints(pt, to, lw.Bulges[i], arcFacets)...)
			}
		}
	}

	if len(outline) >= 2 && pointsClose(outline[0], outline[len(outline)-1], chainTolerance) {
		outline = outline[:len(outline)-1]
	}
	return outline
}

// bulgeArcPoints interpolates the arc between two polyline vertices.
// The bulge is tan(theta/4), negative for clockwise arcs; the returned
// points exclude both endpoints.
func bulgeArcPoints(from, to model.Point2D, bulge float64, facets int) []model.Point2D {
	chordX := to.X - from.X
	chordY := to.Y - from.Y
	chord := math.Hypot(chordX, chordY)
	if chord < 1e-9 {
		return nil
	}

	theta := 4 * math.Atan(math.Abs(bulge))
	radius := chord / (2 * math.Sin(theta/2))
	sagitta := math.Abs(bulge) * chord / 2

	// Unit normal pointing from the chord midpoint toward the center:
	// left of the chord for counterclockwise arcs, right for clockwise.
	nx := -chordY / chord
	ny := chordX / chord
	if bulge < 0 {
		nx, ny = -nx, -ny
	}

	cx := (from.X+to.X)/2 + nx*(radius-sagitta)
	cy := (from.Y+to.Y)/2 + ny*(radius-sagitta)

	startAngle := math.Atan2(from.Y-cy, from.X-cx)
	sweep := theta
	if bulge < 0 {
		sweep = -theta
	}

	pts := make([]model.Point2D, 0, facets-1)
	for i := 1; i < facets; i++ {
		a := startAngle + sweep*float64(i)/float64(facets)
		pts = append(pts, model.Point2D{X: cx + radius*math.Cos(a), Y: cy + radius*math.Sin(a)})
	}
	return pts
}

func circleOutline(c *entity.Circle, facets int) model.Outline {
	outline := make(model.Outline, 0, facets)
	for i := 0; i < facets; i++ {
		a := 2 * math.Pi * float64(i) / float64(facets)
		outline = append(outline, model.Point2D{
			X: c.Center[0] + c.Radius*math.Cos(a),
			Y: c.Center[1] + c.Radius*math.Sin(a),
		})
	}
	return outline
}

// arcToPoints flattens an ARC entity. Angles are stored in degrees
// with the end angle possibly wrapped past 360.
func arcToPoints(a *entity.Arc, facets int) []model.Point2D {
	return arcPoints(a.Circle.Center[0], a.Circle.Center[1], a.Circle.Radius, a.Angle[0], a.Angle[1], facets)
}

func arcPoints(cx, cy, r, startDeg, endDeg float64, facets int) []model.Point2D {
	start := startDeg * math.Pi / 180
	end := endDeg * math.Pi / 180
	if end <= start {
		end += 2 * math.Pi
	}

	pts := make([]model.Point2D, 0, facets+1)
	for i := 0; i <= facets; i++ {
		ang := start + (end-start)*float64(i)/float64(facets)
		pts = append(pts, model.Point2D{X: cx + r*math.Cos(ang), Y: cy + r*math.Sin(ang)})
	}
	return pts
}

func pointsToSegments(pts []model.Point2D) []segment {
	if len(pts) < 2 {
		return nil
	}
	segs := make([]segment, 0, len(pts)-1)
	for i := 0; i < len(pts)-1; i++ {
		segs = append(segs, segment{start: pts[i], end: pts[i+1]})
	}
	return segs
}

// chainSegments greedily connects loose segments end-to-end and
// returns the chains that close into loops, without the duplicate
// closing point.
func chainSegments(segs []segment, tol float64) []model.Outline {
	used := make([]bool, len(segs))
	var outlines []model.Outline

	for i := range segs {
		if used[i] {
			continue
		}
		used[i] = true
		chain := model.Outline{segs[i].start, segs[i].end}

		for {
			tail := chain[len(chain)-1]
			found := false
			for j := range segs {
				if used[j] {
					continue
				}
				if pointsClose(segs[j].start, tail, tol) {
					chain = append(chain, segs[j].end)
					used[j] = true
					found = true
					break
				}
				if pointsClose(segs[j].end, tail, tol) {
					chain = append(chain, segs[j].start)
					used[j] = true
					found = true
					break
				}
			}
			if !found || pointsClose(chain[0], chain[len(chain)-1], tol) {
				break
			}
		}

		if len(chain) >= 4 && pointsClose(chain[0], chain[len(chain)-1], tol) {
			outlines = append(outlines, chain[:len(chain)-1])
		}
	}

	return outlines
}

func pointsClose(a, b model.Point2D, tol float64) bool {
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol
}

func enclosesAll(outer model.Outline, rest []model.Outline) bool {
	const tol = 1e-6
	outMinX, outMinY, outMaxX, outMaxY := outer.Bounds()
	for _, c := range rest {
		minX, minY, maxX, maxY := c.Bounds()
		if minX < outMinX-tol || minY < outMinY-tol || maxX > outMaxX+tol || maxY > outMaxY+tol {
			return false
		}
	}
	return true
}

// extentOf sizes a sheet for a drawing without an explicit boundary,
// measuring from the origin the way generated layouts are anchored.
func extentOf(contours []model.Outline, drills []model.DrillMark) (float64, float64) {
	var w, h float64
	for _, c := range contours {
		_, _, maxX, maxY := c.Bounds()
		w = math.Max(w, maxX)
		h = math.Max(h, maxY)
	}
	for _, d := range drills {
		w = math.Max(w, d.X+d.Diameter/2)
		h = math.Max(h, d.Y+d.Diameter/2)
	}
	return w, h
}
