// Package export renders packed sheet layouts into the files a
// furniture shop consumes: DXF drawings for the saw operator, PDF
// reports and QR label sheets for assembly, and G-code archives for
// the boring machine.
package export

import (
	"fmt"
	"math"
	"os"
	"unicode/utf8"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/yofu/dxf"
	"github.com/yofu/dxf/color"
	"github.com/yofu/dxf/drawing"
)

// Layer names follow the convention the shop's CAD viewers expect.
const (
	layerContour  = "CONTOUR"
	layerEdge     = "EDGE"
	layerDrilling = "DRILLING"
	layerText     = "TEXT"
	layerSheet    = "SHEET"
)

// AutoCAD color indices per layer.
var dxfLayers = []struct {
	name string
	aci  color.ColorNumber
}{
	{layerContour, 7},  // white/black
	{layerEdge, 1},     // red
	{layerDrilling, 5}, // blue
	{layerText, 3},     // green
	{layerSheet, 8},    // gray
}

const (
	// Edge banding marks sit this far outside the panel contour.
	edgeOffset = 2.0

	minLabelHeight = 8.0
	maxLabelHeight = 20.0
	infoTextHeight = 30.0
)

// LayoutDXF renders a packed sheet as a DXF drawing in millimeters.
// Each placed panel gets its cut contour, edge banding marks, drill
// circles and a centered label; the sheet boundary and a statistics
// block complete the drawing.
func LayoutDXF(layout model.SheetLayout) ([]byte, error) {
	if layout.SheetWidth <= 0 || layout.SheetHeight <= 0 {
		return nil, model.Errf(model.FailureInvalidInput, "layout has no sheet dimensions")
	}

	d := dxf.NewDrawing()
	for _, l := range dxfLayers {
		if _, err := d.AddLayer(l.name, l.aci, dxf.DefaultLineType, false); err != nil {
			return nil, model.WrapErr(model.FailureInternal, err, "add layer "+l.name)
		}
	}

	ld := &layoutDrawing{d: d}

	ld.layer(layerSheet)
	ld.rect(0, 0, layout.SheetWidth, layout.SheetHeight)

	for _, p := range layout.Placed {
		drawPlacedPanel(ld, p)
	}

	drawInfoBlock(ld, layout)

	if ld.err != nil {
		return nil, model.WrapErr(model.FailureInternal, ld.err, "compose drawing")
	}
	return serializeDrawing(d)
}

// layoutDrawing keeps the first drawing error so the geometry code
// reads straight through without per-entity checks.
type layoutDrawing struct {
	d   *drawing.Drawing
	err error
}

func (ld *layoutDrawing) layer(name string) {
	if ld.err != nil {
		return
	}
	ld.err = ld.d.ChangeLayer(name)
}

func (ld *layoutDrawing) rect(x, y, w, h float64) {
	if ld.err != nil {
		return
	}
	_, ld.err = ld.d.LwPolyline(true,
		[]float64{x, y},
		[]float64{x + w, y},
		[]float64{x + w, y + h},
		[]float64{x, y + h},
	)
}

func (ld *layoutDrawing) line(x1, y1, x2, y2 float64) {
	if ld.err != nil {
		return
	}
	_, ld.err = ld.d.Line(x1, y1, 0, x2, y2, 0)
}

func (ld *layoutDrawing) circle(x, y, r float64) {
	if ld.err != nil {
		return
	}
	_, ld.err = ld.d.Circle(x, y, 0, r)
}

func (ld *layoutDrawing) text(s string, x, y, h float64) {
	if ld.err != nil {
		return
	}
	_, ld.err = ld.d.Text(s, x, y, 0, h)
}

func drawPlacedPanel(ld *layoutDrawing, p model.PlacedPanel) {
	w := p.PlacedWidth()
	h := p.PlacedHeight()

	ld.layer(layerContour)
	ld.rect(p.X, p.Y, w, h)

	drawEdgeMarks(ld, p, w, h)
	drawDrillMarks(ld, p)
	drawPanelLabel(ld, p, w, h)
}

// drawEdgeMarks draws an open line just outside each banded side.
// Front maps to the left of the footprint, back to the right, top and
// bottom to the horizontal sides; the flags are not remapped when the
// panel is rotated.
func drawEdgeMarks(ld *layoutDrawing, p model.PlacedPanel, w, h float64) {
	if !p.EdgeFront && !p.EdgeBack && !p.EdgeTop && !p.EdgeBottom {
		return
	}
	ld.layer(layerEdge)
	if p.EdgeFront {
		ld.line(p.X-edgeOffset, p.Y, p.X-edgeOffset, p.Y+h)
	}
	if p.EdgeBack {
		ld.line(p.X+w+edgeOffset, p.Y, p.X+w+edgeOffset, p.Y+h)
	}
	if p.EdgeTop {
		ld.line(p.X, p.Y+h+edgeOffset, p.X+w, p.Y+h+edgeOffset)
	}
	if p.EdgeBottom {
		ld.line(p.X, p.Y-edgeOffset, p.X+w, p.Y-edgeOffset)
	}
}

// drawDrillMarks places a circle for every drilling point. Hole
// coordinates are panel-local; rotation swaps them into sheet
// coordinates the same way the packer rotated the footprint.
func drawDrillMarks(ld *layoutDrawing, p model.PlacedPanel) {
	if len(p.DrillingPoints) == 0 {
		return
	}
	ld.layer(layerDrilling)
	for _, hole := range p.DrillingPoints {
		hx, hy := hole.X, hole.Y
		if p.Rotated {
			hx, hy = hole.Y, p.Width-hole.X
		}
		ld.circle(p.X+hx, p.Y+hy, hole.Diameter/2)
	}
}

// drawPanelLabel writes the panel name and nominal dimensions at the
// center of the footprint, one TEXT entity per line.
func drawPanelLabel(ld *layoutDrawing, p model.PlacedPanel, w, h float64) {
	th := math.Min(w, h) * 0.05
	if th < minLabelHeight {
		th = minLabelHeight
	}
	if th > maxLabelHeight {
		th = maxLabelHeight
	}

	lines := []string{p.Name, fmt.Sprintf("%.0fx%.0f", p.Width, p.Height)}
	if p.Notes != "" {
		lines = append(lines, p.Notes)
	}

	ld.layer(layerText)
	cx := p.X + w/2
	cy := p.Y + h/2
	spacing := th * 1.5
	for i, line := range lines {
		y := cy + spacing*(float64(len(lines)-1)/2-float64(i)) - th/2
		ld.text(line, cx-textAdvance(line, th)/2, y, th)
	}
}

// drawInfoBlock writes sheet statistics to the right of the sheet
// boundary, top line first.
func drawInfoBlock(ld *layoutDrawing, layout model.SheetLayout) {
	lines := []string{
		fmt.Sprintf("Лист: %.0fx%.0f мм", layout.SheetWidth, layout.SheetHeight),
		fmt.Sprintf("Панелей: %d", len(layout.Placed)),
		fmt.Sprintf("Утилизация: %.1f%%", layout.UtilizationPercent),
	}
	if n := len(layout.Unplaced); n > 0 {
		lines = append(lines, fmt.Sprintf("Не размещено: %d", n))
	}

	ld.layer(layerText)
	x := layout.SheetWidth + 50
	y := layout.SheetHeight - 50
	for i, line := range lines {
		ld.text(line, x, y-float64(i)*infoTextHeight*1.5, infoTextHeight)
	}
}

// textAdvance estimates the rendered width of a TEXT entity. CAD
// viewers substitute their own fonts, so centering is approximate.
func textAdvance(s string, height float64) float64 {
	return float64(utf8.RuneCountInString(s)) * height * 0.6
}

// serializeDrawing goes through a temp file; the drawing type only
// exposes file output.
func serializeDrawing(d *drawing.Drawing) ([]byte, error) {
	f, err := os.CreateTemp("", "layout-*.dxf")
	if err != nil {
		return nil, model.WrapErr(model.FailureTransient, err, "stage drawing")
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := d.SaveAs(path); err != nil {
		return nil, model.WrapErr(model.FailureInternal, err, "write DXF")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapErr(model.FailureTransient, err, "read staged DXF")
	}
	return data, nil
}
