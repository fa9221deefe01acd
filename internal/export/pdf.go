package export

import (
	"bytes"
	"fmt"
	"math"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// partColor represents an RGB fill color for a placed panel.
type partColor struct {
	R, G, B int
}

// partColors is cycled across panels so neighbours stay
// distinguishable in the diagram.
var partColors = []partColor{
	{R: 76, G: 175, B: 80},  // green
	{R: 33, G: 150, B: 243}, // blue
	{R: 255, G: 152, B: 0},  // orange
	{R: 156, G: 39, B: 176}, // purple
	{R: 0, G: 188, B: 212},  // cyan
	{R: 244, G: 67, B: 54},  // red
	{R: 255, G: 235, B: 59}, // yellow
	{R: 121, G: 85, B: 72},  // brown
}

// Page layout constants (A4 landscape in mm).
const (
	pageWidth    = 297.0
	pageHeight   = 210.0
	marginLeft   = 15.0
	marginRight  = 15.0
	marginTop    = 15.0
	marginBottom = 15.0
	headerHeight = 12.0
	statsHeight  = 20.0
	drawAreaTop  = marginTop + headerHeight + 5.0
)

// LayoutPDF renders a cut layout report: a scaled diagram of the
// packed sheet followed by a summary page with panel, offcut and
// machine setting details.
func LayoutPDF(layout model.SheetLayout, settings model.EffectiveSettings) ([]byte, error) {
	if layout.SheetWidth <= 0 || layout.SheetHeight <= 0 {
		return nil, model.Errf(model.FailureInvalidInput, "layout has no sheet dimensions")
	}

	doc := newDoc("L", "A4")
	doc.SetAutoPageBreak(false, marginBottom)

	doc.AddPage()
	renderLayoutPage(doc, layout)

	doc.AddPage()
	renderSummaryPage(doc, layout, settings)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, model.WrapErr(model.FailureInternal, err, "render PDF")
	}
	return buf.Bytes(), nil
}

// renderLayoutPage draws the packed sheet on the current PDF page.
func renderLayoutPage(doc *pdfDoc, layout model.SheetLayout) {
	// Title
	doc.font("B", 14)
	doc.SetXY(marginLeft, marginTop)
	title := fmt.Sprintf("Cut Layout: %.0f x %.0f mm", layout.SheetWidth, layout.SheetHeight)
	if layout.Strategy != "" {
		title += fmt.Sprintf(" (%s)", layout.Strategy)
	}
	doc.CellFormat(pageWidth-marginLeft-marginRight, headerHeight, title, "", 0, "L", false, 0, "")

	// Stats line
	doc.font("", 10)
	doc.SetXY(marginLeft, marginTop+headerHeight)
	stats := fmt.Sprintf("Panels: %d | Used area: %.0f mm² | Total area: %.0f mm² | Utilization: %.1f%%",
		len(layout.Placed), layout.PlacedArea(), layout.SheetWidth*layout.SheetHeight, layout.UtilizationPercent)
	doc.CellFormat(pageWidth-marginLeft-marginRight, 5, stats, "", 0, "L", false, 0, "")

	// Calculate drawing area
	drawWidth := pageWidth - marginLeft - marginRight
	drawHeight := pageHeight - drawAreaTop - marginBottom - statsHeight

	// Calculate scale to fit the sheet within the drawing area
	scaleX := drawWidth / layout.SheetWidth
	scaleY := drawHeight / layout.SheetHeight
	scale := math.Min(scaleX, scaleY)

	canvasW := layout.SheetWidth * scale
	canvasH := layout.SheetHeight * scale

	// Center the drawing horizontally
	offsetX := marginLeft + (drawWidth-canvasW)/2
	offsetY := drawAreaTop

	// Draw sheet background (wood color)
	doc.SetFillColor(210, 180, 140)
	doc.SetDrawColor(100, 100, 100)
	doc.SetLineWidth(0.5)
	doc.Rect(offsetX, offsetY, canvasW, canvasH, "FD")

	// Usable offcuts, hatched
	drawOffcuts(doc, layout.Offcuts, scale, offsetX, offsetY)

	// Draw placed panels
	for i, p := range layout.Placed {
		col := partColors[i%len(partColors)]
		pw := p.PlacedWidth() * scale
		ph := p.PlacedHeight() * scale
		px := offsetX + p.X*scale
		py := offsetY + p.Y*scale

		// Panel fill
		doc.SetFillColor(col.R, col.G, col.B)
		doc.SetDrawColor(30, 30, 30)
		doc.SetLineWidth(0.3)
		doc.Rect(px, py, pw, ph, "FD")

		// Panel label (only if rectangle is large enough)
		if pw > 15 && ph > 8 {
			doc.font("", labelFontSize(pw, ph))
			doc.SetTextColor(0, 0, 0)

			label := doc.display(p.Name)
			dims := fmt.Sprintf("%.0fx%.0f", p.Width, p.Height)

			// Draw label centered in the panel rectangle
			labelW := doc.GetStringWidth(label)
			dimsW := doc.GetStringWidth(dims)

			// First line: name
			if labelW < pw-2 {
				doc.SetXY(px+(pw-labelW)/2, py+ph/2-4)
				doc.CellFormat(labelW, 4, label, "", 0, "C", false, 0, "")
			}

			// Second line: dimensions
			if ph > 14 && dimsW < pw-2 {
				doc.SetXY(px+(pw-dimsW)/2, py+ph/2)
				doc.CellFormat(dimsW, 4, dims, "", 0, "C", false, 0, "")
			}
		}
	}

	// Dimension annotations along the edges
	drawDimensionAnnotations(doc, layout, scale, offsetX, offsetY, canvasW, canvasH)

	// Panel legend at bottom of page
	drawPanelLegend(doc, layout, offsetY+canvasH+5)
}

// drawOffcuts renders reusable leftover rectangles with a light green
// fill and diagonal hatching.
func drawOffcuts(doc *pdfDoc, offcuts []model.Offcut, scale, offsetX, offsetY float64) {
	for _, o := range offcuts {
		zx := offsetX + o.X*scale
		zy := offsetY + o.Y*scale
		zw := o.Width * scale
		zh := o.Height * scale

		doc.SetFillColor(220, 240, 220)
		doc.SetDrawColor(0, 130, 0)
		doc.SetLineWidth(0.3)
		doc.Rect(zx, zy, zw, zh, "FD")

		drawHatchPattern(doc, zx, zy, zw, zh)

		// Label for larger offcuts
		if zw > 20 && zh > 8 {
			doc.font("B", 6)
			doc.SetTextColor(0, 110, 0)
			label := fmt.Sprintf("%.0fx%.0f", o.Width, o.Height)
			labelW := doc.GetStringWidth(label)
			doc.SetXY(zx+(zw-labelW)/2, zy+zh/2-2)
			doc.CellFormat(labelW, 4, label, "", 0, "C", false, 0, "")
		}
	}

	// Reset text color
	doc.SetTextColor(0, 0, 0)
}

// drawHatchPattern draws diagonal lines inside a rectangle to mark
// offcut zones.
func drawHatchPattern(doc *pdfDoc, x, y, w, h float64) {
	doc.SetDrawColor(0, 130, 0)
	doc.SetLineWidth(0.15)

	spacing := 4.0
	maxDist := w + h

	for d := spacing; d < maxDist; d += spacing {
		// Line from bottom-left to top-right diagonal
		x1 := x + math.Max(0, d-h)
		y1 := y + math.Min(h, d)
		x2 := x + math.Min(w, d)
		y2 := y + math.Max(0, d-w)

		doc.Line(x1, y1, x2, y2)
	}
}

// drawDimensionAnnotations adds width and height labels outside the
// sheet rectangle.
func drawDimensionAnnotations(doc *pdfDoc, layout model.SheetLayout, scale, offsetX, offsetY, canvasW, canvasH float64) {
	doc.font("", 8)
	doc.SetTextColor(80, 80, 80)

	// Width annotation (below the sheet)
	widthLabel := fmt.Sprintf("%.0f mm", layout.SheetWidth)
	wLabelW := doc.GetStringWidth(widthLabel)
	doc.SetXY(offsetX+(canvasW-wLabelW)/2, offsetY+canvasH+1)
	doc.CellFormat(wLabelW, 4, widthLabel, "", 0, "C", false, 0, "")

	// Height annotation (to the left of the sheet, rotated)
	heightLabel := fmt.Sprintf("%.0f mm", layout.SheetHeight)
	doc.TransformBegin()
	doc.TransformRotate(90, offsetX-3, offsetY+canvasH/2)
	hLabelW := doc.GetStringWidth(heightLabel)
	doc.SetXY(offsetX-3-hLabelW/2, offsetY+canvasH/2-2)
	doc.CellFormat(hLabelW, 4, heightLabel, "", 0, "C", false, 0, "")
	doc.TransformEnd()

	// Reset text color
	doc.SetTextColor(0, 0, 0)
}

// drawPanelLegend renders a compact legend of placed panels at the
// bottom of the layout page.
func drawPanelLegend(doc *pdfDoc, layout model.SheetLayout, startY float64) {
	if len(layout.Placed) == 0 {
		return
	}

	doc.font("B", 8)
	doc.SetTextColor(0, 0, 0)
	doc.SetXY(marginLeft, startY)
	doc.CellFormat(30, 4, "Panels placed:", "", 0, "L", false, 0, "")

	doc.font("", 7)
	xPos := marginLeft + 32
	maxX := pageWidth - marginRight

	for i, p := range layout.Placed {
		col := partColors[i%len(partColors)]
		label := fmt.Sprintf("%s (%.0fx%.0f)", doc.display(p.Name), p.Width, p.Height)
		if p.Rotated {
			label += " R"
		}
		labelW := doc.GetStringWidth(label) + 6

		// Wrap to next line if needed
		if xPos+labelW > maxX {
			startY += 5
			xPos = marginLeft
		}

		// Color swatch
		doc.SetFillColor(col.R, col.G, col.B)
		doc.Rect(xPos, startY+0.5, 3, 3, "F")

		// Label text
		doc.SetXY(xPos+4, startY)
		doc.CellFormat(labelW-4, 4, label, "", 0, "L", false, 0, "")

		xPos += labelW + 2
	}
}

// renderSummaryPage draws the summary page with statistics, the panel
// table and the machine settings.
func renderSummaryPage(doc *pdfDoc, layout model.SheetLayout, settings model.EffectiveSettings) {
	// Title
	doc.font("B", 16)
	doc.SetXY(marginLeft, marginTop)
	doc.CellFormat(pageWidth-marginLeft-marginRight, 10, "Cut Layout Summary", "", 0, "L", false, 0, "")

	// Separator line
	doc.SetDrawColor(0, 0, 0)
	doc.SetLineWidth(0.5)
	doc.Line(marginLeft, marginTop+12, pageWidth-marginRight, marginTop+12)

	y := marginTop + 18.0

	// Overall statistics
	doc.font("B", 12)
	doc.SetXY(marginLeft, y)
	doc.CellFormat(100, 7, "Overall Statistics", "", 0, "L", false, 0, "")
	y += 9

	offcutArea := 0.0
	for _, o := range layout.Offcuts {
		offcutArea += o.AreaM2()
	}

	summaryItems := []struct {
		label string
		value string
	}{
		{"Sheet Size", fmt.Sprintf("%.0f x %.0f mm", layout.SheetWidth, layout.SheetHeight)},
		{"Panels Placed", fmt.Sprintf("%d", len(layout.Placed))},
		{"Utilization", fmt.Sprintf("%.1f%%", layout.UtilizationPercent)},
		{"Usable Offcuts", fmt.Sprintf("%d (%.2f m²)", len(layout.Offcuts), offcutArea)},
		{"Unplaced Panels", fmt.Sprintf("%d", len(layout.Unplaced))},
	}

	doc.font("", 10)
	for _, item := range summaryItems {
		doc.SetXY(marginLeft+5, y)
		doc.CellFormat(60, 6, item.label+":", "", 0, "L", false, 0, "")
		doc.font("B", 10)
		doc.CellFormat(40, 6, item.value, "", 0, "L", false, 0, "")
		doc.font("", 10)
		y += 7
	}

	y += 5

	// Panel table
	doc.font("B", 12)
	doc.SetXY(marginLeft, y)
	doc.CellFormat(100, 7, "Placed Panels", "", 0, "L", false, 0, "")
	y += 9

	// Table header
	colWidths := []float64{12, 80, 45, 55, 25}
	headers := []string{"#", "Panel", "Size", "Position", "Rotated"}

	doc.font("B", 9)
	doc.SetFillColor(230, 230, 230)
	xPos := marginLeft
	for i, header := range headers {
		doc.SetXY(xPos, y)
		doc.CellFormat(colWidths[i], 6, header, "1", 0, "C", true, 0, "")
		xPos += colWidths[i]
	}
	y += 6

	// Table rows
	doc.font("", 9)
	for i, p := range layout.Placed {
		xPos = marginLeft
		rotated := "-"
		if p.Rotated {
			rotated = "yes"
		}
		rowData := []string{
			fmt.Sprintf("%d", i+1),
			doc.display(p.Name),
			fmt.Sprintf("%.0f x %.0f mm", p.Width, p.Height),
			fmt.Sprintf("(%.0f, %.0f)", p.X, p.Y),
			rotated,
		}

		// Alternate row background
		if i%2 == 0 {
			doc.SetFillColor(245, 245, 245)
		} else {
			doc.SetFillColor(255, 255, 255)
		}

		for j, cell := range rowData {
			doc.SetXY(xPos, y)
			doc.CellFormat(colWidths[j], 6, cell, "1", 0, "C", true, 0, "")
			xPos += colWidths[j]
		}
		y += 6
	}

	// Unplaced panels warning
	if len(layout.Unplaced) > 0 {
		y += 8
		doc.font("B", 11)
		doc.SetTextColor(200, 0, 0)
		doc.SetXY(marginLeft, y)
		doc.CellFormat(200, 7, "WARNING: Unplaced Panels", "", 0, "L", false, 0, "")
		y += 8

		doc.font("", 9)
		doc.SetTextColor(0, 0, 0)

		for _, p := range layout.Unplaced {
			doc.SetXY(marginLeft+5, y)
			text := fmt.Sprintf("- %s: %.0f x %.0f mm", doc.display(p.Name), p.Width, p.Height)
			doc.CellFormat(200, 5, text, "", 0, "L", false, 0, "")
			y += 5
		}
	}

	// Machine settings summary
	y += 8
	doc.font("B", 12)
	doc.SetTextColor(0, 0, 0)
	doc.SetXY(marginLeft, y)
	doc.CellFormat(100, 7, "Machine Settings", "", 0, "L", false, 0, "")
	y += 9

	settingsItems := []struct {
		label string
		value string
	}{
		{"Machine Profile", settings.MachineProfile},
		{"Sheet Gap", fmt.Sprintf("%.1f mm", settings.Gap)},
		{"Tool Diameter", fmt.Sprintf("%.1f mm", settings.ToolDiameter)},
		{"Cut Depth", fmt.Sprintf("%.1f mm", settings.CutDepth)},
		{"Step Down", fmt.Sprintf("%.1f mm", settings.StepDown)},
		{"Cutting Feed", fmt.Sprintf("%.0f mm/min", settings.FeedCutting)},
		{"Spindle Speed", fmt.Sprintf("%d rpm", settings.SpindleSpeed)},
	}

	doc.font("", 9)
	for _, item := range settingsItems {
		doc.SetXY(marginLeft+5, y)
		doc.CellFormat(50, 5, item.label+":", "", 0, "L", false, 0, "")
		doc.CellFormat(30, 5, item.value, "", 0, "L", false, 0, "")
		y += 5
	}

	// Footer
	doc.font("I", 8)
	doc.SetTextColor(120, 120, 120)
	doc.SetXY(marginLeft, pageHeight-marginBottom)
	doc.CellFormat(pageWidth-marginLeft-marginRight, 4, "Generated by AvtoRaskroy - furniture cutting service", "", 0, "C", false, 0, "")
}

// labelFontSize returns an appropriate font size based on the
// rectangle dimensions.
func labelFontSize(w, h float64) float64 {
	minDim := math.Min(w, h)
	switch {
	case minDim > 40:
		return 8
	case minDim > 20:
		return 7
	default:
		return 6
	}
}
