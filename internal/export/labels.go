package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/go-pdf/fpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// LabelInfo holds the data encoded into each panel label's QR code.
type LabelInfo struct {
	PanelName string  `json:"name"`
	Width     float64 `json:"width_mm"`
	Height    float64 `json:"height_mm"`
	Material  string  `json:"material,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
	Rotated   bool    `json:"rotated"`
	X         float64 `json:"x_mm"`
	Y         float64 `json:"y_mm"`

	// placed is set when the label came from a packed layout and the
	// position line is meaningful.
	placed bool
}

// Label layout constants for Avery 5160-compatible labels (3 columns, 10 rows per page).
// Each label cell is approximately 66.7mm x 25.4mm on US Letter paper.
const (
	labelPageWidth  = 215.9 // US Letter width in mm
	labelPageHeight = 279.4 // US Letter height in mm
	labelMarginTop  = 12.7  // mm
	labelMarginLeft = 4.8   // mm
	labelWidth      = 66.7  // mm per label
	labelHeight     = 25.4  // mm per label
	labelCols       = 3
	labelRows       = 10
	labelsPerPage   = labelCols * labelRows
	qrSize          = 20.0 // QR code size in mm
	labelPadding    = 2.0  // mm internal padding
)

// PanelLabels generates a PDF of QR-coded stickers for every placed
// panel. Each label contains the panel name, dimensions and sheet
// position, and a QR code encoding the same metadata as JSON. Labels
// are laid out on a standard label sheet format (Avery 5160 / 3
// columns x 10 rows on US Letter).
func PanelLabels(layout model.SheetLayout, orderID string) ([]byte, error) {
	labels := CollectLabelInfos(layout, orderID)
	if len(labels) == 0 {
		return nil, model.Errf(model.FailureInvalidInput, "no panels placed to label")
	}
	return renderLabelSheet(labels)
}

// PanelListLabels renders the same stickers for a bare panel list,
// used by drilling bundles where sheet positions are not known.
func PanelListLabels(panels []model.Panel, orderID string) ([]byte, error) {
	if len(panels) == 0 {
		return nil, model.Errf(model.FailureInvalidInput, "no panels to label")
	}
	labels := make([]LabelInfo, 0, len(panels))
	for _, p := range panels {
		labels = append(labels, LabelInfo{
			PanelName: p.Name,
			Width:     p.Width,
			Height:    p.Height,
			Material:  p.Material,
			OrderID:   orderID,
		})
	}
	return renderLabelSheet(labels)
}

func renderLabelSheet(labels []LabelInfo) ([]byte, error) {
	doc := newDoc("P", "Letter")
	doc.SetAutoPageBreak(false, 0)

	for i, label := range labels {
		// Add new page when needed
		if i%labelsPerPage == 0 {
			doc.AddPage()
		}

		posOnPage := i % labelsPerPage
		col := posOnPage % labelCols
		row := posOnPage / labelCols

		x := labelMarginLeft + float64(col)*labelWidth
		y := labelMarginTop + float64(row)*labelHeight

		if err := renderLabel(doc, x, y, i, label); err != nil {
			return nil, fmt.Errorf("label for %q: %w", label.PanelName, err)
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, model.WrapErr(model.FailureInternal, err, "render labels PDF")
	}
	return buf.Bytes(), nil
}

// renderLabel draws a single label at the given position.
func renderLabel(doc *pdfDoc, x, y float64, idx int, info LabelInfo) error {
	// Draw light border for cutting guide
	doc.SetDrawColor(200, 200, 200)
	doc.SetLineWidth(0.1)
	doc.Rect(x, y, labelWidth, labelHeight, "D")

	// Generate QR code PNG bytes
	qrData, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal label info: %w", err)
	}

	qrPNG, err := qrcode.Encode(string(qrData), qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}

	// Register QR image with a unique name
	imgName := fmt.Sprintf("qr_%d", idx)
	doc.RegisterImageOptionsReader(imgName, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(qrPNG))

	// Place QR code on the right side of the label
	qrX := x + labelWidth - qrSize - labelPadding
	qrY := y + (labelHeight-qrSize)/2
	doc.ImageOptions(imgName, qrX, qrY, qrSize, qrSize, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	// Text area (left side of label)
	textX := x + labelPadding
	textW := labelWidth - qrSize - 3*labelPadding

	// Panel name (bold, larger)
	doc.font("B", 9)
	doc.SetTextColor(0, 0, 0)
	doc.SetXY(textX, y+labelPadding)

	// Truncate name if too long
	name := doc.display(info.PanelName)
	if doc.GetStringWidth(name) > textW {
		runes := []rune(name)
		for len(runes) > 0 && doc.GetStringWidth(string(runes)+"...") > textW {
			runes = runes[:len(runes)-1]
		}
		name = string(runes) + "..."
	}
	doc.CellFormat(textW, 4.5, name, "", 1, "L", false, 0, "")

	// Dimensions
	doc.font("", 7)
	doc.SetXY(textX, y+labelPadding+5)
	dims := fmt.Sprintf("%.0f x %.0f mm", info.Width, info.Height)
	doc.CellFormat(textW, 3.5, dims, "", 1, "L", false, 0, "")

	// Material, position and order info
	doc.font("", 6)
	doc.SetTextColor(100, 100, 100)
	doc.SetXY(textX, y+labelPadding+9)
	var parts []string
	if info.Material != "" {
		parts = append(parts, doc.display(info.Material))
	}
	if info.placed {
		parts = append(parts, fmt.Sprintf("@ (%.0f, %.0f)", info.X, info.Y))
	}
	if info.OrderID != "" {
		parts = append(parts, info.OrderID)
	}
	doc.CellFormat(textW, 3, strings.Join(parts, " | "), "", 1, "L", false, 0, "")

	// Rotation indicator
	if info.Rotated {
		doc.SetXY(textX, y+labelPadding+12.5)
		doc.font("I", 6)
		doc.SetTextColor(150, 100, 0)
		indicator := "Rotated 90\xb0"
		if doc.unicode {
			indicator = "Rotated 90°"
		}
		doc.CellFormat(textW, 3, indicator, "", 0, "L", false, 0, "")
	}

	// Reset text color
	doc.SetTextColor(0, 0, 0)

	return nil
}

// CollectLabelInfos extracts label information from a packed layout
// for use in testing or alternative export formats.
func CollectLabelInfos(layout model.SheetLayout, orderID string) []LabelInfo {
	var labels []LabelInfo
	for _, p := range layout.Placed {
		labels = append(labels, LabelInfo{
			PanelName: p.Name,
			Width:     p.Width,
			Height:    p.Height,
			Material:  p.Material,
			OrderID:   orderID,
			Rotated:   p.Rotated,
			X:         p.X,
			Y:         p.Y,
			placed:    true,
		})
	}
	return labels
}
