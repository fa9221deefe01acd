package pack

import (
	"sort"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// shelfLayout places pieces in rows, tallest first, filling left to
// right and starting a new row when the current one is full. Pieces
// that would cross the top edge go to Unplaced.
func shelfLayout(pieces []model.Panel, sheetWidth, sheetHeight, gap float64) model.SheetLayout {
	layout := model.SheetLayout{SheetWidth: sheetWidth, SheetHeight: sheetHeight}

	sorted := make([]model.Panel, len(pieces))
	copy(sorted, pieces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Height > sorted[j].Height
	})

	var x, y, rowHeight float64
	for _, piece := range sorted {
		w := piece.Width + gap
		h := piece.Height + gap

		if x > 0 && x+w > sheetWidth+eps {
			x = 0
			y += rowHeight
			rowHeight = 0
		}
		if y+h > sheetHeight+eps || x+w > sheetWidth+eps {
			layout.Unplaced = append(layout.Unplaced, piece)
			continue
		}

		layout.Placed = append(layout.Placed, model.PlacedPanel{Panel: piece, X: x, Y: y})
		x += w
		if h > rowHeight {
			rowHeight = h
		}
	}
	return layout
}
