// Package pack nests rectangular panels on stock sheets. Three
// strategies compete per sheet and the densest layout wins; a plain
// shelf layout serves requests that skip optimization.
package pack

import (
	"sort"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

const eps = 0.001

// MinOffcutDimension is the smallest side of a remnant worth returning
// to stock. Narrower strips go to waste.
const MinOffcutDimension = 200.0

type rect struct {
	x, y, w, h float64
}

// binPacker places one rectangle at a time into remaining free space.
// score reports the best-short-side-fit residue without placing, -1
// when nothing fits.
type binPacker interface {
	insert(w, h float64) (bool, float64, float64)
	score(w, h float64) float64
}

// Pack nests the panels on one sheet, trying guillotine without
// rotation, guillotine with rotation and maxrects with rotation, and
// keeps the layout with the highest utilization. Unplaceable panels
// come back in Unplaced; together with Placed they always account for
// every input piece.
func Pack(panels []model.Panel, sheetWidth, sheetHeight, gap float64) (model.SheetLayout, error) {
	if err := validate(sheetWidth, sheetHeight, gap); err != nil {
		return model.SheetLayout{}, err
	}
	pieces := expand(panels)

	strategies := []struct {
		name   string
		build  func() binPacker
		rotate bool
	}{
		{"guillotine", func() binPacker { return newGuillotine(sheetWidth, sheetHeight, gap) }, false},
		{"guillotine_rotated", func() binPacker { return newGuillotine(sheetWidth, sheetHeight, gap) }, true},
		{"maxrects_rotated", func() binPacker { return newMaxRects(sheetWidth, sheetHeight, gap) }, true},
	}

	var best model.SheetLayout
	bestUtil := -1.0
	for _, s := range strategies {
		layout := packWith(s.build(), pieces, sheetWidth, sheetHeight, s.rotate)
		layout.Strategy = s.name
		if u := layout.Utilization(); u > bestUtil {
			bestUtil = u
			best = layout
		}
	}

	best.UtilizationPercent = best.Utilization()
	best.Offcuts = detectOffcuts(best, gap)
	return best, nil
}

// PackSimple lays panels out in plain rows, tallest first, without any
// optimization. Used when the submitter wants a predictable layout.
func PackSimple(panels []model.Panel, sheetWidth, sheetHeight, gap float64) (model.SheetLayout, error) {
	if err := validate(sheetWidth, sheetHeight, gap); err != nil {
		return model.SheetLayout{}, err
	}
	layout := shelfLayout(expand(panels), sheetWidth, sheetHeight, gap)
	layout.Strategy = "shelf"
	layout.UtilizationPercent = layout.Utilization()
	layout.Offcuts = detectOffcuts(layout, gap)
	return layout, nil
}

func validate(sheetWidth, sheetHeight, gap float64) error {
	if sheetWidth <= 0 || sheetHeight <= 0 {
		return model.Errf(model.FailureInvalidInput, "sheet dimensions must be positive, got %.0fx%.0f", sheetWidth, sheetHeight)
	}
	if gap < 0 {
		return model.Errf(model.FailureInvalidInput, "panel gap must not be negative, got %.1f", gap)
	}
	return nil
}

// expand flattens quantities into single pieces, largest area first so
// the big panels claim space before the offcuts fill up.
func expand(panels []model.Panel) []model.Panel {
	var pieces []model.Panel
	for _, p := range panels {
		for i := 0; i < p.Quantity; i++ {
			cp := p
			cp.Quantity = 1
			pieces = append(pieces, cp)
		}
	}
	sort.SliceStable(pieces, func(i, j int) bool {
		return pieces[i].Width*pieces[i].Height > pieces[j].Width*pieces[j].Height
	})
	return pieces
}

// packWith runs one strategy over the sorted pieces. With rotation
// enabled both orientations are scored and the tighter one wins.
func packWith(packer binPacker, pieces []model.Panel, sheetWidth, sheetHeight float64, rotate bool) model.SheetLayout {
	layout := model.SheetLayout{SheetWidth: sheetWidth, SheetHeight: sheetHeight}

	for _, piece := range pieces {
		placed := false

		if rotate && piece.Width != piece.Height {
			normal := packer.score(piece.Width, piece.Height)
			rotated := packer.score(piece.Height, piece.Width)

			preferRotated := normal < 0 && rotated >= 0 ||
				normal >= 0 && rotated >= 0 && rotated < normal

			if preferRotated {
				if ok, x, y := packer.insert(piece.Height, piece.Width); ok {
					layout.Placed = append(layout.Placed, model.PlacedPanel{Panel: piece, X: x, Y: y, Rotated: true})
					placed = true
				}
			}
		}
		if !placed {
			if ok, x, y := packer.insert(piece.Width, piece.Height); ok {
				layout.Placed = append(layout.Placed, model.PlacedPanel{Panel: piece, X: x, Y: y})
				placed = true
			}
		}
		if !placed && rotate && piece.Width != piece.Height {
			if ok, x, y := packer.insert(piece.Height, piece.Width); ok {
				layout.Placed = append(layout.Placed, model.PlacedPanel{Panel: piece, X: x, Y: y, Rotated: true})
				placed = true
			}
		}

		if !placed {
			layout.Unplaced = append(layout.Unplaced, piece)
		}
	}
	return layout
}

// detectOffcuts finds the untouched right and bottom strips beyond the
// placed bounding box. Only remnants at least MinOffcutDimension on
// both sides count.
func detectOffcuts(layout model.SheetLayout, gap float64) []model.Offcut {
	if len(layout.Placed) == 0 {
		return nil
	}

	var maxRight, maxTop float64
	for _, p := range layout.Placed {
		if right := p.X + p.PlacedWidth() + gap; right > maxRight {
			maxRight = right
		}
		if top := p.Y + p.PlacedHeight() + gap; top > maxTop {
			maxTop = top
		}
	}
	if maxRight > layout.SheetWidth {
		maxRight = layout.SheetWidth
	}
	if maxTop > layout.SheetHeight {
		maxTop = layout.SheetHeight
	}

	var offcuts []model.Offcut
	if w := layout.SheetWidth - maxRight; w >= MinOffcutDimension && layout.SheetHeight >= MinOffcutDimension {
		offcuts = append(offcuts, model.Offcut{X: maxRight, Y: 0, Width: w, Height: layout.SheetHeight})
	}
	if h := layout.SheetHeight - maxTop; h >= MinOffcutDimension && maxRight >= MinOffcutDimension {
		offcuts = append(offcuts, model.Offcut{X: 0, Y: maxTop, Width: maxRight, Height: h})
	}

	sort.Slice(offcuts, func(i, j int) bool {
		return offcuts[i].Width*offcuts[i].Height > offcuts[j].Width*offcuts[j].Height
	})
	return offcuts
}
