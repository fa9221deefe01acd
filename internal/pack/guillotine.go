package pack

import "math"

// guillotinePacker keeps disjoint free rectangles and splits the chosen
// one edge-to-edge on every placement, so each layout decomposes into
// straight saw cuts. Scoring is best-short-side-fit.
type guillotinePacker struct {
	free []rect
	gap  float64
}

func newGuillotine(width, height, gap float64) *guillotinePacker {
	return &guillotinePacker{
		free: []rect{{0, 0, width, height}},
		gap:  gap,
	}
}

func (gp *guillotinePacker) score(w, h float64) float64 {
	idx, short, _ := gp.findBest(w+gp.gap, h+gp.gap)
	if idx < 0 {
		return -1
	}
	return short
}

func (gp *guillotinePacker) insert(w, h float64) (bool, float64, float64) {
	wk := w + gp.gap
	hk := h + gp.gap

	idx, _, _ := gp.findBest(wk, hk)
	if idx < 0 {
		return false, 0, 0
	}

	chosen := gp.free[idx]
	gp.free = append(gp.free[:idx], gp.free[idx+1:]...)
	gp.split(chosen, wk, hk)

	return true, chosen.x, chosen.y
}

// findBest scans the free rectangles for the placement leaving the
// smallest short-side residue, breaking ties on the long side.
func (gp *guillotinePacker) findBest(wk, hk float64) (int, float64, float64) {
	bestIdx := -1
	bestShort := math.MaxFloat64
	bestLong := math.MaxFloat64

	for i, r := range gp.free {
		if wk <= r.w+eps && hk <= r.h+eps {
			leftW := r.w - wk
			leftH := r.h - hk
			short := math.Min(leftW, leftH)
			long := math.Max(leftW, leftH)
			if short < bestShort || (short == bestShort && long < bestLong) {
				bestIdx = i
				bestShort = short
				bestLong = long
			}
		}
	}
	return bestIdx, bestShort, bestLong
}

// split cuts the leftover of a free rectangle into two disjoint pieces.
// The cut runs along the axis with the shorter leftover, which keeps
// the larger piece in one unbroken rectangle.
func (gp *guillotinePacker) split(r rect, wk, hk float64) {
	leftoverW := r.w - wk
	leftoverH := r.h - hk

	var right, top rect
	if leftoverW < leftoverH {
		// horizontal cut: narrow piece beside the placement, wide
		// piece above spanning the full rect
		right = rect{r.x + wk, r.y, leftoverW, hk}
		top = rect{r.x, r.y + hk, r.w, leftoverH}
	} else {
		// vertical cut: tall piece beside the placement, remainder
		// above the placement only
		right = rect{r.x + wk, r.y, leftoverW, r.h}
		top = rect{r.x, r.y + hk, wk, leftoverH}
	}

	if right.w > eps && right.h > eps {
		gp.free = append(gp.free, right)
	}
	if top.w > eps && top.h > eps {
		gp.free = append(gp.free, top)
	}
}
