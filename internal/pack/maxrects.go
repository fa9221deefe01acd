package pack

import "math"

// maxRectsPacker keeps overlapping maximal free rectangles: every
// placement subtracts itself from all rectangles it intersects and the
// contained leftovers are pruned. Denser than guillotine because later
// pieces can straddle earlier cut lines.
type maxRectsPacker struct {
	free []rect
	gap  float64
}

func newMaxRects(width, height, gap float64) *maxRectsPacker {
	return &maxRectsPacker{
		free: []rect{{0, 0, width, height}},
		gap:  gap,
	}
}

func (mp *maxRectsPacker) score(w, h float64) float64 {
	idx, short := mp.findBest(w+mp.gap, h+mp.gap)
	if idx < 0 {
		return -1
	}
	return short
}

func (mp *maxRectsPacker) insert(w, h float64) (bool, float64, float64) {
	wk := w + mp.gap
	hk := h + mp.gap

	idx, _ := mp.findBest(wk, hk)
	if idx < 0 {
		return false, 0, 0
	}

	chosen := mp.free[idx]
	placed := rect{chosen.x, chosen.y, wk, hk}
	mp.subtract(placed)

	return true, chosen.x, chosen.y
}

func (mp *maxRectsPacker) findBest(wk, hk float64) (int, float64) {
	bestIdx := -1
	bestShort := math.MaxFloat64
	bestLong := math.MaxFloat64

	for i, r := range mp.free {
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
	return bestIdx, bestShort
}

// subtract removes the placed rectangle from every overlapping free
// rectangle, keeping up to four maximal strips per overlap, then prunes
// rectangles contained in others.
func (mp *maxRectsPacker) subtract(placed rect) {
	var next []rect

	for _, r := range mp.free {
		if !rectsOverlap(r, placed) {
			next = append(next, r)
			continue
		}

		if placed.x > r.x+eps {
			next = append(next, rect{r.x, r.y, placed.x - r.x, r.h})
		}
		if placed.x+placed.w < r.x+r.w-eps {
			next = append(next, rect{placed.x + placed.w, r.y, (r.x + r.w) - (placed.x + placed.w), r.h})
		}
		if placed.y > r.y+eps {
			next = append(next, rect{r.x, r.y, r.w, placed.y - r.y})
		}
		if placed.y+placed.h < r.y+r.h-eps {
			next = append(next, rect{r.x, placed.y + placed.h, r.w, (r.y + r.h) - (placed.y + placed.h)})
		}
	}

	mp.free = pruneContained(next)
}

// rectsOverlap reports a real intersection, not an edge touch.
func rectsOverlap(a, b rect) bool {
	return a.x < b.x+b.w-eps && a.x+a.w > b.x+eps &&
		a.y < b.y+b.h-eps && a.y+a.h > b.y+eps
}

func pruneContained(rects []rect) []rect {
	if len(rects) <= 1 {
		return rects
	}
	kept := make([]rect, 0, len(rects))
	for i, a := range rects {
		contained := false
		for j, b := range rects {
			if i == j || !containsRect(b, a) {
				continue
			}
			// equal rectangles keep their first occurrence
			if j < i || !containsRect(a, b) {
				contained = true
				break
			}
		}
		if !contained {
			kept = append(kept, a)
		}
	}
	return kept
}

func containsRect(outer, inner rect) bool {
	return outer.x <= inner.x+eps && outer.y <= inner.y+eps &&
		outer.x+outer.w >= inner.x+inner.w-eps &&
		outer.y+outer.h >= inner.y+inner.h-eps
}
