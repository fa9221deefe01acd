package calc

import (
	"math"
	"sort"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// wastePercent pads the sheet purchase estimate for defects and
// grain-matching rejects.
const wastePercent = 15.0

// MaterialUsage aggregates the cut list per board material.
type MaterialUsage struct {
	Material   string  `json:"material"`
	PanelCount int     `json:"panel_count"`
	AreaM2     float64 `json:"area_m2"`
}

// Summary is the quoting view of a cut list: areas, edge banding and a
// sheet purchase estimate including the waste factor.
type Summary struct {
	PanelCount      int             `json:"panel_count"`  // physical pieces
	UniquePanels    int             `json:"unique_panels"`
	TotalAreaM2     float64         `json:"total_area_m2"` // 2dp
	EdgeLengthM     float64         `json:"edge_length_m"` // 1dp
	DrillCount      int             `json:"drill_count"`
	ByMaterial      []MaterialUsage `json:"by_material"`
	SheetsNeeded    int             `json:"sheets_needed"`
	SheetsWithWaste int             `json:"sheets_with_waste"`
}

// Summarize totals a cut list. The sheet estimate expands every panel by
// the packing gap, so it stays conservative for real layouts.
func Summarize(panels []model.Panel, s model.EffectiveSettings) Summary {
	var sum Summary
	var areaMM2, effectiveMM2, edgeMM float64
	byMat := map[string]*MaterialUsage{}

	for _, p := range panels {
		qty := float64(p.Quantity)
		sum.UniquePanels++
		sum.PanelCount += p.Quantity
		sum.DrillCount += len(p.DrillingPoints) * p.Quantity

		areaMM2 += p.Width * p.Height * qty
		effectiveMM2 += (p.Width + s.Gap) * (p.Height + s.Gap) * qty
		edgeMM += p.EdgeLengthMM() * qty

		mat := p.Material
		if mat == "" {
			mat = "ЛДСП"
		}
		u, ok := byMat[mat]
		if !ok {
			u = &MaterialUsage{Material: mat}
			byMat[mat] = u
		}
		u.PanelCount += p.Quantity
		u.AreaM2 += p.AreaM2() * qty
	}

	sum.TotalAreaM2 = Round2(areaMM2 / 1e6)
	sum.EdgeLengthM = Round1(edgeMM / 1000)

	sheetArea := s.SheetWidth * s.SheetHeight
	if sheetArea > 0 {
		exact := effectiveMM2 / sheetArea
		sum.SheetsNeeded = int(math.Ceil(exact))
		sum.SheetsWithWaste = int(math.Ceil(exact * (1 + wastePercent/100)))
		if sum.SheetsWithWaste < sum.SheetsNeeded {
			sum.SheetsWithWaste = sum.SheetsNeeded
		}
	}

	for _, u := range byMat {
		u.AreaM2 = Round2(u.AreaM2)
		sum.ByMaterial = append(sum.ByMaterial, *u)
	}
	sort.Slice(sum.ByMaterial, func(i, j int) bool {
		return sum.ByMaterial[i].AreaM2 > sum.ByMaterial[j].AreaM2
	})

	return sum
}

// Round2 rounds to two decimal places for areas and weights.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round1 rounds to one decimal place for lengths in metres.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
