package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

func TestSummarizeWallCabinet(t *testing.T) {
	s := model.DefaultSettings()
	c := New(s)
	res, err := c.Build(model.CabinetSpec{
		Type: model.CabinetWall, Width: 600, Height: 720, Depth: 300, ShelfCount: 2,
	})
	require.NoError(t, err)

	sum := Summarize(res.Panels, s)

	assert.Equal(t, 6, sum.PanelCount)
	assert.Equal(t, 5, sum.UniquePanels)
	assert.InDelta(t, 1.05, sum.TotalAreaM2, 0.02)
	assert.Greater(t, sum.EdgeLengthM, 0.0)
	assert.Greater(t, sum.DrillCount, 0)

	require.Len(t, sum.ByMaterial, 1)
	assert.Equal(t, "ЛДСП", sum.ByMaterial[0].Material)
	assert.Equal(t, 6, sum.ByMaterial[0].PanelCount)

	// ~1.07 m² effective against a 5.8 m² sheet
	assert.Equal(t, 1, sum.SheetsNeeded)
	assert.GreaterOrEqual(t, sum.SheetsWithWaste, sum.SheetsNeeded)
}

func TestSummarizeMixedMaterials(t *testing.T) {
	s := model.DefaultSettings()
	c := New(s)
	res, err := c.Build(model.CabinetSpec{
		Type: model.CabinetDrawer, Width: 600, Height: 720, Depth: 520, DrawerCount: 2,
	})
	require.NoError(t, err)

	sum := Summarize(res.Panels, s)

	mats := map[string]MaterialUsage{}
	for _, u := range sum.ByMaterial {
		mats[u.Material] = u
	}
	require.Contains(t, mats, "ЛДСП")
	require.Contains(t, mats, "ДВП")
	assert.Equal(t, 2, mats["ДВП"].PanelCount)
	// sorted by area, boards first
	assert.Equal(t, "ЛДСП", sum.ByMaterial[0].Material)
}

func TestSummarizeEdgeLength(t *testing.T) {
	p := model.NewPanel("Полка", 1000, 500, 16)
	p.EdgeFront = true // vertical side, counts the height
	p.Quantity = 3

	sum := Summarize([]model.Panel{p}, model.DefaultSettings())

	assert.Equal(t, 1.5, sum.EdgeLengthM)
	assert.Equal(t, 1.5, sum.TotalAreaM2)
	assert.Equal(t, 3, sum.PanelCount)
}

func TestSummarizeSheetEstimate(t *testing.T) {
	s := model.DefaultSettings()
	// twelve 700x600 panels: ~5.1 m² raw, just under one 5.8 m² sheet,
	// but the waste factor pushes the purchase to two
	p := model.NewPanel("Площадка", 700, 600, 16)
	p.Quantity = 12

	sum := Summarize([]model.Panel{p}, s)

	assert.Equal(t, 1, sum.SheetsNeeded)
	assert.Equal(t, 2, sum.SheetsWithWaste)
}

func TestRounding(t *testing.T) {
	assert.Equal(t, 1.05, Round2(1.0474))
	assert.Equal(t, 1.0, Round1(1.0474))
	assert.Equal(t, 2.35, Round2(2.345000001))
}
