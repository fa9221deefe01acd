// Package calc expands parametric cabinet specs into flat cut lists:
// panel geometry, edge banding, fastener drilling and manufacturability
// warnings.
package calc

import (
	"fmt"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// Confirmat and shelf-pin drilling dimensions, shared by all templates.
const (
	confirmatDiameter  = 5.0
	confirmatEdgeDepth = 50.0 // screw channel into the edge
	confirmatFaceDepth = 11.0 // head bore in the face
	confirmatInset     = 50.0 // from the panel corner
	confirmatMinSpan   = 128.0

	shelfPinDiameter = 5.0
	shelfPinDepth    = 12.0
	shelfPinColumn   = 37.0 // System-32 column from the edge
	shelfPinStep     = 32.0
	shelfPinMargin   = 100.0

	backSlotInset = 10.0 // groove centerline from the back edge

	facadeGap    = 4.0    // total clearance around door and drawer fronts
	drawerSlack  = 30.0   // box walls sit this much below the front
	tallMaxFree  = 2000.0 // above this a tall cabinet needs wall anchoring
	facadeMaxTop = 2200.0 // above this a single door front is impractical
)

// Calculator expands cabinet templates with one resolved settings set.
type Calculator struct {
	s model.EffectiveSettings
}

func New(s model.EffectiveSettings) *Calculator {
	return &Calculator{s: s}
}

// Build expands the cabinet into its cut list. Panel local X runs along
// cabinet depth for vertical panels (front edge at x=0) and along
// cabinet width for horizontal ones.
func (c *Calculator) Build(spec model.CabinetSpec) (model.CalcResult, error) {
	if err := spec.Validate(); err != nil {
		return model.CalcResult{}, err
	}

	t := spec.Thickness
	if t <= 0 {
		t = c.s.Thickness
	}
	if spec.Width <= 2*t {
		return model.CalcResult{}, model.Errf(model.FailureInvalidInput,
			"cabinet width %.0f leaves no interior at thickness %.0f", spec.Width, t)
	}
	if spec.Depth <= c.s.BackInset {
		return model.CalcResult{}, model.Errf(model.FailureInvalidInput,
			"cabinet depth %.0f smaller than back inset %.0f", spec.Depth, c.s.BackInset)
	}

	var res model.CalcResult
	switch spec.Type {
	case model.CabinetWall:
		res = c.wall(spec, t)
	case model.CabinetBase:
		res = c.base(spec, t)
	case model.CabinetBaseSink:
		res = c.baseSink(spec, t)
	case model.CabinetDrawer:
		res = c.drawer(spec, t)
	case model.CabinetTall:
		res = c.tall(spec, t)
	}

	if spec.DoorCount > 0 && spec.Type != model.CabinetDrawer && spec.Type != model.CabinetBaseSink {
		c.addDoors(&res, spec, t)
	}

	for _, p := range res.Panels {
		if err := p.Validate(); err != nil {
			return model.CalcResult{}, err
		}
	}
	return res, nil
}

// wall is the hanging cabinet: two sides, top, bottom, shelves.
func (c *Calculator) wall(spec model.CabinetSpec, t float64) model.CalcResult {
	var res model.CalcResult
	sideDepth := spec.Depth - c.s.BackInset
	innerWidth := spec.Width - 2*t
	mat := material(spec)

	for _, name := range []string{"Боковина левая", "Боковина правая"} {
		side := c.sidePanel(name, sideDepth, spec.Height, t, mat)
		c.sideFaceHoles(&side, t, true, true)
		if spec.ShelfCount > 0 {
			c.shelfPinRows(&side, t)
		}
		res.Panels = append(res.Panels, side)
	}

	res.Panels = append(res.Panels, c.horizontalPair(innerWidth, sideDepth, t, mat)...)
	c.addShelves(&res, spec, innerWidth, sideDepth, t, mat)
	return res
}

// base is the floor cabinet: no full top, front and back stretchers
// keep the carcass square and carry the countertop.
func (c *Calculator) base(spec model.CabinetSpec, t float64) model.CalcResult {
	var res model.CalcResult
	sideDepth := spec.Depth - c.s.BackInset
	innerWidth := spec.Width - 2*t
	mat := material(spec)

	for _, name := range []string{"Боковина левая", "Боковина правая"} {
		side := c.sidePanel(name, sideDepth, spec.Height, t, mat)
		c.sideFaceHoles(&side, t, false, true)
		c.beamHoles(&side, t, true, false)
		if spec.ShelfCount > 0 {
			c.shelfPinRows(&side, t)
		}
		res.Panels = append(res.Panels, side)
	}

	bottom := c.horizontalPanel("Дно", innerWidth, sideDepth, t, mat)
	res.Panels = append(res.Panels, bottom)

	for _, name := range []string{"Царга передняя", "Царга задняя"} {
		beam := model.NewPanel(name, innerWidth, c.s.TieBeamHeight, t)
		beam.Material = mat
		c.edgeHoles(&beam)
		res.Panels = append(res.Panels, beam)
	}

	c.addShelves(&res, spec, innerWidth, sideDepth, t, mat)
	return res
}

// baseSink is the sink cabinet: open carcass with four stretchers and
// no bottom shelf drilling, leaving room for the trap and supply lines.
func (c *Calculator) baseSink(spec model.CabinetSpec, t float64) model.CalcResult {
	var res model.CalcResult
	sideDepth := spec.Depth - c.s.BackInset
	innerWidth := spec.Width - 2*t
	mat := material(spec)

	for _, name := range []string{"Боковина левая", "Боковина правая"} {
		side := c.sidePanel(name, sideDepth, spec.Height, t, mat)
		c.beamHoles(&side, t, true, true)
		res.Panels = append(res.Panels, side)
	}

	for _, name := range []string{
		"Связь верхняя передняя", "Связь верхняя задняя",
		"Связь нижняя передняя", "Связь нижняя задняя",
	} {
		beam := model.NewPanel(name, innerWidth, c.s.TieBeamHeight, t)
		beam.Material = mat
		c.edgeHoles(&beam)
		res.Panels = append(res.Panels, beam)
	}

	res.Warnings = append(res.Warnings, "Тумба под мойку - учтите вырез под сифон и подводку воды")
	return res
}

// drawer is a base cabinet filled with drawer boxes.
func (c *Calculator) drawer(spec model.CabinetSpec, t float64) model.CalcResult {
	res := c.base(spec, t)
	sideDepth := spec.Depth - c.s.BackInset
	innerWidth := spec.Width - 2*t
	mat := material(spec)

	count := spec.DrawerCount
	if count < 1 {
		count = 3
	}

	boxOuter := innerWidth - c.s.DrawerGap
	boxInner := boxOuter - 2*t
	boxDepth := sideDepth - 50.0
	frontHeight := (spec.Height-2*t)/float64(count) - facadeGap
	boxHeight := frontHeight - drawerSlack

	slide := DefaultSlide()
	for i := 1; i <= count; i++ {
		front := model.NewPanel(fmt.Sprintf("Фасад ящика %d", i), spec.Width-facadeGap, frontHeight, t)
		front.Material = mat
		front.EdgeFront, front.EdgeBack, front.EdgeTop, front.EdgeBottom = true, true, true, true
		front.EdgeThickness = c.s.FacadeEdgeThickness
		res.Panels = append(res.Panels, front)

		boxSide := model.NewPanel(fmt.Sprintf("Боковина ящика %d", i), boxDepth, boxHeight, t)
		boxSide.Material = mat
		boxSide.Quantity = 2
		ApplySlideDrilling(&boxSide, slide)
		res.Panels = append(res.Panels, boxSide)

		boxWall := model.NewPanel(fmt.Sprintf("Стенка ящика %d", i), boxInner, boxHeight, t)
		boxWall.Material = mat
		boxWall.Quantity = 2
		c.edgeHoles(&boxWall)
		res.Panels = append(res.Panels, boxWall)

		bottom := model.NewPanel(fmt.Sprintf("Дно ящика %d (ДВП)", i), boxOuter-10, boxDepth-10, 3.0)
		bottom.Material = "ДВП"
		bottom.Notes = "ДВП 3мм"
		res.Panels = append(res.Panels, bottom)
	}

	return res
}

// tall is the full-height cabinet: a wall carcass stretched to floor
// height.
func (c *Calculator) tall(spec model.CabinetSpec, t float64) model.CalcResult {
	res := c.wall(spec, t)
	if spec.Height > tallMaxFree {
		res.Warnings = append(res.Warnings, "Пенал выше 2м - обязательно крепление к стене")
	}
	return res
}

// addShelves appends the shelf panel and the sag warning when the span
// exceeds what unsupported chipboard carries.
func (c *Calculator) addShelves(res *model.CalcResult, spec model.CabinetSpec, innerWidth, sideDepth, t float64, mat string) {
	if spec.ShelfCount > 0 {
		shelf := model.NewPanel("Полка", innerWidth-2*c.s.ShelfGap, sideDepth-c.s.ShelfGap, t)
		shelf.Material = mat
		shelf.Quantity = spec.ShelfCount
		shelf.EdgeFront = true
		shelf.EdgeThickness = c.s.VisibleEdgeThickness
		res.Panels = append(res.Panels, shelf)

		if innerWidth > c.s.MaxShelfSpan {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Полка %.0fмм может провиснуть (макс %.0fмм). Рекомендуется вертикальная перегородка.",
				innerWidth, c.s.MaxShelfSpan))
		}
	}
}

// addDoors appends hinged fronts and their cup drilling.
func (c *Calculator) addDoors(res *model.CalcResult, spec model.CabinetSpec, t float64) {
	mat := material(spec)
	doorWidth := spec.Width/float64(spec.DoorCount) - facadeGap
	doorHeight := spec.Height - facadeGap
	hinge := DefaultHinge()

	for i := 1; i <= spec.DoorCount; i++ {
		door := model.NewPanel(fmt.Sprintf("Фасад %d", i), doorWidth, doorHeight, t)
		door.Material = mat
		door.EdgeFront, door.EdgeBack, door.EdgeTop, door.EdgeBottom = true, true, true, true
		door.EdgeThickness = c.s.FacadeEdgeThickness

		weight := DoorWeightKg(doorWidth, doorHeight, t, mat)
		ApplyHingeDrilling(&door, hinge, weight)
		res.Panels = append(res.Panels, door)
	}

	if doorHeight > facadeMaxTop {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"Фасад %.0fмм выше %.0fмм - проверьте вес и количество петель", doorHeight, facadeMaxTop))
	}
}

// sidePanel builds a carcass side with its visible front edge and the
// hardboard groove.
func (c *Calculator) sidePanel(name string, sideDepth, height, t float64, mat string) model.Panel {
	side := model.NewPanel(name, sideDepth, height, t)
	side.Material = mat
	side.EdgeFront = true
	side.EdgeThickness = c.s.VisibleEdgeThickness
	side.HasBackSlot = true
	side.Notes = fmt.Sprintf("Паз под ДВП %.0fx%.0fмм", c.s.BackSlotWidth, c.s.BackSlotDepth)
	side.Slots = []model.Slot{{
		StartX: sideDepth - backSlotInset,
		StartY: 0,
		EndX:   sideDepth - backSlotInset,
		EndY:   height,
		Width:  c.s.BackSlotWidth,
		Depth:  c.s.BackSlotDepth,
	}}
	return side
}

// horizontalPair builds the top and bottom panels of a closed carcass.
func (c *Calculator) horizontalPair(innerWidth, sideDepth, t float64, mat string) []model.Panel {
	var out []model.Panel
	for _, name := range []string{"Верх", "Низ"} {
		out = append(out, c.horizontalPanel(name, innerWidth, sideDepth, t, mat))
	}
	return out
}

func (c *Calculator) horizontalPanel(name string, innerWidth, sideDepth, t float64, mat string) model.Panel {
	p := model.NewPanel(name, innerWidth, sideDepth, t)
	p.Material = mat
	p.HasBackSlot = true
	p.Slots = []model.Slot{{
		StartX: 0,
		StartY: sideDepth - backSlotInset,
		EndX:   innerWidth,
		EndY:   sideDepth - backSlotInset,
		Width:  c.s.BackSlotWidth,
		Depth:  c.s.BackSlotDepth,
	}}
	c.edgeHoles(&p)
	return p
}

// sideFaceHoles drills the confirmat head bores that fasten the side to
// the horizontal panels: a bottom row always, a top row for closed
// carcasses.
func (c *Calculator) sideFaceHoles(p *model.Panel, t float64, top, bottom bool) {
	xs := positionsAlong(p.Width)
	if bottom {
		for _, x := range xs {
			p.DrillingPoints = append(p.DrillingPoints, confirmatFace(x, t/2))
		}
	}
	if top {
		for _, x := range xs {
			p.DrillingPoints = append(p.DrillingPoints, confirmatFace(x, p.Height-t/2))
		}
	}
}

// beamHoles drills one confirmat per stretcher end: front stretcher
// flush with the front edge, back stretcher flush with the back.
func (c *Calculator) beamHoles(p *model.Panel, t float64, top, bottom bool) {
	ys := []float64{}
	if top {
		ys = append(ys, p.Height-c.s.TieBeamHeight/2)
	}
	if bottom {
		ys = append(ys, c.s.TieBeamHeight/2)
	}
	for _, y := range ys {
		p.DrillingPoints = append(p.DrillingPoints,
			confirmatFace(t/2, y),
			confirmatFace(p.Width-t/2, y))
	}
}

// edgeHoles drills the confirmat screw channels into both end edges of
// a horizontal panel.
func (c *Calculator) edgeHoles(p *model.Panel) {
	for _, y := range positionsAlong(p.Height) {
		p.DrillingPoints = append(p.DrillingPoints,
			model.DrillPoint{X: 0, Y: y, Diameter: confirmatDiameter, Depth: confirmatEdgeDepth, Side: model.SideEdge, HardwareType: model.HardwareConfirmat},
			model.DrillPoint{X: p.Width, Y: y, Diameter: confirmatDiameter, Depth: confirmatEdgeDepth, Side: model.SideEdge, HardwareType: model.HardwareConfirmat})
	}
}

// shelfPinRows drills System-32 pin columns at 37mm from each edge,
// stepping 32mm between the horizontal panels.
func (c *Calculator) shelfPinRows(p *model.Panel, t float64) {
	start := shelfPinMargin + t
	end := p.Height - shelfPinMargin - t
	for y := start; y <= end+1e-9; y += shelfPinStep {
		for _, x := range []float64{shelfPinColumn, p.Width - shelfPinColumn} {
			p.DrillingPoints = append(p.DrillingPoints, model.DrillPoint{
				X: x, Y: y,
				Diameter:     shelfPinDiameter,
				Depth:        shelfPinDepth,
				Side:         model.SideFace,
				HardwareType: model.HardwareShelfPin,
			})
		}
	}
}

func confirmatFace(x, y float64) model.DrillPoint {
	return model.DrillPoint{
		X: x, Y: y,
		Diameter:     confirmatDiameter,
		Depth:        confirmatFaceDepth,
		Side:         model.SideFace,
		HardwareType: model.HardwareConfirmat,
	}
}

// positionsAlong spreads fastener positions over a panel dimension: two
// inset holes when the span carries them, one centered otherwise.
func positionsAlong(length float64) []float64 {
	if length-2*confirmatInset > confirmatMinSpan {
		return []float64{confirmatInset, length - confirmatInset}
	}
	return []float64{length / 2}
}

func material(spec model.CabinetSpec) string {
	if spec.Material != "" {
		return spec.Material
	}
	return "ЛДСП"
}
