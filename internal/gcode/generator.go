package gcode

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// Generator produces NC programs for one controller profile and one
// set of machining settings.
type Generator struct {
	Settings model.EffectiveSettings
	profile  model.MachineProfile
}

// New resolves the machine profile named in the settings. An unknown
// profile name fails the job before any machining math runs.
func New(settings model.EffectiveSettings) (*Generator, error) {
	profile, ok := model.ProfileByName(settings.MachineProfile)
	if !ok {
		return nil, model.Errf(model.FailureInvalidInput, "unknown machine profile %q (known: %s)",
			settings.MachineProfile, strings.Join(model.ProfileNames(), ", "))
	}
	return &Generator{Settings: settings, profile: profile}, nil
}

// Profile returns the resolved controller profile.
func (g *Generator) Profile() model.MachineProfile {
	return g.profile
}

// CutProgram produces the nesting program for one sheet: every contour
// cut in depth passes, then any drill marks found on the layout. The
// spindle starts once; drill groups restart it after tool changes.
func (g *Generator) CutProgram(layout model.CutLayout) (string, error) {
	if err := ValidateCut(g.Settings, layout); err != nil {
		return "", err
	}

	s := g.Settings
	p := newProgram(g.profile)

	p.comment(fmt.Sprintf("raskroy %.0fx%.0f, konturov: %d", layout.SheetWidth, layout.SheetHeight, len(layout.Contours)))
	p.blank()

	p.line("T01 M06 (freza D%.0f)", s.ToolDiameter)
	p.line("S%d M03", s.SpindleSpeed)
	p.raw(g.profile.Dwell())
	if g.profile.UseCoolant {
		p.raw("M08")
	}
	p.line("G00 Z%s", p.coord(s.SafeHeight))

	for i, contour := range layout.Contours {
		g.writeContour(p, contour, i+1)
	}

	if len(layout.Drills) > 0 {
		g.writeLayoutDrills(p, layout.Drills)
	}

	p.blank()
	return p.render(), nil
}

// writeContour cuts one closed polygon. Each pass plunges one step
// deeper and traces the full loop, so the cutter never feeds sideways
// at a depth it has not plunged to.
func (g *Generator) writeContour(p *program, contour model.Outline, num int) {
	if len(contour) < 3 {
		p.comment(fmt.Sprintf("kontur %d propuschen: menee 3 tochek", num))
		return
	}

	s := g.Settings
	p.blank()
	p.comment(fmt.Sprintf("=== Kontur %d: %.0fx%.0f ===", num, contour.Width(), contour.Height()))

	start := contour[0]
	p.line("G00 X%s Y%s", p.coord(start.X), p.coord(start.Y))

	passes := int(math.Ceil(s.CutDepth / s.StepDown))
	for pass := 1; pass <= passes; pass++ {
		depth := float64(pass) * s.StepDown
		if depth > s.CutDepth {
			depth = s.CutDepth
		}
		p.comment(fmt.Sprintf("prohod %d/%d, Z=-%.2f", pass, passes, depth))
		p.line("G01 Z%s F%.0f", p.coord(-depth), s.FeedPlunge)

		first := true
		for _, pt := range contour[1:] {
			g.feedTo(p, pt, &first)
		}
		if !samePoint(contour[len(contour)-1], start) {
			g.feedTo(p, start, &first)
		}
	}
	p.line("G00 Z%s", p.coord(s.SafeHeight))
}

// feedTo emits a cutting move. The feed rate rides on the first move
// of each pass and stays modal after that.
func (g *Generator) feedTo(p *program, pt model.Point2D, first *bool) {
	if *first {
		p.line("G01 X%s Y%s F%.0f", p.coord(pt.X), p.coord(pt.Y), g.Settings.FeedCutting)
		*first = false
		return
	}
	p.line("G01 X%s Y%s", p.coord(pt.X), p.coord(pt.Y))
}

// writeLayoutDrills bores the marks recovered from the layout. Marks
// carry no depth, so every hole uses the drilling depth from settings;
// the sheet lies flat, so every hole is a face hole. T01 stays with
// the routing cutter, drills start at T02.
func (g *Generator) writeLayoutDrills(p *program, drills []model.DrillMark) {
	s := g.Settings

	byDiameter := map[float64][]model.DrillMark{}
	for _, d := range drills {
		byDiameter[d.Diameter] = append(byDiameter[d.Diameter], d)
	}
	diameters := make([]float64, 0, len(byDiameter))
	for dia := range byDiameter {
		diameters = append(diameters, dia)
	}
	sort.Float64s(diameters)

	tool := 2
	for _, dia := range diameters {
		group := byDiameter[dia]
		p.blank()
		p.comment(fmt.Sprintf("=== D%.0f plast ===", dia))
		p.line("T%02d M06 (sverlo D%.0f)", tool, dia)
		p.line("S%d M03", s.SpindleSpeed)
		p.raw(g.profile.Dwell())

		first := group[0]
		p.line("G00 X%.3f Y%.3f Z%.1f", first.X, first.Y, s.SafeHeight)
		p.raw("G99")
		p.raw(g.cycleLine(s.DrillingDepth))
		for _, d := range group[1:] {
			p.line("X%.3f Y%.3f", d.X, d.Y)
		}
		p.raw("G80")
		tool++
	}
}

// cycleLine renders the profile's canned drill cycle to the given
// depth. Peck cycles add the Q word.
func (g *Generator) cycleLine(depth float64) string {
	s := g.Settings
	if g.profile.DrillCycle == "G83" {
		return fmt.Sprintf("G83 Z%.3f R%.1f Q%.1f F%.0f", -depth, s.DrillRetract, s.PeckDepth, s.FeedDrilling)
	}
	return fmt.Sprintf("G81 Z%.3f R%.1f F%.0f", -depth, s.DrillRetract, s.FeedDrilling)
}

func samePoint(a, b model.Point2D) bool {
	return math.Abs(a.X-b.X) < 0.001 && math.Abs(a.Y-b.Y) < 0.001
}
