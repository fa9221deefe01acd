package gcode

import (
	"fmt"
	"sort"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// drillKey groups holes that share one tool setup.
type drillKey struct {
	diameter float64
	side     model.DrillSide
}

// PanelProgram produces the boring program for a single panel: hole
// groups one tool at a time, then the back-wall slots with a milling
// cutter. Hole coordinates are panel-local, origin at the bottom-left
// corner of the face.
func (g *Generator) PanelProgram(panel model.Panel, orderID string) (string, error) {
	if err := ValidateDrilling(g.Settings, panel); err != nil {
		return "", err
	}

	s := g.Settings
	p := newProgram(g.profile)

	p.comment(fmt.Sprintf("%s %.0fx%.0fx%.0f", Translit(panel.Name), panel.Width, panel.Height, panel.Thickness))
	if orderID != "" {
		p.comment("Zakaz: " + orderID)
	}
	p.blank()

	groups := map[drillKey][]model.DrillPoint{}
	for _, h := range panel.DrillingPoints {
		k := drillKey{diameter: h.Diameter, side: h.Side}
		groups[k] = append(groups[k], h)
	}
	keys := make([]drillKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].diameter != keys[j].diameter {
			return keys[i].diameter < keys[j].diameter
		}
		return keys[i].side < keys[j].side
	})

	coolantOn := false
	tool := 1
	for _, k := range keys {
		holes := groups[k]
		sideName := "plast"
		if k.side == model.SideEdge {
			sideName = "torec"
		}
		p.comment(fmt.Sprintf("=== D%.0f %s ===", k.diameter, sideName))

		p.line("T%02d M06 (sverlo D%.0f)", tool, k.diameter)
		p.line("S%d M03", s.SpindleSpeed)
		p.raw(g.profile.Dwell())
		if g.profile.UseCoolant && !coolantOn {
			p.raw("M08")
			coolantOn = true
		}

		// The first hole carries the full cycle; the rest repeat it
		// at new coordinates until G80.
		first := holes[0]
		p.line("G00 X%.3f Y%.3f Z%.1f", first.X, first.Y, s.SafeHeight)
		p.raw("G99")
		p.raw(g.cycleLine(first.Depth))
		for _, h := range holes[1:] {
			p.line("X%.3f Y%.3f", h.X, h.Y)
		}
		p.raw("G80")
		p.blank()
		tool++
	}

	if len(panel.Slots) > 0 {
		p.comment("=== PAZ pod zadnyuyu stenku ===")
		p.line("T%02d M06 (freza D%.0f)", tool, panel.Slots[0].Width)
		p.line("S%d M03", s.SpindleSpeed)
		p.raw(g.profile.Dwell())
		if g.profile.UseCoolant && !coolantOn {
			p.raw("M08")
		}

		for _, slot := range panel.Slots {
			p.line("G00 X%.3f Y%.3f Z%.1f", slot.StartX, slot.StartY, s.SafeHeight)
			p.line("G01 Z%.3f F%.0f", -slot.Depth, s.FeedPlunge)
			p.line("G01 X%.3f Y%.3f F%.0f", slot.EndX, slot.EndY, s.FeedCutting)
			p.line("G00 Z%.1f", s.SafeHeight)
		}
		p.blank()
	}

	return p.render(), nil
}

// ProgramFileName builds the NC file name for one panel program:
// transliterated panel name plus face dimensions plus the profile's
// extension.
func (g *Generator) ProgramFileName(panel model.Panel) string {
	return fmt.Sprintf("%s_%.0fx%.0f%s", Translit(panel.Name), panel.Width, panel.Height, g.profile.FileExtension)
}
