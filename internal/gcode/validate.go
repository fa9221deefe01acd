package gcode

import (
	"math"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// ValidateCut rejects machining parameters that would ruin a nesting
// run before a single NC line is emitted.
func ValidateCut(s model.EffectiveSettings, layout model.CutLayout) error {
	if s.ToolDiameter <= 0 || s.StepDown <= 0 {
		return model.Errf(model.FailureInvalidMachining,
			"tool diameter and step down must be positive (tool %.1f, step %.1f)", s.ToolDiameter, s.StepDown)
	}
	if s.StepDown > s.ToolDiameter {
		return model.Errf(model.FailureInvalidMachining,
			"step down %.1fmm exceeds tool diameter %.1fmm", s.StepDown, s.ToolDiameter)
	}
	if s.CutDepth < s.Thickness {
		return model.Errf(model.FailureInvalidMachining,
			"cut depth %.1fmm does not pierce %.0fmm material", s.CutDepth, s.Thickness)
	}
	for i, c := range layout.Contours {
		if len(c) < 3 {
			// Degenerate entities from the drawing are skipped at
			// emit time, not failed here.
			continue
		}
		w, h := c.Width(), c.Height()
		if s.ToolDiameter >= math.Min(w, h) {
			return model.Errf(model.FailureInvalidMachining,
				"tool D%.1f does not fit contour %d (%.0fx%.0f)", s.ToolDiameter, i+1, w, h)
		}
	}
	return nil
}

// ValidateDrilling rejects a boring job whose tool or depths cannot
// work on the given panel.
func ValidateDrilling(s model.EffectiveSettings, panel model.Panel) error {
	if s.ToolDiameter >= math.Min(panel.Width, panel.Height) {
		return model.Errf(model.FailureInvalidMachining,
			"tool D%.1f does not fit panel %q (%.0fx%.0f)", s.ToolDiameter, panel.Name, panel.Width, panel.Height)
	}
	if s.StepDown > s.ToolDiameter {
		return model.Errf(model.FailureInvalidMachining,
			"step down %.1fmm exceeds tool diameter %.1fmm", s.StepDown, s.ToolDiameter)
	}
	for _, h := range panel.DrillingPoints {
		if h.Side == model.SideFace && s.PeckDepth >= panel.Thickness {
			return model.Errf(model.FailureInvalidMachining,
				"peck depth %.1fmm not below %.0fmm thickness of %q", s.PeckDepth, panel.Thickness, panel.Name)
		}
	}
	return nil
}
