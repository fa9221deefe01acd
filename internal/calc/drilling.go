package calc

import "github.com/avtoraskroy/cam-pipeline/internal/model"

// ApplyHingeDrilling adds cup and mounting screw holes for as many
// hinges as the door's height and weight require. Hinge positions come
// back measured from the door top; drill points use bottom-left origin.
// Returns the hinge count.
func ApplyHingeDrilling(door *model.Panel, tpl HingeTemplate, weightKg float64) int {
	count := HingeCountForDoor(door.Height, weightKg)
	for _, fromTop := range HingePositions(door.Height, count) {
		y := door.Height - fromTop
		door.DrillingPoints = append(door.DrillingPoints, model.DrillPoint{
			X:            tpl.CupEdgeOffset,
			Y:            y,
			Diameter:     tpl.CupDiameter,
			Depth:        tpl.CupDepth,
			Side:         model.SideFace,
			HardwareType: model.HardwareHingeCup,
		})
		for _, dy := range []float64{-tpl.MountSpacing, tpl.MountSpacing} {
			door.DrillingPoints = append(door.DrillingPoints, model.DrillPoint{
				X:            tpl.CupEdgeOffset,
				Y:            y + dy,
				Diameter:     tpl.MountDiameter,
				Depth:        tpl.MountDepth,
				Side:         model.SideFace,
				HardwareType: model.HardwareHingeMount,
			})
		}
	}
	return count
}

// ApplySlideDrilling adds the slide screw line to a drawer box side:
// holes every 32mm from the front margin, stopping short of the rear.
// A side too short for the pattern still gets front and rear holes.
// Returns the hole count.
func ApplySlideDrilling(side *model.Panel, tpl SlideTemplate) int {
	y := tpl.LineOffset
	limit := side.Width - tpl.RearMargin

	var xs []float64
	for x := tpl.FrontMargin; x <= limit; x += tpl.Spacing {
		xs = append(xs, x)
	}
	if len(xs) < 2 {
		xs = []float64{tpl.FrontMargin, limit}
	}

	for _, x := range xs {
		side.DrillingPoints = append(side.DrillingPoints, model.DrillPoint{
			X:            x,
			Y:            y,
			Diameter:     tpl.HoleDiameter,
			Depth:        tpl.HoleDepth,
			Side:         model.SideFace,
			HardwareType: model.HardwareSlide,
		})
	}
	return len(xs)
}
