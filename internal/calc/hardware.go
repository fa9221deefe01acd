package calc

import "math"

// HingeTemplate is a 35mm cup hinge family. PlateOffset is the mounting
// plate hole line on the carcass side, measured from the front edge.
type HingeTemplate struct {
	Name          string  `json:"name"`
	CupDiameter   float64 `json:"cup_diameter"`    // mm
	CupDepth      float64 `json:"cup_depth"`       // mm
	CupEdgeOffset float64 `json:"cup_edge_offset"` // mm, cup center from hinge edge
	MountSpacing  float64 `json:"mount_spacing"`   // mm, screw holes above/below the cup
	MountDiameter float64 `json:"mount_diameter"`  // mm
	MountDepth    float64 `json:"mount_depth"`     // mm
	PlateOffset   float64 `json:"plate_offset"`    // mm
}

var HingeTemplates = []HingeTemplate{
	{Name: "overlay", CupDiameter: 35, CupDepth: 12, CupEdgeOffset: 21.5, MountSpacing: 22.5, MountDiameter: 5, MountDepth: 12, PlateOffset: 37},
	{Name: "half_overlay", CupDiameter: 35, CupDepth: 12, CupEdgeOffset: 21.5, MountSpacing: 22.5, MountDiameter: 5, MountDepth: 12, PlateOffset: 46.5},
	{Name: "inset", CupDiameter: 35, CupDepth: 12, CupEdgeOffset: 21.5, MountSpacing: 22.5, MountDiameter: 5, MountDepth: 12, PlateOffset: 53},
}

func DefaultHinge() HingeTemplate { return HingeTemplates[0] }

func HingeByName(name string) (HingeTemplate, bool) {
	for _, h := range HingeTemplates {
		if h.Name == name {
			return h, true
		}
	}
	return HingeTemplate{}, false
}

// SlideTemplate is a drawer slide family. LineOffset is the screw hole
// line above the bottom edge of the drawer side.
type SlideTemplate struct {
	Name          string  `json:"name"`
	LineOffset    float64 `json:"line_offset"` // mm
	CapacityKg    int     `json:"capacity_kg"`
	ProfileHeight float64 `json:"profile_height,omitempty"` // mm, roller slides
	HoleDiameter  float64 `json:"hole_diameter"`            // mm
	HoleDepth     float64 `json:"hole_depth"`               // mm
	Spacing       float64 `json:"spacing"`                  // mm between holes
	FrontMargin   float64 `json:"front_margin"`             // mm, first hole from the front
	RearMargin    float64 `json:"rear_margin"`              // mm kept clear at the rear
}

var SlideTemplates = []SlideTemplate{
	{Name: "ball_h45", LineOffset: 22.5, CapacityKg: 45, HoleDiameter: 4, HoleDepth: 12, Spacing: 32, FrontMargin: 37, RearMargin: 20},
	{Name: "ball_h35", LineOffset: 17.5, CapacityKg: 35, HoleDiameter: 4, HoleDepth: 12, Spacing: 32, FrontMargin: 37, RearMargin: 20},
	{Name: "roller", LineOffset: 10.0, CapacityKg: 20, ProfileHeight: 17, HoleDiameter: 4, HoleDepth: 12, Spacing: 32, FrontMargin: 37, RearMargin: 20},
}

func DefaultSlide() SlideTemplate { return SlideTemplates[0] }

func SlideByName(name string) (SlideTemplate, bool) {
	for _, s := range SlideTemplates {
		if s.Name == name {
			return s, true
		}
	}
	return SlideTemplate{}, false
}

// MaterialDensity maps board materials to kg/m³ for door weight checks.
var MaterialDensity = map[string]float64{
	"ЛДСП":   680,
	"МДФ":    750,
	"ДСП":    650,
	"массив": 600,
	"фанера": 550,
}

// HingeCountForDoor picks the hinge count from door height and weight;
// the stricter requirement wins.
func HingeCountForDoor(heightMM, weightKg float64) int {
	var byHeight int
	switch {
	case heightMM <= 500:
		byHeight = 2
	case heightMM <= 900:
		byHeight = 2
	case heightMM <= 1200:
		byHeight = 3
	case heightMM <= 1600:
		byHeight = 4
	case heightMM <= 2000:
		byHeight = 4
	default:
		byHeight = 5
	}

	var byWeight int
	switch {
	case weightKg <= 8:
		byWeight = 2
	case weightKg <= 12:
		byWeight = 2
	case weightKg <= 17:
		byWeight = 3
	case weightKg <= 22:
		byWeight = 4
	default:
		byWeight = 5
	}

	if byWeight > byHeight {
		return byWeight
	}
	return byHeight
}

// HingePositions returns cup centers measured from the top of the door.
// Two hinges sit 100mm from each end; more are spread evenly between.
func HingePositions(heightMM float64, count int) []float64 {
	if count < 2 {
		count = 2
	}
	if count == 2 {
		return []float64{100, heightMM - 100}
	}
	step := (heightMM - 200) / float64(count-1)
	positions := make([]float64, count)
	for i := range positions {
		positions[i] = math.Round((100+float64(i)*step)*10) / 10
	}
	return positions
}

// SlideLengthForDepth returns the catalog slide length for a cabinet
// depth: the largest 50mm increment that leaves 50mm behind the drawer,
// never below the 250mm minimum.
func SlideLengthForDepth(depthMM float64) float64 {
	length := math.Floor((depthMM-50)/50) * 50
	if length < 250 {
		return 250
	}
	return length
}

// DoorWeightKg estimates a door's weight from its volume and material
// density, rounded to two decimals. Unknown materials count as ЛДСП.
func DoorWeightKg(widthMM, heightMM, thicknessMM float64, material string) float64 {
	density, ok := MaterialDensity[material]
	if !ok {
		density = MaterialDensity["ЛДСП"]
	}
	volumeM3 := widthMM * heightMM * thicknessMM / 1e9
	return math.Round(volumeM3*density*100) / 100
}
