// Package model defines the domain types shared by every pipeline stage:
// panels and cabinet specs, sheet layouts, machine profiles, cutting
// settings, jobs and artifacts.
package model

// DrillSide says which surface of a panel a hole enters.
type DrillSide string

const (
	SideFace DrillSide = "face" // into the wide face
	SideEdge DrillSide = "edge" // into the narrow edge
)

// HardwareType labels the fitting a drill point belongs to.
type HardwareType string

const (
	HardwareConfirmat  HardwareType = "confirmat"
	HardwareShelfPin   HardwareType = "shelf_pin"
	HardwareHingeCup   HardwareType = "hinge_cup"
	HardwareHingeMount HardwareType = "hinge_mount"
	HardwareSlide      HardwareType = "slide"
)

// DrillPoint is a single hole in panel-local coordinates.
// Origin is the bottom-left corner of the panel face.
type DrillPoint struct {
	X            float64      `json:"x"`        // mm from left edge
	Y            float64      `json:"y"`        // mm from bottom edge
	Diameter     float64      `json:"diameter"` // mm
	Depth        float64      `json:"depth"`    // mm
	Side         DrillSide    `json:"side"`
	HardwareType HardwareType `json:"hardware_type,omitempty"`
}

// Slot is a straight groove milled into the panel face,
// typically the 4mm slot for a hardboard back.
type Slot struct {
	StartX float64 `json:"start_x"` // mm
	StartY float64 `json:"start_y"` // mm
	EndX   float64 `json:"end_x"`   // mm
	EndY   float64 `json:"end_y"`   // mm
	Width  float64 `json:"width"`   // mm
	Depth  float64 `json:"depth"`   // mm
}

// Panel is one rectangular piece of sheet material with its edge-banding
// flags and machining features. Width runs along X, height along Y.
type Panel struct {
	Name      string  `json:"name"`
	Width     float64 `json:"width"`     // mm
	Height    float64 `json:"height"`    // mm
	Thickness float64 `json:"thickness"` // mm
	Material  string  `json:"material,omitempty"`
	Quantity  int     `json:"quantity"`

	// Edge banding per side of the local frame: front and back are the
	// vertical sides (front at x=0), top and bottom the horizontal ones.
	// Thickness 0 means the panel is not banded.
	EdgeFront     bool    `json:"edge_front"`
	EdgeBack      bool    `json:"edge_back"`
	EdgeTop       bool    `json:"edge_top"`
	EdgeBottom    bool    `json:"edge_bottom"`
	EdgeThickness float64 `json:"edge_thickness"` // mm

	HasBackSlot    bool         `json:"has_back_slot,omitempty"`
	DrillingPoints []DrillPoint `json:"drilling_points,omitempty"`
	Slots          []Slot       `json:"slots,omitempty"`
	Notes          string       `json:"notes,omitempty"`
}

func NewPanel(name string, w, h, t float64) Panel {
	return Panel{
		Name:      name,
		Width:     w,
		Height:    h,
		Thickness: t,
		Material:  "ЛДСП",
		Quantity:  1,
	}
}

// AreaM2 returns the face area of a single panel in square metres.
func (p Panel) AreaM2() float64 {
	return p.Width * p.Height / 1e6
}

// EdgeLengthMM returns the banded edge length of a single panel: the
// vertical front and back sides count the height, top and bottom the
// width.
func (p Panel) EdgeLengthMM() float64 {
	var total float64
	if p.EdgeFront {
		total += p.Height
	}
	if p.EdgeBack {
		total += p.Height
	}
	if p.EdgeTop {
		total += p.Width
	}
	if p.EdgeBottom {
		total += p.Width
	}
	return total
}

// Validate checks panel geometry: non-positive dimensions, zero
// quantities, face holes deeper than the panel and holes outside the
// face are all rejected.
func (p Panel) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return Errf(FailureInvalidInput, "panel %q has non-positive dimensions %.1fx%.1f", p.Name, p.Width, p.Height)
	}
	if p.Thickness <= 0 {
		return Errf(FailureInvalidInput, "panel %q has non-positive thickness %.1f", p.Name, p.Thickness)
	}
	if p.Quantity < 1 {
		return Errf(FailureInvalidInput, "panel %q has quantity %d", p.Name, p.Quantity)
	}
	for _, d := range p.DrillingPoints {
		if d.Side == SideFace && d.Depth > p.Thickness {
			return Errf(FailureInvalidInput, "panel %q: face hole depth %.1f exceeds thickness %.1f", p.Name, d.Depth, p.Thickness)
		}
		if d.X < 0 || d.X > p.Width || d.Y < 0 || d.Y > p.Height {
			return Errf(FailureInvalidInput, "panel %q: hole at %.1f,%.1f lies outside the face", p.Name, d.X, d.Y)
		}
	}
	return nil
}

// CabinetType selects the parametric template the calculator expands.
type CabinetType string

const (
	CabinetWall     CabinetType = "wall"
	CabinetBase     CabinetType = "base"
	CabinetBaseSink CabinetType = "base_sink"
	CabinetDrawer   CabinetType = "drawer"
	CabinetTall     CabinetType = "tall"
)

func (t CabinetType) Valid() bool {
	switch t {
	case CabinetWall, CabinetBase, CabinetBaseSink, CabinetDrawer, CabinetTall:
		return true
	}
	return false
}

// CabinetSpec is the parametric input for the panel calculator.
// Dimensions are outside dimensions of the carcass.
type CabinetSpec struct {
	Type        CabinetType `json:"type"`
	Width       float64     `json:"width"`               // mm
	Height      float64     `json:"height"`              // mm
	Depth       float64     `json:"depth"`               // mm
	Thickness   float64     `json:"thickness,omitempty"` // mm, 0 means settings default
	ShelfCount  int         `json:"shelf_count"`
	DoorCount   int         `json:"door_count"`
	DrawerCount int         `json:"drawer_count"`
	Material    string      `json:"material,omitempty"`
	OrderID     string      `json:"order_id,omitempty"`
}

// Validate checks the cabinet parameters before template expansion.
func (s CabinetSpec) Validate() error {
	if !s.Type.Valid() {
		return Errf(FailureInvalidInput, "unknown cabinet type %q", s.Type)
	}
	if s.Width <= 0 || s.Height <= 0 || s.Depth <= 0 {
		return Errf(FailureInvalidInput, "cabinet dimensions must be positive, got %.0fx%.0fx%.0f", s.Width, s.Height, s.Depth)
	}
	if s.ShelfCount < 0 || s.DoorCount < 0 || s.DrawerCount < 0 {
		return Errf(FailureInvalidInput, "cabinet counts must not be negative")
	}
	return nil
}

// CalcResult is the calculator output: the cut list plus any
// manufacturability warnings.
type CalcResult struct {
	Panels   []Panel  `json:"panels"`
	Warnings []string `json:"warnings,omitempty"`
}

// PlacedPanel is a panel fixed on a sheet. X and Y locate the
// bottom-left corner of the panel rectangle; rotation is an explicit
// transform applied before translation.
type PlacedPanel struct {
	Panel
	X       float64 `json:"x"` // mm from sheet left edge
	Y       float64 `json:"y"` // mm from sheet bottom edge
	Rotated bool    `json:"rotated"`
}

// PlacedWidth returns the footprint width considering rotation.
func (p PlacedPanel) PlacedWidth() float64 {
	if p.Rotated {
		return p.Height
	}
	return p.Width
}

// PlacedHeight returns the footprint height considering rotation.
func (p PlacedPanel) PlacedHeight() float64 {
	if p.Rotated {
		return p.Width
	}
	return p.Height
}

// Offcut is a reusable rectangle of free sheet left after packing.
type Offcut struct {
	X      float64 `json:"x"`      // mm
	Y      float64 `json:"y"`      // mm
	Width  float64 `json:"width"`  // mm
	Height float64 `json:"height"` // mm
}

// AreaM2 returns the offcut area in square metres.
func (o Offcut) AreaM2() float64 {
	return o.Width * o.Height / 1e6
}

// SheetLayout is one packed sheet: what landed where, what did not fit,
// and the usable leftovers.
type SheetLayout struct {
	SheetWidth         float64       `json:"sheet_width"`  // mm
	SheetHeight        float64       `json:"sheet_height"` // mm
	Placed             []PlacedPanel `json:"placed"`
	Unplaced           []Panel       `json:"unplaced,omitempty"`
	UtilizationPercent float64       `json:"utilization_percent"`
	Strategy           string        `json:"strategy,omitempty"`
	Offcuts            []Offcut      `json:"offcuts,omitempty"`
}

// PlacedArea returns the summed raw panel area in mm², ignoring the
// inter-panel gap.
func (l SheetLayout) PlacedArea() float64 {
	var total float64
	for _, p := range l.Placed {
		total += p.Width * p.Height
	}
	return total
}

// Utilization returns placed area over sheet area as a percentage.
func (l SheetLayout) Utilization() float64 {
	sheet := l.SheetWidth * l.SheetHeight
	if sheet == 0 {
		return 0
	}
	return l.PlacedArea() / sheet * 100.0
}

// SheetFormat is one stock sheet size the shop keeps on hand.
type SheetFormat struct {
	Name   string  `json:"name"`
	Width  float64 `json:"width"`  // mm
	Height float64 `json:"height"` // mm
}

// StandardSheets lists the stock formats offered at submission time.
var StandardSheets = []SheetFormat{
	{Name: "ЛДСП 2800x2070", Width: 2800, Height: 2070},
	{Name: "ЛДСП 2750x1830", Width: 2750, Height: 1830},
	{Name: "МДФ 2800x2070", Width: 2800, Height: 2070},
	{Name: "МДФ 2440x1830", Width: 2440, Height: 1830},
}
