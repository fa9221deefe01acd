package model

import (
	"time"

	"github.com/uptrace/bun"
)

// EffectiveSettings is the fully resolved parameter set a job runs with.
// Every field has a value; resolution never fails.
type EffectiveSettings struct {
	// Sheet and nesting
	SheetWidth  float64 `json:"sheet_width"`  // mm
	SheetHeight float64 `json:"sheet_height"` // mm
	Gap         float64 `json:"gap"`          // mm between packed panels

	// Carcass construction
	Thickness            float64 `json:"thickness"`              // mm, board thickness
	EdgeThickness        float64 `json:"edge_thickness"`         // mm, hidden edges
	VisibleEdgeThickness float64 `json:"visible_edge_thickness"` // mm, visible edges
	FacadeEdgeThickness  float64 `json:"facade_edge_thickness"`  // mm, drawer/door fronts
	ShelfGap             float64 `json:"shelf_gap"`              // mm clearance per shelf side
	DrawerGap            float64 `json:"drawer_gap"`             // mm total slide clearance
	BackInset            float64 `json:"back_inset"`             // mm the sides stop short of full depth
	BackSlotWidth        float64 `json:"back_slot_width"`        // mm, hardboard groove width
	BackSlotDepth        float64 `json:"back_slot_depth"`        // mm, hardboard groove depth
	MaxShelfSpan         float64 `json:"max_shelf_span"`         // mm before a shelf sags
	TieBeamHeight        float64 `json:"tie_beam_height"`        // mm, base cabinet stretchers

	// Machining
	SpindleSpeed  int     `json:"spindle_speed"`  // RPM
	FeedCutting   float64 `json:"feed_cutting"`   // mm/min
	FeedPlunge    float64 `json:"feed_plunge"`    // mm/min
	FeedDrilling  float64 `json:"feed_drilling"`  // mm/min
	CutDepth      float64 `json:"cut_depth"`      // mm, total contour depth
	SafeHeight    float64 `json:"safe_height"`    // mm above stock for rapids
	ToolDiameter  float64 `json:"tool_diameter"`  // mm
	StepDown      float64 `json:"step_down"`      // mm per pass
	PeckDepth     float64 `json:"peck_depth"`     // mm per peck for deep holes
	DrillRetract  float64 `json:"drill_retract"`  // mm, cycle R plane
	DrillingDepth float64 `json:"drilling_depth"` // mm, default face hole depth

	MachineProfile string `json:"machine_profile"`
}

func DefaultSettings() EffectiveSettings {
	return EffectiveSettings{
		SheetWidth:           2800.0,
		SheetHeight:          2070.0,
		Gap:                  4.0,
		Thickness:            16.0,
		EdgeThickness:        0.4,
		VisibleEdgeThickness: 1.0,
		FacadeEdgeThickness:  2.0,
		ShelfGap:             3.0,
		DrawerGap:            26.0,
		BackInset:            16.0,
		BackSlotWidth:        4.0,
		BackSlotDepth:        10.0,
		MaxShelfSpan:         600.0,
		TieBeamHeight:        100.0,
		SpindleSpeed:         18000,
		FeedCutting:          800.0,
		FeedPlunge:           400.0,
		FeedDrilling:         300.0,
		CutDepth:             18.0,
		SafeHeight:           5.0,
		ToolDiameter:         6.0,
		StepDown:             6.0,
		PeckDepth:            5.0,
		DrillRetract:         2.0,
		DrillingDepth:        12.0,
		MachineProfile:       "weihong",
	}
}

// SettingsPatch is a sparse override set. Nil fields keep the value from
// the layer below. The same shape serves per-request overrides and the
// stored per-factory defaults.
type SettingsPatch struct {
	SheetWidth  *float64 `json:"sheet_width,omitempty"`
	SheetHeight *float64 `json:"sheet_height,omitempty"`
	Gap         *float64 `json:"gap,omitempty"`

	Thickness            *float64 `json:"thickness,omitempty"`
	EdgeThickness        *float64 `json:"edge_thickness,omitempty"`
	VisibleEdgeThickness *float64 `json:"visible_edge_thickness,omitempty"`
	FacadeEdgeThickness  *float64 `json:"facade_edge_thickness,omitempty"`
	ShelfGap             *float64 `json:"shelf_gap,omitempty"`
	DrawerGap            *float64 `json:"drawer_gap,omitempty"`
	BackInset            *float64 `json:"back_inset,omitempty"`
	BackSlotWidth        *float64 `json:"back_slot_width,omitempty"`
	BackSlotDepth        *float64 `json:"back_slot_depth,omitempty"`
	MaxShelfSpan         *float64 `json:"max_shelf_span,omitempty"`
	TieBeamHeight        *float64 `json:"tie_beam_height,omitempty"`

	SpindleSpeed  *int     `json:"spindle_speed,omitempty"`
	FeedCutting   *float64 `json:"feed_cutting,omitempty"`
	FeedPlunge    *float64 `json:"feed_plunge,omitempty"`
	FeedDrilling  *float64 `json:"feed_drilling,omitempty"`
	CutDepth      *float64 `json:"cut_depth,omitempty"`
	SafeHeight    *float64 `json:"safe_height,omitempty"`
	ToolDiameter  *float64 `json:"tool_diameter,omitempty"`
	StepDown      *float64 `json:"step_down,omitempty"`
	PeckDepth     *float64 `json:"peck_depth,omitempty"`
	DrillRetract  *float64 `json:"drill_retract,omitempty"`
	DrillingDepth *float64 `json:"drilling_depth,omitempty"`

	MachineProfile *string `json:"machine_profile,omitempty"`
}

// IsZero reports whether the patch overrides nothing.
func (p *SettingsPatch) IsZero() bool {
	return p == nil || *p == (SettingsPatch{})
}

func (s *EffectiveSettings) apply(p *SettingsPatch) {
	if p == nil {
		return
	}
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&s.SheetWidth, p.SheetWidth)
	setF(&s.SheetHeight, p.SheetHeight)
	setF(&s.Gap, p.Gap)
	setF(&s.Thickness, p.Thickness)
	setF(&s.EdgeThickness, p.EdgeThickness)
	setF(&s.VisibleEdgeThickness, p.VisibleEdgeThickness)
	setF(&s.FacadeEdgeThickness, p.FacadeEdgeThickness)
	setF(&s.ShelfGap, p.ShelfGap)
	setF(&s.DrawerGap, p.DrawerGap)
	setF(&s.BackInset, p.BackInset)
	setF(&s.BackSlotWidth, p.BackSlotWidth)
	setF(&s.BackSlotDepth, p.BackSlotDepth)
	setF(&s.MaxShelfSpan, p.MaxShelfSpan)
	setF(&s.TieBeamHeight, p.TieBeamHeight)
	setF(&s.FeedCutting, p.FeedCutting)
	setF(&s.FeedPlunge, p.FeedPlunge)
	setF(&s.FeedDrilling, p.FeedDrilling)
	setF(&s.CutDepth, p.CutDepth)
	setF(&s.SafeHeight, p.SafeHeight)
	setF(&s.ToolDiameter, p.ToolDiameter)
	setF(&s.StepDown, p.StepDown)
	setF(&s.PeckDepth, p.PeckDepth)
	setF(&s.DrillRetract, p.DrillRetract)
	setF(&s.DrillingDepth, p.DrillingDepth)
	if p.SpindleSpeed != nil {
		s.SpindleSpeed = *p.SpindleSpeed
	}
	if p.MachineProfile != nil {
		s.MachineProfile = *p.MachineProfile
	}
}

// MergeSettings resolves the precedence chain request > factory >
// built-in defaults. Unknown keys never reach this point (patches are
// typed) and absent keys fall through, so the merge cannot fail.
func MergeSettings(factory, request *SettingsPatch) EffectiveSettings {
	s := DefaultSettings()
	s.apply(factory)
	s.apply(request)
	return s
}

// DefaultTenant keys the settings row used when a request names no
// tenant.
const DefaultTenant = "default"

// FactorySettings is the stored per-tenant override layer of the merge
// chain. The patch is sparse; absent fields fall through to built-ins.
type FactorySettings struct {
	bun.BaseModel `bun:"table:factory_settings,alias:fs" json:"-"`

	TenantID  string        `bun:"tenant_id,pk" json:"tenant_id"`
	Patch     SettingsPatch `bun:"patch,type:jsonb" json:"patch"`
	UpdatedAt time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}
