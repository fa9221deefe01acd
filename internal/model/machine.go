package model

import "fmt"

// MachineProfile describes the G-code dialect of one CNC controller
// family: program wrapper, drill cycle flavor, dwell units, numbering.
// Speeds and depths come from EffectiveSettings, not the profile.
type MachineProfile struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	FileExtension string   `json:"file_extension"`
	ProgramStart  []string `json:"program_start"` // verbatim header lines
	ProgramEnd    []string `json:"program_end"`   // verbatim footer lines

	DrillCycle     string `json:"drill_cycle"`  // G81 plain or G83 peck
	DwellMillis    bool   `json:"dwell_millis"` // G04 P in ms instead of seconds
	UseLineNumbers bool   `json:"use_line_numbers"`
	LineNumberStep int    `json:"line_number_step"`
	UseCoolant     bool   `json:"use_coolant"` // M08/M09 around machining
	DecimalPlaces  int    `json:"decimal_places"`
}

// Dwell returns the spindle spin-up pause in the profile's units:
// 500ms on millisecond controllers, half a second elsewhere.
func (p MachineProfile) Dwell() string {
	if p.DwellMillis {
		return "G04 P500"
	}
	return "G04 P0.5"
}

// Format returns a coordinate format string such as "%.3f".
func (p MachineProfile) Format() string {
	return fmt.Sprintf("%%.%df", p.DecimalPlaces)
}

// Built-in controller profiles.
var MachineProfiles = []MachineProfile{
	{
		Name:          "weihong",
		Description:   "Weihong NK105/NK260 (Chinese routers)",
		FileExtension: ".nc",
		ProgramStart:  []string{"G90 G54", "G21", "G17"},
		ProgramEnd:    []string{"M05", "G00 Z50.000", "G00 X0.000 Y0.000", "M30"},
		DrillCycle:    "G81",
		DwellMillis:   true,
		DecimalPlaces: 3,
	},
	{
		Name:          "syntec",
		Description:   "Syntec 6MB/21MA controllers",
		FileExtension: ".nc",
		ProgramStart:  []string{"%", "O0001", "G90 G21 G17 G40 G80"},
		ProgramEnd:    []string{"M05", "G91 G28 Z0", "G90", "M30", "%"},
		DrillCycle:    "G81",
		DecimalPlaces: 3,
	},
	{
		Name:           "fanuc",
		Description:    "Fanuc 0i/31i machining centers",
		FileExtension:  ".nc",
		ProgramStart:   []string{"%", "O1000", "G90 G21 G17 G40 G49 G80", "G54"},
		ProgramEnd:     []string{"M09", "M05", "G91 G28 Z0", "G90", "M30", "%"},
		DrillCycle:     "G83",
		UseLineNumbers: true,
		LineNumberStep: 10,
		UseCoolant:     true,
		DecimalPlaces:  3,
	},
	{
		Name:          "dsp",
		Description:   "RichAuto DSP handheld controllers",
		FileExtension: ".nc",
		ProgramStart:  []string{"G90", "G21"},
		ProgramEnd:    []string{"M05", "M30"},
		DrillCycle:    "G81",
		DecimalPlaces: 3,
	},
	{
		Name:          "homag",
		Description:   "Homag/Weeke nesting cells (ISO mode)",
		FileExtension: ".nc",
		ProgramStart:  []string{"G90 G21 G17", "G40 G80"},
		ProgramEnd:    []string{"M05", "G00 Z100.000", "M30"},
		DrillCycle:    "G83",
		DecimalPlaces: 3,
	},
}

// ProfileByName looks up a controller profile. The second return is
// false for names not in the table; callers decide how to fail.
func ProfileByName(name string) (MachineProfile, bool) {
	for _, p := range MachineProfiles {
		if p.Name == name {
			return p, true
		}
	}
	return MachineProfile{}, false
}

// ProfileNames returns all known controller names in table order.
func ProfileNames() []string {
	var names []string
	for _, p := range MachineProfiles {
		names = append(names, p.Name)
	}
	return names
}
