package gcode

import (
	"strings"
	"testing"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

func shelfPanel() model.Panel {
	p := model.NewPanel("Полка", 562, 281, 16)
	p.DrillingPoints = []model.DrillPoint{
		{X: 50, Y: 37, Diameter: 5, Depth: 12, Side: model.SideFace, HardwareType: model.HardwareShelfPin},
		{X: 512, Y: 37, Diameter: 5, Depth: 12, Side: model.SideFace, HardwareType: model.HardwareShelfPin},
	}
	return p
}

func TestPanelProgram_WeihongExactFormat(t *testing.T) {
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(shelfPanel(), "ORD-77")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}

	want := strings.Join([]string{
		"G90 G54",
		"G21",
		"G17",
		"(polka 562x281x16)",
		"(Zakaz: ORD-77)",
		"",
		"(=== D5 plast ===)",
		"T01 M06 (sverlo D5)",
		"S18000 M03",
		"G04 P500",
		"G00 X50.000 Y37.000 Z5.0",
		"G99",
		"G81 Z-12.000 R2.0 F300",
		"X512.000 Y37.000",
		"G80",
		"",
		"M05",
		"G00 Z50.000",
		"G00 X0.000 Y0.000",
		"M30",
	}, "\n")

	if code != want {
		t.Errorf("program mismatch:\n--- got ---\n%s\n--- want ---\n%s", code, want)
	}
}

func TestPanelProgram_NoOrderLine(t *testing.T) {
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(shelfPanel(), "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}
	if strings.Contains(code, "Zakaz:") {
		t.Error("expected no order line without an order id")
	}
}

func TestPanelProgram_GroupOrderAndTools(t *testing.T) {
	p := model.NewPanel("Боковина левая", 284, 720, 16)
	p.DrillingPoints = []model.DrillPoint{
		{X: 100, Y: 500, Diameter: 15, Depth: 13, Side: model.SideFace},
		{X: 50, Y: 8, Diameter: 5, Depth: 11, Side: model.SideFace, HardwareType: model.HardwareConfirmat},
		{X: 234, Y: 8, Diameter: 5, Depth: 11, Side: model.SideFace, HardwareType: model.HardwareConfirmat},
		{X: 142, Y: 8, Diameter: 5, Depth: 50, Side: model.SideEdge, HardwareType: model.HardwareConfirmat},
	}

	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(p, "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}

	// Same diameter sorts edge before face; bigger drills come last.
	torec := strings.Index(code, "(=== D5 torec ===)")
	plast := strings.Index(code, "(=== D5 plast ===)")
	big := strings.Index(code, "(=== D15 plast ===)")
	if torec < 0 || plast < 0 || big < 0 {
		t.Fatalf("missing group headers in:\n%s", code)
	}
	if !(torec < plast && plast < big) {
		t.Errorf("group order wrong: torec=%d plast=%d d15=%d", torec, plast, big)
	}

	for _, want := range []string{
		"T01 M06 (sverlo D5)",
		"T02 M06 (sverlo D5)",
		"T03 M06 (sverlo D15)",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("missing tool change %q", want)
		}
	}
	if n := strings.Count(code, "G80"); n != 3 {
		t.Errorf("expected 3 cycle cancels, got %d", n)
	}
	if n := strings.Count(code, "G04 P500"); n != 3 {
		t.Errorf("expected one dwell per tool change, got %d", n)
	}
}

func TestPanelProgram_FirstHoleDepthDrivesCycle(t *testing.T) {
	p := model.NewPanel("Боковина", 284, 720, 16)
	p.DrillingPoints = []model.DrillPoint{
		{X: 50, Y: 8, Diameter: 5, Depth: 11, Side: model.SideFace},
		{X: 234, Y: 8, Diameter: 5, Depth: 12, Side: model.SideFace},
	}
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(p, "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}

	if !strings.Contains(code, "G81 Z-11.000 R2.0 F300") {
		t.Error("expected cycle depth from first hole")
	}
	if strings.Contains(code, "Z-12.000") {
		t.Error("expected later holes to reuse the first cycle depth")
	}
	if !strings.Contains(code, "X234.000 Y8.000") {
		t.Error("expected shorthand coordinates for second hole")
	}
}

func TestPanelProgram_BackSlot(t *testing.T) {
	p := model.NewPanel("Боковина левая", 284, 720, 16)
	p.HasBackSlot = true
	p.Slots = []model.Slot{
		{StartX: 274, StartY: 10, EndX: 274, EndY: 710, Width: 4, Depth: 10},
	}
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(p, "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}

	for _, want := range []string{
		"(=== PAZ pod zadnyuyu stenku ===)",
		"T01 M06 (freza D4)",
		"G00 X274.000 Y10.000 Z5.0",
		"G01 Z-10.000 F400",
		"G01 X274.000 Y710.000 F800",
		"G00 Z5.0",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("missing %q in:\n%s", want, code)
		}
	}
	if err := VerifyProgram(code); err != nil {
		t.Errorf("VerifyProgram: %v", err)
	}
}

func TestPanelProgram_SlotToolAfterDrills(t *testing.T) {
	p := shelfPanel()
	p.Slots = []model.Slot{{StartX: 10, StartY: 10, EndX: 552, EndY: 10, Width: 4, Depth: 10}}
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(p, "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}
	if !strings.Contains(code, "T02 M06 (freza D4)") {
		t.Error("expected milling cutter on the next tool after drills")
	}
}

func TestPanelProgram_PeckProfile(t *testing.T) {
	s := model.DefaultSettings()
	s.MachineProfile = "homag"
	gen := mustGenerator(t, s)
	code, err := gen.PanelProgram(shelfPanel(), "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}
	if !strings.Contains(code, "G83 Z-12.000 R2.0 Q5.0 F300") {
		t.Errorf("expected peck cycle with Q word, got:\n%s", code)
	}
}

func TestPanelProgram_DrillHitsRoundTrip(t *testing.T) {
	p := model.NewPanel("Верх", 568, 284, 16)
	p.DrillingPoints = []model.DrillPoint{
		{X: 8, Y: 50, Diameter: 5, Depth: 11, Side: model.SideEdge},
		{X: 8, Y: 234, Diameter: 5, Depth: 11, Side: model.SideEdge},
		{X: 560, Y: 50, Diameter: 5, Depth: 11, Side: model.SideEdge},
		{X: 560, Y: 234, Diameter: 5, Depth: 11, Side: model.SideEdge},
	}
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(p, "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}

	var hits int
	for _, m := range Parse(code) {
		if m.Type == MoveDrill {
			hits++
			if m.ToZ != -11 {
				t.Errorf("hit at wrong depth %.3f", m.ToZ)
			}
		}
	}
	if hits != len(p.DrillingPoints) {
		t.Errorf("expected %d drill hits, got %d", len(p.DrillingPoints), hits)
	}
	if err := VerifyProgram(code); err != nil {
		t.Errorf("VerifyProgram: %v", err)
	}
}

func TestPanelProgram_EmptyPanel(t *testing.T) {
	p := model.NewPanel("Дно ящика (ДВП)", 522, 434, 3)
	gen := mustGenerator(t, model.DefaultSettings())
	code, err := gen.PanelProgram(p, "")
	if err != nil {
		t.Fatalf("PanelProgram: %v", err)
	}
	if strings.Contains(code, "M06") {
		t.Error("expected no tool changes for a panel without features")
	}
	if !strings.Contains(code, "(dno_yaschika_(dvp) 522x434x3)") {
		t.Errorf("expected panel header comment, got:\n%s", code)
	}
}

func TestProgramFileName(t *testing.T) {
	gen := mustGenerator(t, model.DefaultSettings())
	p := model.NewPanel("Боковина левая", 720, 560, 16)
	if got := gen.ProgramFileName(p); got != "bokovina_levaya_720x560.nc" {
		t.Errorf("ProgramFileName = %q", got)
	}
}
