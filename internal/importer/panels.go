// Package importer turns customer cut lists (CSV, Excel) and layout
// drawings (DXF) back into domain structures. It detects delimiters,
// maps columns by header aliases in Russian and English, and tolerates
// the decimal commas spreadsheet exports produce.
package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// ImportResult holds parsed panels plus per-row problems. Errors name
// rows that could not be parsed; warnings name rows that parsed with a
// fallback.
type ImportResult struct {
	Panels   []model.Panel `json:"panels"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ColumnMapping maps semantic column roles to indices in the data.
// -1 means the role has no column.
type ColumnMapping struct {
	Name      int
	Width     int
	Height    int
	Quantity  int
	Thickness int
	Material  int
	Notes     int
}

// headerAliases maps column roles to accepted header spellings, all
// lowercase. Cut lists name the longer dimension "длина", which maps
// to panel width here.
var headerAliases = map[string][]string{
	"name":      {"name", "panel", "label", "detail", "название", "наименование", "деталь", "имя"},
	"width":     {"width", "w", "length", "len", "x", "длина", "ширина детали"},
	"height":    {"height", "h", "y", "ширина", "высота"},
	"quantity":  {"quantity", "qty", "count", "pcs", "количество", "кол-во", "кол", "шт"},
	"thickness": {"thickness", "t", "толщина"},
	"material":  {"material", "материал", "плита"},
	"notes":     {"notes", "note", "comment", "примечание", "прим"},
}

const (
	defaultThickness  = 16.0
	defaultDrillDepth = 12.0
)

// DetectCSVDelimiter tries comma, semicolon, tab and pipe and keeps
// the one that yields the most consistent multi-column split.
func DetectCSVDelimiter(data []byte) rune {
	candidates := []rune{',', ';', '\t', '|'}
	best := ','
	bestScore := 0

	for _, delim := range candidates {
		reader := csv.NewReader(bytes.NewReader(data))
		reader.Comma = delim
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		records, err := reader.ReadAll()
		if err != nil || len(records) < 1 {
			continue
		}

		firstCols := len(records[0])
		if firstCols < 2 {
			continue
		}

		score := 0
		for _, row := range records {
			if len(row) == firstCols {
				score++
			}
		}

		weighted := score*10 + firstCols
		if weighted > bestScore {
			bestScore = weighted
			best = delim
		}
	}

	return best
}

// DetectColumns examines a header row and returns a ColumnMapping.
// Matching is case-insensitive against the alias table. Without a
// recognizable header it falls back to positional order: name, width,
// height, quantity, thickness, material.
func DetectColumns(row []string) (ColumnMapping, bool) {
	mapping := ColumnMapping{Name: -1, Width: -1, Height: -1, Quantity: -1, Thickness: -1, Material: -1, Notes: -1}

	isHeader := false
	assign := func(dst *int, i int) {
		isHeader = true
		if *dst == -1 {
			*dst = i
		}
	}

	for i, cell := range row {
		normalized := strings.ToLower(strings.TrimSpace(cell))
		for role, aliases := range headerAliases {
			for _, alias := range aliases {
				if normalized != alias {
					continue
				}
				switch role {
				case "name":
					assign(&mapping.Name, i)
				case "width":
					assign(&mapping.Width, i)
				case "height":
					assign(&mapping.Height, i)
				case "quantity":
					assign(&mapping.Quantity, i)
				case "thickness":
					assign(&mapping.Thickness, i)
				case "material":
					assign(&mapping.Material, i)
				case "notes":
					assign(&mapping.Notes, i)
				}
			}
		}
	}

	if !isHeader {
		return ColumnMapping{Name: 0, Width: 1, Height: 2, Quantity: 3, Thickness: 4, Material: 5, Notes: -1}, false
	}
	return mapping, true
}

// parseDim parses a millimeter value, accepting the decimal comma of
// Russian spreadsheet locales.
func parseDim(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

func getCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parsePanelRow extracts one panel from a row. It returns the panel,
// an error message, and a warning message; error and warning are
// mutually exclusive with a usable panel only on empty error.
func parsePanelRow(row []string, mapping ColumnMapping, rowLabel string, panelCount int) (model.Panel, string, string) {
	name := getCell(row, mapping.Name)
	if name == "" {
		name = fmt.Sprintf("Панель %d", panelCount+1)
	}

	widthStr := getCell(row, mapping.Width)
	if widthStr == "" {
		return model.Panel{}, fmt.Sprintf("%s: missing width", rowLabel), ""
	}
	width, err := parseDim(widthStr)
	if err != nil {
		return model.Panel{}, fmt.Sprintf("%s: invalid width %q", rowLabel, widthStr), ""
	}

	heightStr := getCell(row, mapping.Height)
	if heightStr == "" {
		return model.Panel{}, fmt.Sprintf("%s: missing height", rowLabel), ""
	}
	height, err := parseDim(heightStr)
	if err != nil {
		return model.Panel{}, fmt.Sprintf("%s: invalid height %q", rowLabel, heightStr), ""
	}

	qty := 1
	if qtyStr := getCell(row, mapping.Quantity); qtyStr != "" {
		f, err := parseDim(qtyStr)
		if err != nil || f != float64(int(f)) {
			return model.Panel{}, fmt.Sprintf("%s: invalid quantity %q", rowLabel, qtyStr), ""
		}
		qty = int(f)
	}

	if width <= 0 || height <= 0 || qty <= 0 {
		return model.Panel{}, fmt.Sprintf("%s: width, height and quantity must be positive", rowLabel), ""
	}

	var warning string
	thickness := defaultThickness
	if tStr := getCell(row, mapping.Thickness); tStr != "" {
		t, err := parseDim(tStr)
		if err != nil || t <= 0 {
			warning = fmt.Sprintf("%s: invalid thickness %q, using %.0f", rowLabel, tStr, defaultThickness)
		} else {
			thickness = t
		}
	}

	panel := model.NewPanel(name, width, height, thickness)
	panel.Quantity = qty
	if material := getCell(row, mapping.Material); material != "" {
		panel.Material = material
	}
	if notes := getCell(row, mapping.Notes); notes != "" {
		panel.Notes = notes
	}

	return panel, "", warning
}

// ImportPanelsCSV parses an uploaded CSV cut list. The delimiter is
// detected from the content.
func ImportPanelsCSV(data []byte) ImportResult {
	result := ImportResult{}

	if len(bytes.TrimSpace(data)) == 0 {
		result.Errors = append(result.Errors, "file is empty")
		return result
	}

	delimiter := DetectCSVDelimiter(data)
	if delimiter != ',' {
		delimName := map[rune]string{';': "semicolon", '\t': "tab", '|': "pipe"}[delimiter]
		result.Warnings = append(result.Warnings, fmt.Sprintf("detected %s delimiter", delimName))
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cannot read CSV: %v", err))
		return result
	}

	return importFromRows(records, "line", result.Warnings)
}

// ImportPanelsXLSX parses the first sheet of an uploaded Excel cut
// list.
func ImportPanelsXLSX(data []byte) ImportResult {
	result := ImportResult{}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cannot open workbook: %v", err))
		return result
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		result.Errors = append(result.Errors, "workbook has no sheets")
		return result
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cannot read sheet: %v", err))
		return result
	}

	return importFromRows(rows, "row", nil)
}

// importFromRows is the shared parse loop for CSV and Excel data.
func importFromRows(rows [][]string, rowPrefix string, initialWarnings []string) ImportResult {
	result := ImportResult{Warnings: initialWarnings}

	if len(rows) == 0 {
		result.Errors = append(result.Errors, "no data rows found")
		return result
	}

	mapping, hasHeader := DetectColumns(rows[0])
	startRow := 0
	if hasHeader {
		startRow = 1

		var missing []string
		if mapping.Width == -1 {
			missing = append(missing, "width")
		}
		if mapping.Height == -1 {
			missing = append(missing, "height")
		}
		if len(missing) > 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("required columns not found in header: %s", strings.Join(missing, ", ")))
			return result
		}
	} else if len(rows[0]) >= 3 {
		// First row not numeric in the width slot means an alien
		// header: skip it but keep positional mapping.
		if _, err := parseDim(rows[0][1]); err != nil {
			startRow = 1
			result.Warnings = append(result.Warnings, "skipping unrecognized header row")
		}
	}

	for i := startRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		rowLabel := fmt.Sprintf("%s %d", rowPrefix, i+1)
		panel, errMsg, warning := parsePanelRow(row, mapping, rowLabel, len(result.Panels))
		if errMsg != "" {
			result.Errors = append(result.Errors, errMsg)
			continue
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Panels = append(result.Panels, panel)
	}

	return result
}
