package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/avtoraskroy/cam-pipeline/internal/gcode"
	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// BundleEntry is one file in a result archive.
type BundleEntry struct {
	Name string
	Data []byte
}

// Bundle packs the entries into a ZIP archive in order.
func Bundle(entries []BundleEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, model.Errf(model.FailureInvalidInput, "nothing to archive")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			return nil, model.WrapErr(model.FailureInternal, err, "archive "+e.Name)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, model.WrapErr(model.FailureInternal, err, "archive "+e.Name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, model.WrapErr(model.FailureInternal, err, "finalize archive")
	}
	return buf.Bytes(), nil
}

// DrillingZip renders a boring program for every panel and bundles
// them with a README manifest plus any extra entries, such as a label
// sheet. Returns the archive and the names of the files inside it,
// README included.
func DrillingZip(gen *gcode.Generator, panels []model.Panel, orderID string, extra ...BundleEntry) ([]byte, []string, error) {
	if len(panels) == 0 {
		return nil, nil, model.Errf(model.FailureInvalidInput, "no panels to drill")
	}

	entries := make([]BundleEntry, 0, len(panels)+1+len(extra))
	names := make([]string, 0, len(panels)+1+len(extra))
	for _, p := range panels {
		program, err := gen.PanelProgram(p, orderID)
		if err != nil {
			return nil, nil, fmt.Errorf("panel %q: %w", p.Name, err)
		}
		name := gen.ProgramFileName(p)
		entries = append(entries, BundleEntry{Name: name, Data: []byte(program)})
		names = append(names, name)
	}

	// The README lists only the programs; its panel count must not
	// include extras.
	entries = append(entries, BundleEntry{
		Name: "README.txt",
		Data: drillingReadme(orderID, gen.Profile().Name, names, time.Now()),
	})
	names = append(names, "README.txt")

	for _, e := range extra {
		entries = append(entries, e)
		names = append(names, e.Name)
	}

	data, err := Bundle(entries)
	if err != nil {
		return nil, nil, err
	}
	return data, names, nil
}

// drillingReadme builds the Russian manifest the machine operator
// reads before loading the programs.
func drillingReadme(orderID, profile string, files []string, now time.Time) []byte {
	id := orderID
	if id == "" {
		id = "N/A"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Присадка для заказа: %s\n", id)
	fmt.Fprintf(&b, "Дата генерации: %s\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Профиль станка: %s\n", profile)
	fmt.Fprintf(&b, "Количество панелей: %d\n", len(files))
	b.WriteString("\nФайлы:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	b.WriteString("\nСгенерировано: АвтоРаскрой (https://avtoraskroy.ru)\n")
	return []byte(b.String())
}
