package export

import (
	"os"
	"strings"
	"unicode"

	"github.com/avtoraskroy/cam-pipeline/internal/gcode"
	"github.com/go-pdf/fpdf"
)

// Fonts with Cyrillic coverage commonly present on Linux, Windows and
// macOS hosts. The built-in PDF fonts are cp1252 only.
var cyrillicFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"C:/Windows/Fonts/arial.ttf",
	"/Library/Fonts/Arial.ttf",
}

// pdfDoc wraps an fpdf document together with the font family that
// was actually registered, so render code does not care whether a
// Unicode font was found on the host.
type pdfDoc struct {
	*fpdf.Fpdf
	family  string
	unicode bool
}

func newDoc(orientation, format string) *pdfDoc {
	pdf := fpdf.New(orientation, "mm", format, "")
	doc := &pdfDoc{Fpdf: pdf, family: "Helvetica"}
	if path := findCyrillicFont(); path != "" {
		pdf.AddUTF8Font("unicode", "", path)
		pdf.AddUTF8Font("unicode", "B", path)
		pdf.AddUTF8Font("unicode", "I", path)
		doc.family = "unicode"
		doc.unicode = true
	}
	return doc
}

func (d *pdfDoc) font(style string, size float64) {
	d.SetFont(d.family, style, size)
}

// display returns the string as-is when a Unicode font is loaded,
// otherwise a transliterated form the core fonts can render.
func (d *pdfDoc) display(s string) string {
	if d.unicode {
		return s
	}
	return displayName(s)
}

// displayName turns "Боковина левая" into "Bokovina Levaya".
func displayName(s string) string {
	words := strings.Fields(strings.ReplaceAll(gcode.Translit(s), "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func findCyrillicFont() string {
	for _, p := range cyrillicFontPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
