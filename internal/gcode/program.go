package gcode

import (
	"fmt"
	"strings"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// program accumulates NC lines for one controller dialect and renders
// the final text. The profile's start and end blocks are kept apart
// from the body: block numbering, where the profile asks for it,
// applies to the body only, so the wrapper lines come out exactly as
// the profile defines them.
type program struct {
	profile model.MachineProfile
	header  []string
	body    []string
	footer  []string
}

func newProgram(profile model.MachineProfile) *program {
	return &program{
		profile: profile,
		header:  append([]string(nil), profile.ProgramStart...),
		footer:  append([]string(nil), profile.ProgramEnd...),
	}
}

func (p *program) line(format string, args ...any) {
	p.body = append(p.body, fmt.Sprintf(format, args...))
}

func (p *program) raw(lines ...string) {
	p.body = append(p.body, lines...)
}

func (p *program) blank() {
	p.body = append(p.body, "")
}

func (p *program) comment(text string) {
	p.body = append(p.body, "("+text+")")
}

// coord formats a coordinate with the profile's decimal places.
func (p *program) coord(v float64) string {
	return fmt.Sprintf(p.profile.Format(), v)
}

func (p *program) render() string {
	lines := make([]string, 0, len(p.header)+len(p.body)+len(p.footer))
	lines = append(lines, p.header...)
	if p.profile.UseLineNumbers {
		lines = append(lines, p.numbered()...)
	} else {
		lines = append(lines, p.body...)
	}
	lines = append(lines, p.footer...)
	return strings.Join(lines, "\n")
}

// numbered prefixes body lines with N numbers. Blank and comment lines
// stay bare, the way controllers expect them.
func (p *program) numbered() []string {
	step := p.profile.LineNumberStep
	if step <= 0 {
		step = 10
	}
	n := step
	out := make([]string, 0, len(p.body))
	for _, ln := range p.body {
		if ln == "" || strings.HasPrefix(ln, "(") {
			out = append(out, ln)
			continue
		}
		out = append(out, fmt.Sprintf("N%d %s", n, ln))
		n += step
	}
	return out
}
