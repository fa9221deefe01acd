package gcode

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MoveType classifies one parsed toolpath motion.
type MoveType int

const (
	MoveRapid   MoveType = iota // G00 positioning
	MoveFeed                    // G01 in the XY plane
	MovePlunge                  // G01 descending without XY motion
	MoveRetract                 // Z rising
	MoveDrill                   // one canned-cycle hit (G81/G83)
)

// Move is a single parsed motion with absolute endpoints.
type Move struct {
	Type                MoveType
	FromX, FromY, FromZ float64
	ToX, ToY, ToZ       float64
	Feed                float64
}

var wordRe = regexp.MustCompile(`([A-Z])([-+]?[0-9]*\.?[0-9]+)`)

// Parse walks an NC program and reconstructs its motions. It tracks
// modal state the way a controller does: the last motion word applies
// to bare coordinate lines, and an active G81/G83 cycle turns each
// coordinate line into a drill hit until G80 cancels it. After a hit
// the tool sits at the cycle's R plane (G99 retract).
func Parse(code string) []Move {
	var moves []Move

	var (
		x, y, z, feed  float64
		motion         = -1    // 0 rapid, 1 feed, -1 none yet
		cycle          string  // "G81" or "G83" while active
		cycleZ, cycleR float64
	)

	for _, raw := range strings.Split(code, "\n") {
		line := stripComments(raw)
		if line == "" {
			continue
		}

		words := map[byte]float64{}
		var gWords []float64
		for _, m := range wordRe.FindAllStringSubmatch(strings.ToUpper(line), -1) {
			val, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			if m[1][0] == 'G' {
				gWords = append(gWords, val)
				continue
			}
			words[m[1][0]] = val
		}

		startCycle := ""
		hasMotionWord := false
		for _, g := range gWords {
			switch g {
			case 80:
				cycle = ""
			case 81:
				startCycle = "G81"
			case 83:
				startCycle = "G83"
			case 0:
				motion = 0
				hasMotionWord = true
			case 1:
				motion = 1
				hasMotionWord = true
			}
		}

		newX, newY := x, y
		if v, ok := words['X']; ok {
			newX = v
		}
		if v, ok := words['Y']; ok {
			newY = v
		}
		if v, ok := words['F']; ok {
			feed = v
		}

		if startCycle != "" {
			cycle = startCycle
			if v, ok := words['Z']; ok {
				cycleZ = v
			}
			if v, ok := words['R']; ok {
				cycleR = v
			}
			moves = append(moves, Move{Type: MoveDrill, FromX: x, FromY: y, FromZ: z, ToX: newX, ToY: newY, ToZ: cycleZ, Feed: feed})
			x, y, z = newX, newY, cycleR
			continue
		}

		hasXY := hasWord(words, 'X') || hasWord(words, 'Y')
		if cycle != "" && len(gWords) == 0 && hasXY {
			moves = append(moves, Move{Type: MoveDrill, FromX: x, FromY: y, FromZ: z, ToX: newX, ToY: newY, ToZ: cycleZ, Feed: feed})
			x, y, z = newX, newY, cycleR
			continue
		}

		hasCoord := hasXY || hasWord(words, 'Z')
		if !hasCoord || motion < 0 {
			continue
		}
		if !hasMotionWord && len(gWords) > 0 {
			// Coordinates owned by a non-motion word (G28 Z0 and the like).
			continue
		}

		newZ := z
		if v, ok := words['Z']; ok {
			newZ = v
		}

		moves = append(moves, Move{
			Type:  classifyMove(motion == 0, z, newZ, x, y, newX, newY),
			FromX: x, FromY: y, FromZ: z,
			ToX: newX, ToY: newY, ToZ: newZ,
			Feed: feed,
		})
		x, y, z = newX, newY, newZ
	}

	return moves
}

// VerifyProgram replays a program's motions and reports the first
// toolpath fault: a sideways cut at a depth no plunge has reached, or
// a rapid move that would drag the cutter through material. Slot mills
// plunge to their full groove depth in one move, so plunge size is not
// checked here.
func VerifyProgram(code string) error {
	plunged := math.Inf(1)
	for i, m := range Parse(code) {
		switch m.Type {
		case MovePlunge, MoveDrill:
			plunged = m.ToZ
		case MoveRetract:
			if m.ToZ >= -0.001 {
				plunged = math.Inf(1)
			}
		case MoveFeed:
			if m.ToZ < -0.001 && m.ToZ < plunged-0.001 {
				return fmt.Errorf("move %d: cutting at Z=%.3f below plunged depth %.3f", i+1, m.ToZ, plunged)
			}
		case MoveRapid:
			if m.FromX != m.ToX || m.FromY != m.ToY {
				if m.FromZ < -0.001 || m.ToZ < -0.001 {
					return fmt.Errorf("move %d: rapid traverse with cutter buried at Z=%.3f", i+1, math.Min(m.FromZ, m.ToZ))
				}
			} else if m.ToZ < -0.001 {
				return fmt.Errorf("move %d: rapid descends below surface to Z=%.3f", i+1, m.ToZ)
			}
		}
	}
	return nil
}

// classifyMove determines the MoveType from the movement shape.
func classifyMove(isRapid bool, fromZ, toZ, fromX, fromY, toX, toY float64) MoveType {
	zDelta := toZ - fromZ
	hasXY := fromX != toX || fromY != toY

	switch {
	case isRapid:
		if zDelta > 0 {
			return MoveRetract
		}
		return MoveRapid
	case zDelta < -0.001 && !hasXY:
		return MovePlunge
	case zDelta > 0.001 && !hasXY:
		return MoveRetract
	default:
		return MoveFeed
	}
}

// stripComments removes parenthetical and semicolon comments.
func stripComments(line string) string {
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	for {
		i := strings.Index(line, "(")
		if i < 0 {
			break
		}
		j := strings.Index(line[i:], ")")
		if j < 0 {
			line = line[:i]
			break
		}
		line = line[:i] + line[i+j+1:]
	}
	return strings.TrimSpace(line)
}

func hasWord(words map[byte]float64, letter byte) bool {
	_, ok := words[letter]
	return ok
}
