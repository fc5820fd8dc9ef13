package main

import (
	"math"

	"github.com/Nolaskote/Simulation/internal/neo"
)

// view maps heliocentric ecliptic AU onto terminal cells, looking down on
// the ecliptic with +x right and +y up. Cells are about twice as tall as
// they are wide.
type view struct {
	width, height int
	radius        float64 // AU from the Sun to the top edge
}

// cell returns the cell for (x, y) AU and whether it is on screen.
func (v view) cell(x, y float64) (col, row int, ok bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, false
	}
	half := float64(v.height) / 2
	col = int(math.Floor(float64(v.width)/2 + 2*x/v.radius*half))
	row = int(math.Floor(half - y/v.radius*half))
	ok = col >= 0 && col < v.width && row >= 0 && row < v.height
	return col, row, ok
}

// density counts bodies per cell. hazard marks cells holding a PHA.
type density struct {
	counts []int
	hazard []bool
	width  int
}

func newDensity(width, height int) *density {
	return &density{
		counts: make([]int, width*height),
		hazard: make([]bool, width*height),
		width:  width,
	}
}

// plot accumulates positions (ecliptic × scale, three per body) onto the
// grid and returns how many bodies were visible.
func (d *density) plot(v view, positions []float32, scale float64, classes []neo.Class) int {
	visible := 0
	for i := 0; 3*i+2 < len(positions); i++ {
		x := float64(positions[3*i]) / scale
		y := float64(positions[3*i+1]) / scale
		col, row, ok := v.cell(x, y)
		if !ok {
			continue
		}
		j := row*d.width + col
		d.counts[j]++
		if i < len(classes) && classes[i] == neo.ClassPHA {
			d.hazard[j] = true
		}
		visible++
	}
	return visible
}

// glyph picks a character for a cell holding n bodies.
func glyph(n int) rune {
	switch {
	case n <= 0:
		return ' '
	case n == 1:
		return '.'
	case n <= 3:
		return ':'
	case n <= 9:
		return '*'
	}
	return '#'
}
