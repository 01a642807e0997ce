package process

import (
	"fmt"
	"math"

	rpdf "rsc.io/pdf"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// US Letter, used when a page inherits no MediaBox.
var letterBox = domain.BBox{X1: 612, Y1: 792}

// matrix is a PDF transformation [a b c d e f]; a point maps to (a*x + c*y + e, b*x + d*y + f).
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m followed by n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// unitBox is the bounding box of the unit square under m, which is where an image XObject lands.
func (m matrix) unitBox() domain.BBox {
	box := domain.BBox{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, p := range [][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x := m[0]*p[0] + m[2]*p[1] + m[4]
		y := m[1]*p[0] + m[3]*p[1] + m[5]
		box.X0, box.X1 = math.Min(box.X0, x), math.Max(box.X1, x)
		box.Y0, box.Y1 = math.Min(box.Y0, y), math.Max(box.Y1, y)
	}
	return box
}

// pageBox returns the page's MediaBox, walking up the page tree for an inherited one.
func pageBox(p rpdf.Page) domain.BBox {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		mb := v.Key("MediaBox")
		if mb.Kind() != rpdf.Array || mb.Len() != 4 {
			continue
		}
		x0, y0, x1, y1 := mb.Index(0).Float64(), mb.Index(1).Float64(), mb.Index(2).Float64(), mb.Index(3).Float64()
		box := domain.BBox{X0: math.Min(x0, x1), Y0: math.Min(y0, y1), X1: math.Max(x0, x1), Y1: math.Max(y0, y1)}
		if box.X1 > box.X0 && box.Y1 > box.Y0 {
			return box
		}
	}
	return letterBox
}

// imagePlacements maps each image XObject drawn directly by the page content to the box it is
// painted in. Images drawn inside form XObjects are not followed. The first draw of a name wins.
func imagePlacements(p rpdf.Page) (out map[string]domain.BBox, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("page content: %v", r)
		}
	}()

	xobjects := p.Resources().Key("XObject")
	out = make(map[string]domain.BBox)
	ctm := identity
	var saved []matrix
	do := func(stk *rpdf.Stack, op string) {
		args := make([]rpdf.Value, stk.Len())
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		switch op {
		case "q":
			saved = append(saved, ctm)
		case "Q":
			if n := len(saved); n > 0 {
				ctm, saved = saved[n-1], saved[:n-1]
			}
		case "cm":
			if len(args) != 6 {
				return
			}
			var m matrix
			for i, a := range args {
				m[i] = a.Float64()
			}
			ctm = m.mul(ctm)
		case "Do":
			if len(args) != 1 {
				return
			}
			name := args[0].Name()
			if xobjects.Key(name).Key("Subtype").Name() != "Image" {
				return
			}
			if _, ok := out[name]; !ok {
				out[name] = ctm.unitBox()
			}
		}
	}

	contents := p.V.Key("Contents")
	if contents.Kind() == rpdf.Array {
		for i := 0; i < contents.Len(); i++ {
			rpdf.Interpret(contents.Index(i), do)
		}
	} else if contents.Kind() == rpdf.Stream {
		rpdf.Interpret(contents, do)
	}
	return out, nil
}
