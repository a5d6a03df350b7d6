package pdfsign

import (
	"flujos-esign/internal/domain/entity"
)

// Bottom row layout, in points: four cells of width W/4-20 separated by the
// lateral margin plus a small gap
const (
	cellShrink    = 20
	lateralMargin = 13
	cellGap       = 5
	bottomMargin  = 25
)

// Rect is a rectangle in default user space
type Rect struct {
	X1, Y1, X2, Y2 float64
}

func (r Rect) Width() float64 {
	return r.X2 - r.X1
}

func (r Rect) Height() float64 {
	return r.Y2 - r.Y1
}

func (r Rect) array() Array {
	return Array{r.X1, r.Y1, r.X2, r.Y2}
}

// cellWidth is the width of one of the four signature cells
func cellWidth(pageWidth float64) float64 {
	return pageWidth/4 - cellShrink
}

// cellX returns the left edge of the cell for position
func cellX(pageWidth float64, position string) float64 {
	step := cellWidth(pageWidth) + lateralMargin + cellGap
	x := float64(lateralMargin)
	switch position {
	case entity.PositionLeft:
		return x
	case entity.PositionCenterLeft:
		return x + step
	case entity.PositionCenterRight:
		return x + 2*step
	default:
		return x + 3*step
	}
}

// Placement computes the widget rectangle for an image of imgW x imgH pixels.
// The image is scaled by min(cw, imgW)/max(cw, imgW) and anchored at the
// bottom margin of its cell.
func Placement(pageWidth float64, position string, imgW, imgH int) Rect {
	cw := cellWidth(pageWidth)
	w := float64(imgW)
	scale := min(cw, w) / max(cw, w)

	x := cellX(pageWidth, position)
	return Rect{
		X1: x,
		Y1: bottomMargin,
		X2: x + w*scale,
		Y2: bottomMargin + float64(imgH)*scale,
	}
}

func (r Rect) offset(dx, dy float64) Rect {
	return Rect{X1: r.X1 + dx, Y1: r.Y1 + dy, X2: r.X2 + dx, Y2: r.Y2 + dy}
}
