package pdfsign

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flujos-esign/internal/domain/entity"
)

func TestPlacement_Cells(t *testing.T) {
	// Letter: cw = 133, step = 151
	for position, x := range map[string]float64{
		entity.PositionLeft:        13,
		entity.PositionCenterLeft:  164,
		entity.PositionCenterRight: 315,
		entity.PositionRight:       466,
	} {
		r := Placement(612, position, 133, 50)
		assert.Equal(t, x, r.X1, position)
		assert.Equal(t, 25.0, r.Y1, position)
	}
}

func TestPlacement_ScalesWideImageDown(t *testing.T) {
	r := Placement(612, entity.PositionRight, 205, 80)
	assert.InDelta(t, 466.0, r.X1, 1e-9)
	assert.InDelta(t, 599.0, r.X2, 1e-9)
	assert.InDelta(t, 25+80*133.0/205.0, r.Y2, 1e-9)
}

func TestPlacement_NarrowImageUsesSameRatio(t *testing.T) {
	r := Placement(612, entity.PositionLeft, 100, 40)
	scale := 100.0 / 133.0
	assert.InDelta(t, 100*scale, r.Width(), 1e-9)
	assert.InDelta(t, 40*scale, r.Height(), 1e-9)
}

func TestPlacement_UnknownPositionFallsRight(t *testing.T) {
	assert.Equal(t, Placement(612, entity.PositionRight, 90, 30), Placement(612, "elsewhere", 90, 30))
}
