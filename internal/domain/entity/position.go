package entity

// Signature cells along the bottom row of a page
const (
	PositionLeft        = "left"
	PositionCenterLeft  = "center_left"
	PositionCenterRight = "center_right"
	PositionRight       = "right"
)

// IsValidPosition reports whether p names one of the four signature cells
func IsValidPosition(p string) bool {
	switch p {
	case PositionLeft, PositionCenterLeft, PositionCenterRight, PositionRight:
		return true
	}
	return false
}
