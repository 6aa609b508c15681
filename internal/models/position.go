package models

// PositionType is the direction of an open exposure.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// PositionTypeFor maps a signal side to the position it opens.
func PositionTypeFor(side Side) PositionType {
	if side == SideEnter {
		return PositionLong
	}
	return PositionShort
}

// Sign is +1 for long and -1 for short.
func (p PositionType) Sign() int64 {
	if p == PositionShort {
		return -1
	}
	return 1
}
