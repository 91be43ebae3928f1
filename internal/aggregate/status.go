package aggregate

import "fmt"

// WearingStatus is the combined wear state of an earpiece pair.
type WearingStatus uint8

const (
	Well WearingStatus = iota
	LeftLost
	RightLost
	BothLost
)

// StatusFromCode maps a raw status code; anything above 3 is BothLost.
func StatusFromCode(code uint8) WearingStatus {
	if code > uint8(BothLost) {
		return BothLost
	}
	return WearingStatus(code)
}

func (s WearingStatus) String() string {
	switch s {
	case Well:
		return "well"
	case LeftLost:
		return "left_lost"
	case RightLost:
		return "right_lost"
	case BothLost:
		return "both_lost"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// IsLeftSensing reports whether the left electrode has skin contact.
func (s WearingStatus) IsLeftSensing() bool {
	return s == Well || s == RightLost
}

// IsRightSensing reports whether the right electrode has skin contact.
func (s WearingStatus) IsRightSensing() bool {
	return s == Well || s == LeftLost
}

// statusTable is indexed [left][right]. Kept exactly as the firmware vendor
// defined it; it is not symmetric.
var statusTable = [4][4]WearingStatus{
	{0, 0, 2, 2},
	{1, 1, 3, 3},
	{0, 0, 2, 2},
	{1, 1, 3, 3},
}

// CombineStatus merges per-side raw status codes. Codes above 3 clamp to 3.
func CombineStatus(left, right uint8) WearingStatus {
	return statusTable[clamp(left)][clamp(right)]
}

func clamp(code uint8) uint8 {
	if code > 3 {
		return 3
	}
	return code
}
