package enums

import "fmt"

// MovementKind classifies an entry in the stock movement log.
type MovementKind string

const (
	MovementKindAdjust  MovementKind = "adjust"
	MovementKindReserve MovementKind = "reserve"
	MovementKindRelease MovementKind = "release"
)

func (k MovementKind) IsValid() bool {
	switch k {
	case MovementKindAdjust, MovementKindReserve, MovementKindRelease:
		return true
	}
	return false
}

func ParseMovementKind(value string) (MovementKind, error) {
	kind := MovementKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid movement kind %q", value)
	}
	return kind, nil
}
