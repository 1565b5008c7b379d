package path

import (
	"encoding/json"
	"fmt"
)

// PointSlots is the number of positional slots in the wire form of a point.
// Receivers decode by position, so the layout below must not change without
// a protocol version bump.
const PointSlots = 14

const (
	slotOffset = 0
	slotPlayer = 1 // px, py, pz, prx, pry, prz
	slotPOV    = 7
	slotCamera = 8 // cx, cy, cz, crx, cry, crz
)

// MarshalJSON encodes p as the 14-slot positional tuple. Absent transforms
// encode as nulls.
func (p PathPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.slots())
}

// UnmarshalJSON decodes the 14-slot positional tuple.
func (p *PathPoint) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPoint, err)
	}
	if len(raw) != PointSlots {
		return fmt.Errorf("%w: %d slots, want %d", ErrMalformedPoint, len(raw), PointSlots)
	}

	var out PathPoint
	if raw[slotOffset] != nil {
		out.Offset = *raw[slotOffset]
	}
	if raw[slotPOV] != nil {
		out.POV = POV(*raw[slotPOV])
	}

	var err error
	if out.Player, err = decodeTransform(raw[slotPlayer : slotPlayer+6]); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	if out.Camera, err = decodeTransform(raw[slotCamera : slotCamera+6]); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	*p = out
	return nil
}

func (p PathPoint) slots() [PointSlots]*float64 {
	var s [PointSlots]*float64
	offset := p.Offset
	s[slotOffset] = &offset
	pov := float64(p.POV)
	s[slotPOV] = &pov
	encodeTransform(s[slotPlayer:slotPlayer+6], p.Player)
	encodeTransform(s[slotCamera:slotCamera+6], p.Camera)
	return s
}

func encodeTransform(dst []*float64, t *Transform) {
	if t == nil {
		return
	}
	vals := [6]float64{
		t.Position.X, t.Position.Y, t.Position.Z,
		t.Rotation.X, t.Rotation.Y, t.Rotation.Z,
	}
	for i := range vals {
		v := vals[i]
		dst[i] = &v
	}
}

func decodeTransform(src []*float64) (*Transform, error) {
	nulls := 0
	for _, v := range src {
		if v == nil {
			nulls++
		}
	}
	switch nulls {
	case len(src):
		return nil, nil
	case 0:
	default:
		return nil, fmt.Errorf("%w: partially null transform", ErrMalformedPoint)
	}
	return &Transform{
		Position: Vec3{X: *src[0], Y: *src[1], Z: *src[2]},
		Rotation: Vec3{X: *src[3], Y: *src[4], Z: *src[5]},
	}, nil
}
