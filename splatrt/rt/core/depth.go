package core

import (
	"fmt"
	"math"
)

// DepthOrder fixes both the sort key encoding and the blend equation used to
// composite splats. The two always travel together.
type DepthOrder uint8

const (
	// FrontToBack sorts nearest first and composites with the "under"
	// operator: src*(1-dst.a) + dst.
	FrontToBack DepthOrder = iota
	// BackToFront sorts farthest first and composites with premultiplied
	// "over": src + dst*(1-src.a).
	BackToFront
)

func (o DepthOrder) String() string {
	switch o {
	case FrontToBack:
		return "front-to-back"
	case BackToFront:
		return "back-to-front"
	}
	return fmt.Sprintf("DepthOrder(%d)", uint8(o))
}

func ParseDepthOrder(s string) (DepthOrder, error) {
	switch s {
	case "front-to-back", "ftb", "":
		return FrontToBack, nil
	case "back-to-front", "btf":
		return BackToFront, nil
	}
	return 0, fmt.Errorf("unknown depth order %q", s)
}

// EncodeDepthKey maps a view depth onto a uint32 whose ascending order is the
// draw order for o.
func EncodeDepthKey(depth float32, o DepthOrder) uint32 {
	bits := math.Float32bits(depth)
	var key uint32
	if bits&0x80000000 != 0 {
		key = ^bits
	} else {
		key = bits | 0x80000000
	}
	if o == BackToFront {
		key = ^key
	}
	return key
}

func DecodeDepthKey(key uint32, o DepthOrder) float32 {
	if o == BackToFront {
		key = ^key
	}
	var bits uint32
	if key&0x80000000 != 0 {
		bits = key &^ 0x80000000
	} else {
		bits = ^key
	}
	return math.Float32frombits(bits)
}
