package pod

import (
	"encoding/binary"

	"github.com/x448/float16"
)

func putHalf(dst []byte, v float32) {
	binary.LittleEndian.PutUint16(dst, float16.Fromfloat32(v).Bits())
}

func getHalf(src []byte) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(src)).Float32()
}

// floorHalf returns the largest half precision value not above v.
func floorHalf(v float32) float16.Float16 {
	h := float16.Fromfloat32(v)
	if h.Float32() <= v || h.IsNaN() {
		return h
	}
	bits := h.Bits()
	switch {
	case bits == 0x0000:
		bits = 0x8001
	case bits&0x8000 == 0:
		bits--
	default:
		bits++
	}
	return float16.Frombits(bits)
}

// ceilHalf returns the smallest half precision value not below v.
func ceilHalf(v float32) float16.Float16 {
	h := float16.Fromfloat32(v)
	if h.Float32() >= v || h.IsNaN() {
		return h
	}
	bits := h.Bits()
	switch {
	case bits == 0x8000:
		bits = 0x0001
	case bits&0x8000 == 0:
		bits++
	default:
		bits--
	}
	return float16.Frombits(bits)
}
