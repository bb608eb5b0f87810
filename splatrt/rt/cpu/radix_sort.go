package cpu

import (
	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"
)

const radixBins = 1 << shaders.RadixBits

// MaxSortCount is the largest element count whose block count still fits in
// one dispatch dimension.
const MaxSortCount = MaxWorkgroupsPerDimension * shaders.RadixBlockSize

// Passes is the number of 8-bit digit passes needed for keyBits.
func Passes(keyBits int) int {
	if keyBits <= 0 {
		return 0
	}
	return (keyBits + shaders.RadixBits - 1) / shaders.RadixBits
}

// PassShift is the bit offset of the digit sorted in pass. The passes cover
// the top Passes(keyBits)*8 bits of the key, so sorting fewer bits keeps a
// coarser version of the same order instead of ordering by the low bits.
func PassShift(keyBits, pass int) uint32 {
	return uint32(32 - Passes(keyBits)*shaders.RadixBits + pass*shaders.RadixBits)
}

// CurrentAfter names the ping-pong buffer (0 or 1) that holds valid data
// after passes passes starting from buffer 0.
func CurrentAfter(passes int) int {
	return passes % 2
}

// CheckSortCapacity rejects counts whose block count would overflow a
// dispatch dimension.
func CheckSortCapacity(count uint32) error {
	if count > MaxSortCount {
		return &gsplat.SortCapacityExceededError{Count: count, Max: MaxSortCount}
	}
	return nil
}

// RadixSorter mirrors radix_sort.wgsl: histogram, exclusive scan and a
// stable scatter per pass, ping-ponging between two key/value buffers.
type RadixSorter struct {
	KeyBits int
}

// Sort sorts the pairs stably by the top Passes(KeyBits)*8 bits of each key
// and reports which buffer the result ended in.
func (s RadixSorter) Sort(keys, values []uint32) (outKeys, outValues []uint32, current int) {
	n := uint32(len(keys))
	bufKeys := [2][]uint32{append([]uint32(nil), keys...), make([]uint32, n)}
	bufValues := [2][]uint32{append([]uint32(nil), values...), make([]uint32, n)}

	passes := Passes(s.KeyBits)
	blocks := DivCeil(n, shaders.RadixBlockSize)
	hist := make([]uint32, radixBins*blocks)

	for pass := 0; pass < passes; pass++ {
		src, dst := pass%2, (pass+1)%2
		shift := PassShift(s.KeyBits, pass)

		histogram(hist, bufKeys[src], shift, blocks)
		exclusiveScan(hist)
		scatter(hist, bufKeys[src], bufValues[src], bufKeys[dst], bufValues[dst], shift, blocks)
	}

	current = CurrentAfter(passes)
	return bufKeys[current], bufValues[current], current
}

func digitOf(key, shift uint32) uint32 {
	return (key >> shift) & (radixBins - 1)
}

func histogram(hist, keys []uint32, shift, blocks uint32) {
	clear(hist)
	for i, k := range keys {
		block := uint32(i) / shaders.RadixBlockSize
		hist[digitOf(k, shift)*blocks+block]++
	}
}

func exclusiveScan(hist []uint32) {
	var running uint32
	for i, h := range hist {
		hist[i] = running
		running += h
	}
}

func scatter(hist, keysIn, valuesIn, keysOut, valuesOut []uint32, shift, blocks uint32) {
	// Walking each block in order gives every element its rank among earlier
	// equal digits of the same block, as the shader computes it.
	offsets := make([]uint32, len(hist))
	copy(offsets, hist)
	for i, k := range keysIn {
		block := uint32(i) / shaders.RadixBlockSize
		slot := digitOf(k, shift)*blocks + block
		dst := offsets[slot]
		offsets[slot]++
		keysOut[dst] = k
		valuesOut[dst] = valuesIn[i]
	}
}
