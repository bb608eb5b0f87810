package cpu

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasses(t *testing.T) {
	assert.Equal(t, 0, Passes(0))
	assert.Equal(t, 1, Passes(1))
	assert.Equal(t, 1, Passes(8))
	assert.Equal(t, 2, Passes(9))
	assert.Equal(t, 3, Passes(24))
	assert.Equal(t, 4, Passes(32))
}

func TestPassShift(t *testing.T) {
	assert.Equal(t, []uint32{0, 8, 16, 24}, []uint32{PassShift(32, 0), PassShift(32, 1), PassShift(32, 2), PassShift(32, 3)})
	assert.Equal(t, []uint32{8, 16, 24}, []uint32{PassShift(24, 0), PassShift(24, 1), PassShift(24, 2)})
	assert.Equal(t, uint32(16), PassShift(12, 0))
	assert.Equal(t, uint32(24), PassShift(1, 0))
}

func TestRadixSorter_FewerBitsKeepDepthOrder(t *testing.T) {
	depths := []float32{1.5, 1.0000001, 3, 2}
	keys := make([]uint32, len(depths))
	values := make([]uint32, len(depths))
	for i, d := range depths {
		keys[i] = core.EncodeDepthKey(d, core.FrontToBack)
		values[i] = uint32(i)
	}

	for _, bits := range []int{16, 24, 32} {
		_, gotValues, _ := RadixSorter{KeyBits: bits}.Sort(keys, values)
		assert.Equal(t, []uint32{1, 0, 3, 2}, gotValues, "bits=%d", bits)
	}

	// One digit only sees the sign and most of the exponent: [1, 2) and
	// [2, 4) tie internally and keep their input order.
	_, gotValues, _ := RadixSorter{KeyBits: 8}.Sort(keys, values)
	assert.Equal(t, []uint32{0, 1, 2, 3}, gotValues)
}

func TestCurrentAfter_Parity(t *testing.T) {
	assert.Equal(t, 0, CurrentAfter(0))
	assert.Equal(t, 1, CurrentAfter(1))
	assert.Equal(t, 0, CurrentAfter(2))
	assert.Equal(t, 1, CurrentAfter(3))
	assert.Equal(t, 0, CurrentAfter(4))
}

func TestCheckSortCapacity(t *testing.T) {
	assert.NoError(t, CheckSortCapacity(MaxSortCount))

	err := CheckSortCapacity(MaxSortCount + 1)
	var capErr *gsplat.SortCapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, uint32(MaxSortCount+1), capErr.Count)
	assert.Equal(t, uint32(MaxSortCount), capErr.Max)
}

func TestRadixSorter_SortsAndIsStable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{0, 1, 2, 255, 256, 257, 1000, 5000} {
		for _, bits := range []int{8, 16, 24, 32} {
			keys := make([]uint32, n)
			values := make([]uint32, n)
			for i := range keys {
				// Few distinct keys so stability is observable.
				keys[i] = uint32(rng.Intn(50)) * 0x01010101
				values[i] = uint32(i)
			}

			gotKeys, gotValues, current := RadixSorter{KeyBits: bits}.Sort(keys, values)
			assert.Equal(t, CurrentAfter(Passes(bits)), current)

			shift := PassShift(bits, 0)
			type pair struct{ k, v uint32 }
			want := make([]pair, n)
			for i := range want {
				want[i] = pair{keys[i], values[i]}
			}
			sort.SliceStable(want, func(a, b int) bool { return want[a].k>>shift < want[b].k>>shift })

			require.Len(t, gotKeys, n)
			for i := range want {
				assert.Equal(t, want[i].k, gotKeys[i], "n=%d bits=%d i=%d", n, bits, i)
				assert.Equal(t, want[i].v, gotValues[i], "n=%d bits=%d i=%d", n, bits, i)
			}
		}
	}
}

func TestRadixSorter_DoesNotModifyInput(t *testing.T) {
	keys := []uint32{3, 1, 2}
	values := []uint32{0, 1, 2}
	RadixSorter{KeyBits: 32}.Sort(keys, values)
	assert.Equal(t, []uint32{3, 1, 2}, keys)
	assert.Equal(t, []uint32{0, 1, 2}, values)
}
