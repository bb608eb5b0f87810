package core

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDepthKey_Monotonic(t *testing.T) {
	depths := []float32{-3, -0.5, 0, 0.1, 0.5, 1, 2.5, 100, 1e4}

	for i := 1; i < len(depths); i++ {
		a, b := depths[i-1], depths[i]
		assert.Less(t, EncodeDepthKey(a, FrontToBack), EncodeDepthKey(b, FrontToBack), "%v < %v", a, b)
		assert.Greater(t, EncodeDepthKey(a, BackToFront), EncodeDepthKey(b, BackToFront), "%v > %v", a, b)
	}
}

func TestDecodeDepthKey_RoundTrip(t *testing.T) {
	for _, order := range []DepthOrder{FrontToBack, BackToFront} {
		for _, d := range []float32{-7.25, 0, 0.1, 3.5, 1e4} {
			assert.Equal(t, d, DecodeDepthKey(EncodeDepthKey(d, order), order), "%v %v", order, d)
		}
	}
}

func TestEncodeDepthKey_SortOrder(t *testing.T) {
	depths := []float32{5, 1, 3, 2, 4}
	keys := make([]uint32, len(depths))
	for i, d := range depths {
		keys[i] = EncodeDepthKey(d, BackToFront)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })

	got := make([]float32, len(keys))
	for i, k := range keys {
		got[i] = DecodeDepthKey(k, BackToFront)
	}
	assert.Equal(t, []float32{5, 4, 3, 2, 1}, got)
}

func TestParseDepthOrder(t *testing.T) {
	o, err := ParseDepthOrder("btf")
	require.NoError(t, err)
	assert.Equal(t, BackToFront, o)

	o, err = ParseDepthOrder("")
	require.NoError(t, err)
	assert.Equal(t, FrontToBack, o)

	_, err = ParseDepthOrder("sideways")
	assert.Error(t, err)
}
