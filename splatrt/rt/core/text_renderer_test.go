package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRenderer_EmbeddedFont(t *testing.T) {
	tr, err := NewTextRenderer(16)
	require.NoError(t, err)

	assert.Contains(t, tr.Glyphs, 'A')
	assert.Contains(t, tr.Glyphs, '9')
	assert.NotContains(t, tr.Glyphs, rune(200))

	w1, h1 := tr.MeasureText("fps", 1)
	w2, h2 := tr.MeasureText("fps\nvisible", 1)
	assert.Greater(t, w2, w1)
	assert.InDelta(t, 2*h1, h2, 1e-3)
}

func TestTextRenderer_BuildVertices(t *testing.T) {
	tr, err := NewTextRenderer(16)
	require.NoError(t, err)

	items := []TextItem{{Text: "ab c", Position: [2]float32{10, 10}, Scale: 1, Color: [4]float32{1, 1, 1, 1}}}
	verts := tr.BuildVertices(items, 640, 480)

	// Space has an empty mask in Go Mono, so count only glyphs with area.
	glyphs := 0
	for _, r := range "ab c" {
		if g, ok := tr.Glyphs[r]; ok && g.Size[0] > 0 {
			glyphs++
		}
	}
	assert.GreaterOrEqual(t, len(verts), glyphs*6)
	assert.Zero(t, len(verts)%6)
	for _, v := range verts {
		assert.GreaterOrEqual(t, v.Pos[0], float32(-1))
		assert.LessOrEqual(t, v.Pos[1], float32(1))
	}

	assert.Nil(t, tr.BuildVertices(items, 0, 480))
}

func TestTextRenderer_MissingFile(t *testing.T) {
	_, err := NewTextRendererFromFile("/nonexistent/font.ttf", 12)
	assert.Error(t, err)
}
