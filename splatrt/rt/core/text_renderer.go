package core

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextVertex is one corner of a HUD glyph quad: clip position, atlas UV and
// color, 32 bytes.
type TextVertex struct {
	Pos   [2]float32
	UV    [2]float32
	Color [4]float32
}

type TextItem struct {
	Text     string
	Position [2]float32 // pixels from the top-left corner
	Scale    float32
	Color    [4]float32
}

type GlyphInfo struct {
	UVMin [2]float32
	UVMax [2]float32
	Size  [2]float32
	Off   [2]float32
	Adv   float32
}

// TextRenderer rasterizes printable ASCII into a single alpha atlas used by
// the HUD overlay.
type TextRenderer struct {
	AtlasImage *image.Alpha
	Glyphs     map[rune]GlyphInfo
	Face       font.Face
}

const textAtlasSize = 512

// NewTextRenderer uses the embedded Go Mono face, so the HUD needs no font
// files on disk.
func NewTextRenderer(fontSize float64) (*TextRenderer, error) {
	return newTextRendererFromTTF(gomono.TTF, fontSize)
}

func NewTextRendererFromFile(fontPath string, fontSize float64) (*TextRenderer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	return newTextRendererFromTTF(fontBytes, fontSize)
}

func newTextRendererFromTTF(ttf []byte, fontSize float64) (*TextRenderer, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face: %w", err)
	}

	atlas, glyphs := packGlyphs(face)
	return &TextRenderer{
		AtlasImage: atlas,
		Glyphs:     glyphs,
		Face:       face,
	}, nil
}

func packGlyphs(face font.Face) (*image.Alpha, map[rune]GlyphInfo) {
	atlas := image.NewAlpha(image.Rect(0, 0, textAtlasSize, textAtlasSize))
	glyphs := make(map[rune]GlyphInfo)

	x, y := 2, 2
	rowHeight := 0

	for r := rune(32); r < 127; r++ {
		bounds, mask, _, adv, ok := face.Glyph(fixed.Point26_6{}, r)
		if !ok {
			continue
		}

		w := mask.Bounds().Dx()
		h := mask.Bounds().Dy()

		if x+w >= textAtlasSize {
			x = 2
			y += rowHeight + 4
			rowHeight = 0
		}
		if y+h >= textAtlasSize {
			break
		}

		draw.Draw(atlas, image.Rect(x, y, x+w, y+h), mask, mask.Bounds().Min, draw.Src)

		glyphs[r] = GlyphInfo{
			UVMin: [2]float32{float32(x) / textAtlasSize, float32(y) / textAtlasSize},
			UVMax: [2]float32{float32(x+w) / textAtlasSize, float32(y+h) / textAtlasSize},
			Size:  [2]float32{float32(w), float32(h)},
			Off:   [2]float32{float32(bounds.Min.X), float32(bounds.Min.Y)},
			Adv:   float32(adv) / 64.0,
		}

		x += w + 4
		if h > rowHeight {
			rowHeight = h
		}
	}

	return atlas, glyphs
}

// BuildVertices lays out items as two triangles per glyph in clip space.
func (tr *TextRenderer) BuildVertices(items []TextItem, screenW, screenH int) []TextVertex {
	if tr == nil || screenW <= 0 || screenH <= 0 {
		return nil
	}
	vertices := make([]TextVertex, 0, len(items)*6)

	sw := float32(screenW)
	sh := float32(screenH)
	metrics := tr.Face.Metrics()
	ascent := float32(metrics.Ascent.Ceil())
	lineHeight := float32(metrics.Height.Ceil())

	toClip := func(px, py float32) [2]float32 {
		return [2]float32{px/sw*2.0 - 1.0, 1.0 - py/sh*2.0}
	}

	for _, item := range items {
		startX := item.Position[0]
		posX := startX
		posY := item.Position[1] + ascent*item.Scale

		for _, r := range item.Text {
			if r == '\n' {
				posX = startX
				posY += lineHeight * item.Scale
				continue
			}

			g, ok := tr.Glyphs[r]
			if !ok {
				continue
			}

			p0 := toClip(posX+g.Off[0]*item.Scale, posY+g.Off[1]*item.Scale)
			p1 := toClip(posX+(g.Off[0]+g.Size[0])*item.Scale, posY+(g.Off[1]+g.Size[1])*item.Scale)

			topL := TextVertex{Pos: p0, UV: g.UVMin, Color: item.Color}
			topR := TextVertex{Pos: [2]float32{p1[0], p0[1]}, UV: [2]float32{g.UVMax[0], g.UVMin[1]}, Color: item.Color}
			botL := TextVertex{Pos: [2]float32{p0[0], p1[1]}, UV: [2]float32{g.UVMin[0], g.UVMax[1]}, Color: item.Color}
			botR := TextVertex{Pos: p1, UV: g.UVMax, Color: item.Color}

			vertices = append(vertices, topL, topR, botL, topR, botR, botL)

			posX += g.Adv * item.Scale
		}
	}

	return vertices
}

func (tr *TextRenderer) MeasureText(text string, scale float32) (float32, float32) {
	if tr == nil {
		return 0, 0
	}

	lineHeight := float32(tr.Face.Metrics().Height.Ceil())

	maxW := float32(0)
	currentW := float32(0)
	lines := 1

	for _, r := range text {
		if r == '\n' {
			maxW = max(maxW, currentW)
			currentW = 0
			lines++
			continue
		}
		if g, ok := tr.Glyphs[r]; ok {
			currentW += g.Adv * scale
		}
	}

	return max(maxW, currentW), lineHeight * scale * float32(lines)
}
