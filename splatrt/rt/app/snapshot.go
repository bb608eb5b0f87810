package app

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/gpu"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// SnapshotImage wraps tightly packed RGBA8 rows. Splat output is already
// premultiplied, which is what image.RGBA stores.
func SnapshotImage(pixels []byte, width, height int) (*image.RGBA, error) {
	if len(pixels) != width*height*4 {
		return nil, fmt.Errorf("snapshot: %d bytes for %dx%d pixels", len(pixels), width, height)
	}
	return &image.RGBA{
		Pix:    pixels,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

// WriteImage encodes pixels by the extension of path: .png, .bmp, .tif or
// .tiff.
func WriteImage(path string, pixels []byte, width, height int) error {
	img, err := SnapshotImage(pixels, width, height)
	if err != nil {
		return err
	}

	var encode func(f *os.File) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".bmp":
		encode = func(f *os.File) error { return bmp.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error { return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}) }
	default:
		return fmt.Errorf("snapshot: unsupported image extension %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: encode %s: %w", path, err)
	}
	return f.Close()
}

// RenderSnapshot renders one frame of scene offscreen on a headless device.
func RenderSnapshot(scene *core.Gaussians, cfg gpu.ViewerConfig, camera *core.Camera, width, height uint32) ([]byte, error) {
	ctx, err := gpu.NewHeadlessContext()
	if err != nil {
		return nil, err
	}
	defer ctx.Release()

	target, err := gpu.NewRenderTarget(ctx.Device, width, height)
	if err != nil {
		return nil, err
	}
	defer target.Release()

	viewer, err := gpu.NewViewer(ctx.Device, target.Format, scene.Items, cfg)
	if err != nil {
		return nil, err
	}
	defer viewer.Release()

	viewer.UpdateCamera(camera, width, height)
	if err := viewer.RenderFrame(target.View); err != nil {
		return nil, err
	}
	return target.ReadPixels(ctx.Device)
}

func SaveSnapshot(path string, scene *core.Gaussians, cfg gpu.ViewerConfig, camera *core.Camera, width, height uint32) error {
	pixels, err := RenderSnapshot(scene, cfg, camera, width, height)
	if err != nil {
		return err
	}
	return WriteImage(path, pixels, int(width), int(height))
}
