package gpu

import (
	"fmt"

	"github.com/gekko3d/gsplat"

	"github.com/cogentcore/webgpu/wgpu"
)

// Context is a device without a surface, used for tests, snapshots and
// tools.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
}

// NewHeadlessContext finds an adapter and requests a device whose storage
// binding and buffer limits are raised to what the adapter supports, so
// large scenes are only refused when the hardware really cannot bind them.
func NewHeadlessContext() (*Context, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		instance.Release()
		return nil, fmt.Errorf("%w: %v", gsplat.ErrNoAdapter, err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "gsplat headless device",
		RequiredLimits: RequiredLimits(adapter),
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}

	return &Context{
		Instance: instance,
		Adapter:  adapter,
		Device:   device,
		Queue:    device.GetQueue(),
	}, nil
}

func (c *Context) Release() {
	if c == nil {
		return
	}
	if c.Device != nil {
		c.Device.Release()
	}
	if c.Adapter != nil {
		c.Adapter.Release()
	}
	if c.Instance != nil {
		c.Instance.Release()
	}
}

// RequiredLimits starts from the WebGPU defaults and raises the limits that
// bound the Gaussian buffer size.
func RequiredLimits(adapter *wgpu.Adapter) *wgpu.RequiredLimits {
	supported := adapter.GetLimits()
	limits := wgpu.DefaultLimits()
	limits.MaxStorageBufferBindingSize = max(limits.MaxStorageBufferBindingSize, supported.Limits.MaxStorageBufferBindingSize)
	limits.MaxBufferSize = max(limits.MaxBufferSize, supported.Limits.MaxBufferSize)
	return &wgpu.RequiredLimits{Limits: limits}
}

func MaxStorageBufferBindingSize(device *wgpu.Device) uint64 {
	return uint64(device.GetLimits().Limits.MaxStorageBufferBindingSize)
}

// RenderTarget is an offscreen color attachment that can be read back.
type RenderTarget struct {
	Texture *wgpu.Texture
	View    *wgpu.TextureView
	Width   uint32
	Height  uint32
	Format  wgpu.TextureFormat
}

func NewRenderTarget(device *wgpu.Device, width, height uint32) (*RenderTarget, error) {
	format := wgpu.TextureFormatRGBA8Unorm
	tex, err := device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "gsplat render target",
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &RenderTarget{Texture: tex, View: view, Width: width, Height: height, Format: format}, nil
}

func (rt *RenderTarget) Release() {
	if rt.View != nil {
		rt.View.Release()
	}
	if rt.Texture != nil {
		rt.Texture.Release()
	}
}

// ReadPixels returns tightly packed RGBA8 rows, top row first.
func (rt *RenderTarget) ReadPixels(device *wgpu.Device) ([]byte, error) {
	bytesPerRow := (rt.Width*4 + 255) & ^uint32(255)
	size := uint64(bytesPerRow * rt.Height)

	staging, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gsplat render target readback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyTextureToBuffer(
		rt.Texture.AsImageCopy(),
		&wgpu.ImageCopyBuffer{
			Buffer: staging,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  bytesPerRow,
				RowsPerImage: rt.Height,
			},
		},
		&wgpu.Extent3D{Width: rt.Width, Height: rt.Height, DepthOrArrayLayers: 1},
	)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	device.GetQueue().Submit(cmd)

	data, err := mapRead(device, staging, size)
	if err != nil {
		return nil, err
	}

	pixels := make([]byte, rt.Width*rt.Height*4)
	rowBytes := rt.Width * 4
	for y := uint32(0); y < rt.Height; y++ {
		copy(pixels[y*rowBytes:(y+1)*rowBytes], data[y*bytesPerRow:y*bytesPerRow+rowBytes])
	}
	return pixels, nil
}
