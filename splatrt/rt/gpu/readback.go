package gpu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Download copies size bytes at offset of src into a staging buffer and
// blocks until it is mapped. It submits its own command buffer and is meant
// for tests and tools, never for the frame loop.
func Download(device *wgpu.Device, src *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	padded := (size + 3) &^ 3

	staging, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gsplat readback",
		Size:  padded,
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
	encoder.CopyBufferToBuffer(src, offset, staging, 0, padded)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	device.GetQueue().Submit(cmd)

	data, err := mapRead(device, staging, padded)
	if err != nil {
		return nil, err
	}
	return data[:size], nil
}

func DownloadUint32s(device *wgpu.Device, src *wgpu.Buffer, count uint32) ([]uint32, error) {
	data, err := Download(device, src, 0, uint64(count)*4)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out, nil
}

func mapRead(device *wgpu.Device, buf *wgpu.Buffer, size uint64) ([]byte, error) {
	var status wgpu.BufferMapAsyncStatus
	err := buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return nil, err
	}
	device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("gsplat: buffer map failed with status %v", status)
	}

	data := buf.GetMappedRange(0, uint(size))
	out := make([]byte, len(data))
	copy(out, data)
	buf.Unmap()
	return out, nil
}

// Visible counter readback states.
const (
	counterIdle = iota
	counterCopied
	counterMapping
	counterMapped
)

// VisibleCounter reports the visible Gaussian count a few frames late
// without stalling: the frame encoder copies the draw arguments when the
// staging buffer is idle, and Poll maps it without waiting.
type VisibleCounter struct {
	device  *wgpu.Device
	staging *wgpu.Buffer

	mu    sync.Mutex
	state int
	last  uint32
}

func NewVisibleCounter(device *wgpu.Device) (*VisibleCounter, error) {
	staging, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gsplat visible count readback",
		Size:  drawArgsSize,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, err
	}
	return &VisibleCounter{device: device, staging: staging}, nil
}

// Encode records the copy if no readback is in flight.
func (c *VisibleCounter) Encode(encoder *wgpu.CommandEncoder, drawArgs *wgpu.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != counterIdle {
		return
	}
	encoder.CopyBufferToBuffer(drawArgs, 0, c.staging, 0, drawArgsSize)
	c.state = counterCopied
}

// Poll advances the readback after the frame was submitted and returns the
// latest known count.
func (c *VisibleCounter) Poll() uint32 {
	c.mu.Lock()
	if c.state == counterCopied {
		c.state = counterMapping
		err := c.staging.MapAsync(wgpu.MapModeRead, 0, drawArgsSize, func(status wgpu.BufferMapAsyncStatus) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if status == wgpu.BufferMapAsyncStatusSuccess {
				c.state = counterMapped
			} else {
				c.state = counterIdle
			}
		})
		if err != nil {
			c.state = counterIdle
		}
	}
	c.mu.Unlock()

	c.device.Poll(false, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == counterMapped {
		data := c.staging.GetMappedRange(0, drawArgsSize)
		c.last = binary.LittleEndian.Uint32(data[4:])
		c.staging.Unmap()
		c.state = counterIdle
	}
	return c.last
}

func (c *VisibleCounter) Last() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *VisibleCounter) Release() {
	if c.staging != nil {
		c.staging.Release()
	}
}
