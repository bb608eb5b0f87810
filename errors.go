package gsplat

import (
	"errors"
	"fmt"
)

var (
	ErrNoAdapter        = errors.New("gsplat: no compatible GPU adapter")
	ErrInvalidShDegree  = errors.New("gsplat: SH degree must be in [0, 3]")
	ErrGaussianRange    = errors.New("gsplat: gaussian update out of range")
	ErrUnknownPrecision = errors.New("gsplat: unknown precision configuration")
	ErrModelNotFound    = errors.New("gsplat: model not found")
)

// ModelSizeExceedsDeviceLimitError is returned at construction when the packed
// Gaussian buffer cannot be bound as a single storage binding on the device.
type ModelSizeExceedsDeviceLimitError struct {
	ModelSize   uint64
	DeviceLimit uint64
}

func (e *ModelSizeExceedsDeviceLimitError) Error() string {
	return fmt.Sprintf("gsplat: model size %d bytes exceeds device max storage buffer binding size %d bytes; use a more compact SH/covariance precision or a smaller scene",
		e.ModelSize, e.DeviceLimit)
}

// SortCapacityExceededError is returned when the number of sort blocks would
// not fit in a single indirect dispatch dimension.
type SortCapacityExceededError struct {
	Count uint32
	Max   uint32
}

func (e *SortCapacityExceededError) Error() string {
	return fmt.Sprintf("gsplat: %d gaussians exceed radix sort capacity of %d", e.Count, e.Max)
}

// ModelCountMismatchError is returned when a multi model render is not given
// exactly one draw key per model.
type ModelCountMismatchError struct {
	ModelCount int
	KeysLen    int
}

func (e *ModelCountMismatchError) Error() string {
	return fmt.Sprintf("gsplat: %d draw keys given for %d models", e.KeysLen, e.ModelCount)
}

type ShaderCompileError struct {
	Label string
	Err   error
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("gsplat: shader %q failed to compile: %v", e.Label, e.Err)
}

func (e *ShaderCompileError) Unwrap() error { return e.Err }

// SurfaceAcquireError reports a failed swapchain texture acquisition.
// The frame is skipped; rendering resumes on the next frame.
type SurfaceAcquireError struct {
	Err error
}

func (e *SurfaceAcquireError) Error() string {
	return fmt.Sprintf("gsplat: surface texture acquisition failed: %v", e.Err)
}

func (e *SurfaceAcquireError) Unwrap() error { return e.Err }

func (e *SurfaceAcquireError) Recoverable() bool { return true }

// IsRecoverable reports whether err only requires skipping the current frame.
func IsRecoverable(err error) bool {
	var r interface{ Recoverable() bool }
	return errors.As(err, &r) && r.Recoverable()
}
