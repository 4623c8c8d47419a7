// Package mm contains the types shared by the physical and virtual memory
// managers together with the direct map that lets the kernel reach any
// physical address.
package mm

import (
	"math"
	"rotomos/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

var (
	// ErrOutOfPages is returned by frame allocators when the pool of free
	// physical frames has been exhausted. Callers may reclaim memory and
	// retry; the allocator itself never retries.
	ErrOutOfPages = &kernel.Error{Module: "pmm", Message: "out of physical pages"}

	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// frameFreer points to a function registered using SetFrameFreer
	// that returns frames to the allocator.
	frameFreer FrameFreerFn

	errNoFrameFreer = &kernel.Error{Module: "pmm", Message: "no frame freer registered"}
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm and task code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator. It returns ErrOutOfPages if no allocator has
// been registered yet.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, ErrOutOfPages
	}
	return frameAllocator()
}

// FrameFreerFn is a function that can release physical frames.
type FrameFreerFn func(Frame) *kernel.Error

// SetFrameFreer registers the function used by FreeFrame to hand frames back
// to the physical frame allocator.
func SetFrameFreer(freeFn FrameFreerFn) { frameFreer = freeFn }

// FreeFrame releases a frame previously obtained via AllocFrame using the
// currently registered frame freer.
func FreeFrame(frame Frame) *kernel.Error {
	if frameFreer == nil {
		return errNoFrameFreer
	}
	return frameFreer(frame)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. Addresses that are not page-aligned are rounded down to the page
// that contains them.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}
