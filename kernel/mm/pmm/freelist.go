package pmm

import (
	"rotomos/kernel"
	"rotomos/kernel/hal/limine"
	"rotomos/kernel/mm"
)

var (
	// visitMemRegionsFn is mocked by tests and is automatically inlined by
	// the compiler.
	visitMemRegionsFn = limine.VisitMemRegions

	errFreeInvalidFrame = &kernel.Error{Module: "pmm", Message: "attempted to free an invalid frame"}
)

// freeFrameNode overlays the contents of a free physical frame. A frame is
// either linked into the free list (and holds a node) or in use (and holds
// arbitrary data); never both.
type freeFrameNode struct {
	// frame is the frame that hosts this node.
	frame mm.Frame

	// next is the following free frame or mm.InvalidFrame for the last
	// node in the list.
	next mm.Frame
}

// FreeListAllocator manages physical frames using a singly linked free list
// whose nodes are stored inside the free frames themselves. This requires no
// bookkeeping memory and provides O(1) allocations and deallocations. Frames
// are handed out in LIFO order.
//
// The zero value is an empty allocator; Build populates it from the memory
// map reported by the bootloader. The allocator accesses frame contents via
// the direct map which must be set up before calling any of its methods.
type FreeListAllocator struct {
	// head is the first frame in the free list. It only holds a valid
	// frame after Build has pushed at least one frame to the list.
	head  mm.Frame
	built bool

	freeCount  uint64
	totalCount uint64
}

// Build scans the memory map and pushes every frame of each usable region to
// the free list. Region boundaries that are not page-aligned are rounded
// inwards so only whole frames are used. Any previously tracked frames are
// discarded.
func (alloc *FreeListAllocator) Build() {
	alloc.head, alloc.built = mm.InvalidFrame, true
	alloc.freeCount, alloc.totalCount = 0, 0

	visitMemRegionsFn(func(region *limine.MemoryMapEntry) bool {
		if region.Type != limine.MemUsable {
			return true
		}

		pageSizeMinus1 := uint64(mm.PageSize - 1)
		startAddr := (region.Base + pageSizeMinus1) & ^pageSizeMinus1
		endAddr := (region.Base + region.Length) & ^pageSizeMinus1

		for addr := startAddr; addr < endAddr; addr += uint64(mm.PageSize) {
			alloc.push(mm.FrameFromAddress(uintptr(addr)))
			alloc.totalCount++
		}

		return true
	})
}

// AllocFrame removes the frame at the head of the free list and returns it.
// If the free list is empty AllocFrame returns mm.ErrOutOfPages.
func (alloc *FreeListAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if !alloc.built || !alloc.head.Valid() {
		return mm.InvalidFrame, mm.ErrOutOfPages
	}

	node := nodeAt(alloc.head)
	frame := node.frame
	alloc.head = node.next
	alloc.freeCount--

	return frame, nil
}

// FreeFrame returns frame to the allocator. The frame becomes the next one
// handed out by AllocFrame.
func (alloc *FreeListAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if !frame.Valid() {
		return errFreeInvalidFrame
	}

	if !alloc.built {
		alloc.head, alloc.built = mm.InvalidFrame, true
	}

	alloc.push(frame)
	return nil
}

// FreeCount returns the number of frames currently in the free list.
func (alloc *FreeListAllocator) FreeCount() uint64 {
	return alloc.freeCount
}

// TotalCount returns the number of frames discovered by the last call to
// Build.
func (alloc *FreeListAllocator) TotalCount() uint64 {
	return alloc.totalCount
}

// push writes a free list node into frame and makes it the list head.
func (alloc *FreeListAllocator) push(frame mm.Frame) {
	node := nodeAt(frame)
	node.frame = frame
	node.next = alloc.head

	alloc.head = frame
	alloc.freeCount++
}

// nodeAt returns the free list node stored inside frame.
func nodeAt(frame mm.Frame) *freeFrameNode {
	return (*freeFrameNode)(mm.PhysPtr(frame.Address()))
}
