package mm

import (
	"rotomos/kernel"
	"rotomos/kernel/kfmt"
	"unsafe"
)

var (
	// dmapOffset is added to a physical address to obtain a virtual alias
	// for it. It is written once during boot and never changes afterwards.
	dmapOffset uintptr
	dmapReady  bool

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// ErrDirectMapUninitialized is raised when physical memory is accessed
	// before SetDirectMapOffset has been called.
	ErrDirectMapUninitialized = &kernel.Error{Module: "dmap", Message: "physical memory accessed before the direct map offset was set"}

	errDirectMapAlreadySet = &kernel.Error{Module: "dmap", Message: "direct map offset cannot be changed once set"}
)

// SetDirectMapOffset establishes the offset of the direct map. It must be
// called exactly once, before any physical memory is accessed. Attempts to
// change an already established offset are fatal.
func SetDirectMapOffset(offset uintptr) {
	if dmapReady && offset != dmapOffset {
		panicFn(errDirectMapAlreadySet)
		return
	}

	dmapOffset, dmapReady = offset, true
}

// DirectMapOffset returns the direct map offset and whether it has been set.
func DirectMapOffset() (uintptr, bool) {
	return dmapOffset, dmapReady
}

// PhysToVirt returns the direct map virtual address for physAddr.
func PhysToVirt(physAddr uintptr) uintptr {
	if !dmapReady {
		panicFn(ErrDirectMapUninitialized)
	}

	return physAddr + dmapOffset
}

// PhysPtr returns a pointer through which the memory at physAddr can be read
// or written. Every access to raw physical memory (free list nodes, page
// table entries, task records) goes through this function.
func PhysPtr(physAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(PhysToVirt(physAddr))
}
