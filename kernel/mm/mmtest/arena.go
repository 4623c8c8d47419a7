// Package mmtest simulates physical memory so that the memory and task
// managers can be exercised by regular Go tests. An Arena is a page-aligned
// block of Go memory that is exposed to the kernel code as a range of
// physical frames reachable through the direct map.
package mmtest

import (
	"rotomos/kernel/hal/limine"
	"rotomos/kernel/mm"
	"unsafe"
)

// DirectMapOffset is the direct map offset installed by NewArena. It is
// deliberately non-zero so that code which forgets to translate physical
// addresses through the direct map touches the wrong memory.
const DirectMapOffset = uintptr(0x1000000000)

// liveArenas keeps every arena reachable for the lifetime of the test binary.
// Kernel code only holds physical addresses into an arena, which the garbage
// collector does not treat as references.
var liveArenas []*Arena

// Arena is a simulated block of physical memory.
type Arena struct {
	backing []byte

	// base is the physical address of the first frame in the arena.
	base   uintptr
	frames int
}

// NewArena allocates an arena with room for frameCount frames and installs
// DirectMapOffset as the direct map offset.
func NewArena(frameCount int) *Arena {
	backing := make([]byte, (frameCount+1)*int(mm.PageSize))
	virt := (uintptr(unsafe.Pointer(&backing[0])) + mm.PageSize - 1) & ^(mm.PageSize - 1)
	if virt < DirectMapOffset {
		panic("mmtest: arena allocated below the direct map offset")
	}

	mm.SetDirectMapOffset(DirectMapOffset)
	arena := &Arena{
		backing: backing,
		base:    virt - DirectMapOffset,
		frames:  frameCount,
	}
	liveArenas = append(liveArenas, arena)
	return arena
}

// Base returns the physical address of the first arena frame.
func (a *Arena) Base() uintptr { return a.base }

// FrameCount returns the number of frames in the arena.
func (a *Arena) FrameCount() int { return a.frames }

// Frame returns the index'th frame of the arena.
func (a *Arena) Frame(index int) mm.Frame {
	return mm.FrameFromAddress(a.base) + mm.Frame(index)
}

// Contains returns true if frame belongs to the arena.
func (a *Arena) Contains(frame mm.Frame) bool {
	first := a.Frame(0)
	return frame >= first && frame < first+mm.Frame(a.frames)
}

// Words returns the contents of frame as a slice of machine words.
func (a *Arena) Words(frame mm.Frame) *[mm.PageSize >> mm.PointerShift]uintptr {
	return (*[mm.PageSize >> mm.PointerShift]uintptr)(mm.PhysPtr(frame.Address()))
}

// Region returns a memory map entry that covers frameCount frames starting
// at the index'th arena frame.
func (a *Arena) Region(index, frameCount int, typ limine.MemoryEntryType) limine.MemoryMapEntry {
	return limine.MemoryMapEntry{
		Base:   uint64(a.Frame(index).Address()),
		Length: uint64(frameCount) << mm.PageShift,
		Type:   typ,
	}
}

// MemoryMap returns a function with the same signature as
// limine.VisitMemRegions that visits the supplied entries.
func MemoryMap(entries ...limine.MemoryMapEntry) func(limine.MemRegionVisitor) {
	return func(visitor limine.MemRegionVisitor) {
		for i := range entries {
			if !visitor(&entries[i]) {
				return
			}
		}
	}
}
