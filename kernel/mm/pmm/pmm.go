// Package pmm manages the allocation of physical memory frames.
package pmm

import (
	"rotomos/kernel"
	"rotomos/kernel/hal/limine"
	"rotomos/kernel/kfmt"
	"rotomos/kernel/mm"
)

var (
	// frameAllocator is the physical frame allocator used by the kernel.
	frameAllocator FreeListAllocator
)

// Init builds the kernel's frame allocator from the memory map reported by
// the bootloader and registers its AllocFrame and FreeFrame functions with
// the mm package. The direct map must already be set up.
func Init() *kernel.Error {
	printMemoryMap()

	frameAllocator.Build()
	kfmt.Printf("[pmm] free frames: %d (%d Kb)\n",
		frameAllocator.FreeCount(),
		frameAllocator.FreeCount()<<(mm.PageShift-10),
	)

	if frameAllocator.FreeCount() == 0 {
		return mm.ErrOutOfPages
	}

	mm.SetFrameAllocator(AllocFrame)
	mm.SetFrameFreer(FreeFrame)
	return nil
}

// AllocFrame reserves a frame using the kernel's frame allocator.
func AllocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// FreeFrame returns a frame to the kernel's frame allocator.
func FreeFrame(frame mm.Frame) *kernel.Error {
	return frameAllocator.FreeFrame(frame)
}

// printMemoryMap prints the memory map reported by the bootloader.
func printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalUsable mm.Size
	visitMemRegionsFn(func(region *limine.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.Base, region.Base+region.Length, region.Length, region.Type.String(),
		)

		if region.Type == limine.MemUsable {
			totalUsable += mm.Size(region.Length)
		}
		return true
	})

	kfmt.Printf("[pmm] usable memory: %dKb\n", uint64(totalUsable/mm.Kb))
}
