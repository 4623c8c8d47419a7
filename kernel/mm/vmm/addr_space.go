package vmm

import (
	"rotomos/kernel"
	"rotomos/kernel/mm"
)

var (
	// reserveLastUsed tracks the last reserved page address and is
	// decreased after each allocation request. Initially, it points to
	// reserveRegionEnd.
	reserveLastUsed = reserveRegionEnd

	errReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// ReserveRegion reserves a page-aligned contiguous virtual memory region
// with the requested size in the kernel half of the address space and
// returns its virtual address. If size is not a multiple of mm.PageSize it
// will be automatically rounded up.
//
// Regions are handed out downwards starting at reserveRegionEnd and are
// never released. Reserving a region does not map it.
func ReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	if size > reserveLastUsed-reserveRegionStart {
		return 0, errReserveNoSpace
	}

	reserveLastUsed -= size
	return reserveLastUsed, nil
}
