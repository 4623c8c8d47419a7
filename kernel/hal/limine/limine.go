// Package limine reads the information that a Limine-compatible bootloader
// hands over to the kernel: the physical memory map, the offset of the higher
// half direct map (HHDM) and the bootloader identification strings.
//
// The bootloader locates the request structures declared below by scanning
// the kernel image for their magic identifiers and fills in their response
// pointers before jumping to the kernel entrypoint.
package limine

import (
	"reflect"
	"unsafe"
)

const (
	commonMagic0 = 0xc7b1dd30df4c8b88
	commonMagic1 = 0x0a82e883a194f07b
)

// request is the header shared by all Limine requests.
type request struct {
	id       [4]uint64
	revision uint64

	// response is populated by the bootloader with the physical (HHDM
	// mapped) address of the response structure or left at 0 if the
	// request was not honored.
	response uintptr
}

// memmapResponse describes the memory map response layout.
type memmapResponse struct {
	revision   uint64
	entryCount uint64

	// entries points to an array of entryCount pointers, one for each
	// memory map entry.
	entries uintptr
}

// hhdmResponse describes the higher half direct map response layout.
type hhdmResponse struct {
	revision uint64
	offset   uint64
}

// bootInfoResponse describes the bootloader info response layout.
type bootInfoResponse struct {
	revision uint64

	// name and version point to NUL-terminated strings.
	name    uintptr
	version uintptr
}

var (
	memmapRequest = request{
		id: [4]uint64{commonMagic0, commonMagic1, 0x67cf3d9d378a806f, 0xe304acdfc50c3c62},
	}

	hhdmRequest = request{
		id: [4]uint64{commonMagic0, commonMagic1, 0x48dcf1cb8ad2b852, 0x63984e959a98244b},
	}

	bootInfoRequest = request{
		id: [4]uint64{commonMagic0, commonMagic1, 0xf55038d8e2a1202f, 0x279426fcf5f59740},
	}
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint64

const (
	// MemUsable indicates that the memory region is available for use.
	MemUsable MemoryEntryType = iota

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI tables
	// which can be reused by the OS after they have been parsed.
	MemAcpiReclaimable

	// MemAcpiNvs indicates memory that must be preserved when hibernating.
	MemAcpiNvs

	// MemBadMemory indicates a region with defective RAM.
	MemBadMemory

	// MemBootloaderReclaimable holds bootloader structures (including the
	// responses read by this package).
	MemBootloaderReclaimable

	// MemKernelAndModules holds the loaded kernel image and its modules.
	MemKernelAndModules

	// MemFramebuffer covers the framebuffer memory.
	MemFramebuffer
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemUsable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemAcpiNvs:
		return "ACPI NVS"
	case MemBadMemory:
		return "bad memory"
	case MemBootloaderReclaimable:
		return "bootloader (reclaimable)"
	case MemKernelAndModules:
		return "kernel and modules"
	case MemFramebuffer:
		return "framebuffer"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	Base uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// VisitMemRegions invokes the supplied visitor for each memory region
// reported by the bootloader, in the order they were reported.
func VisitMemRegions(visitor MemRegionVisitor) {
	if memmapRequest.response == 0 {
		return
	}

	resp := (*memmapResponse)(unsafe.Pointer(memmapRequest.response))
	for index := uint64(0); index < resp.entryCount; index++ {
		entryPtr := *(*uintptr)(unsafe.Pointer(resp.entries + uintptr(index<<3)))
		if !visitor((*MemoryMapEntry)(unsafe.Pointer(entryPtr))) {
			return
		}
	}
}

// HHDMOffset returns the offset of the higher half direct map: the virtual
// address at which physical address 0 is mapped. The second return value is
// false if the bootloader did not answer the request.
func HHDMOffset() (uintptr, bool) {
	if hhdmRequest.response == 0 {
		return 0, false
	}

	return uintptr((*hhdmResponse)(unsafe.Pointer(hhdmRequest.response)).offset), true
}

// BootloaderInfo returns the name and version reported by the bootloader.
// Both strings are empty if the bootloader did not answer the request. The
// returned strings alias bootloader memory; no copy is made.
func BootloaderInfo() (name, version string) {
	if bootInfoRequest.response == 0 {
		return "", ""
	}

	resp := (*bootInfoResponse)(unsafe.Pointer(bootInfoRequest.response))
	return cString(resp.name), cString(resp.version)
}

// cString overlays a Go string on top of the NUL-terminated string at addr.
func cString(addr uintptr) string {
	if addr == 0 {
		return ""
	}

	var strLen int
	for *(*byte)(unsafe.Pointer(addr + uintptr(strLen))) != 0 {
		strLen++
	}

	return *(*string)(unsafe.Pointer(&reflect.StringHeader{
		Data: addr,
		Len:  strLen,
	}))
}
