// Package vmm manages the amd64 4-level page tables.
package vmm

import (
	"rotomos/kernel"
	"rotomos/kernel/cpu"
	"rotomos/kernel/kfmt"
	"rotomos/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePDTFn     = cpu.ActivePDT
	switchPDTFn     = cpu.SwitchPDT
	flushTLBEntryFn = cpu.FlushTLBEntry
	panicFn         = kfmt.Panic

	// kernelPageTable is the top-level table that was active when Init
	// was called.
	kernelPageTable PageTable

	// activeFrame is the frame of the top-level table loaded by the CPU as
	// far as this package knows. It is updated by Init and Activate.
	activeFrame = mm.InvalidFrame

	errDirectMapNotCovered = &kernel.Error{Module: "vmm", Message: "direct map does not cover the active page table"}
)

// Init records the currently active top-level table as the kernel page table
// and verifies that the table itself is reachable through the direct map.
// The direct map must already be set up.
func Init() *kernel.Error {
	kernelPageTable = ActivePageTable()
	activeFrame = kernelPageTable.frame

	rootAddr := kernelPageTable.frame.Address()
	physAddr, err := kernelPageTable.Translate(mm.PhysToVirt(rootAddr))
	if err != nil || physAddr != rootAddr {
		return errDirectMapNotCovered
	}

	kfmt.Printf("[vmm] kernel page table at 0x%x\n", rootAddr)
	return nil
}

// KernelPageTable returns the page table recorded by Init.
func KernelPageTable() PageTable {
	return kernelPageTable
}
