// Package cpu exposes the privileged amd64 instructions used by the memory
// and task managers. The implementations live in cpu_amd64.s; none of them
// can be invoked from user-mode so callers wrap them in mockable function
// variables.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution.
func Halt()

// WaitForInterrupt stops instruction execution until the next interrupt
// arrives.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr
