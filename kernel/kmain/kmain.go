// Package kmain contains the kernel entrypoint.
package kmain

import (
	"rotomos/kernel"
	"rotomos/kernel/cpu"
	"rotomos/kernel/hal/limine"
	"rotomos/kernel/kfmt"
	"rotomos/kernel/mm"
	"rotomos/kernel/mm/pmm"
	"rotomos/kernel/mm/vmm"
	"rotomos/kernel/task"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	hhdmOffsetFn = limine.HHDMOffset
	pmmInitFn    = pmm.Init
	vmmInitFn    = vmm.Init
	taskInitFn   = task.Init

	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	waitForInterruptFn  = cpu.WaitForInterrupt

	errMissingHHDM = &kernel.Error{Module: "kmain", Message: "bootloader did not report a direct map offset"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The bootloader has already switched to long mode, set
// up a GDT and mapped all physical memory at the direct map offset, so Kmain
// only needs to bring up the memory and task managers.
//
// Once the boot task is registered, Kmain enables interrupts and idles. From
// that point on the timer trap path drives task.Switch. Kmain is not
// expected to return.
//
//go:noinline
func Kmain() {
	if err := boot(); err != nil {
		kfmt.Panic(err)
	}

	kfmt.Printf("[kmain] boot complete\n")
	enableInterruptsFn()
	for {
		waitForInterruptFn()
	}
}

// boot initializes the kernel subsystems in dependency order. Interrupts
// stay disabled until boot returns.
func boot() *kernel.Error {
	disableInterruptsFn()

	name, version := limine.BootloaderInfo()
	kfmt.Printf("[kmain] booted by %s %s\n", name, version)

	offset, ok := hhdmOffsetFn()
	if !ok {
		return errMissingHHDM
	}
	mm.SetDirectMapOffset(offset)
	kfmt.Printf("[kmain] direct map at 0x%16x\n", offset)

	var err *kernel.Error
	if err = pmmInitFn(); err != nil {
		return err
	} else if err = vmmInitFn(); err != nil {
		return err
	} else if err = taskInitFn(); err != nil {
		return err
	}

	return nil
}
