package task

import (
	"rotomos/kernel"
	"rotomos/kernel/kfmt"
	"rotomos/kernel/mm"
	"rotomos/kernel/mm/vmm"
)

var (
	// kernelRing holds all tasks known to the kernel.
	kernelRing Ring

	// kernelPageTableFn is mocked by tests and is automatically inlined
	// by the compiler.
	kernelPageTableFn = vmm.KernelPageTable
)

// Init creates the task that represents the boot context. The first call to
// Switch makes it current and the second one saves the boot context into it,
// turning the code that called Init into a regular task.
func Init() *kernel.Error {
	recordFrame, err := mm.AllocFrame()
	if err != nil {
		return err
	}

	root := kernelPageTableFn().Frame().Address()
	t := kernelRing.Create((*Task)(mm.PhysPtr(recordFrame.Address())), 0, root)

	kfmt.Printf("[task] boot task pid %d, page table at 0x%x\n", uint64(t.PID()), root)
	return nil
}

// Switch performs a task switch on the kernel ring. It is invoked by the
// trap handling code with the stack pointer and page table root of the
// interrupted task and returns the context to resume.
func Switch(sp, root uintptr) Context {
	return kernelRing.Switch(sp, root)
}

// Spawn creates a kernel task that executes entry using a stack of
// stackPages pages and adds it to the kernel ring.
func Spawn(entry uintptr, stackPages int) (*Task, *kernel.Error) {
	t, err := kernelRing.Spawn(kernelPageTableFn(), stackPages, entry)
	if err != nil {
		return nil, err
	}

	kfmt.Printf("[task] spawned pid %d at 0x%x\n", uint64(t.PID()), entry)
	return t, nil
}
