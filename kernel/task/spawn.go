package task

import (
	"rotomos/kernel"
	"rotomos/kernel/mm"
	"rotomos/kernel/mm/vmm"
	"unsafe"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	reserveRegionFn = vmm.ReserveRegion
	mapFn           = vmm.PageTable.Map
	lookupFn        = vmm.PageTable.Lookup
	unmapFn         = vmm.PageTable.Unmap

	errInvalidStackSize = &kernel.Error{Module: "task", Message: "task stack must span at least one page"}
)

// trapFrameSize is the number of bytes that a TrapFrame occupies on the
// stack.
const trapFrameSize = unsafe.Sizeof(TrapFrame{})

// Spawn creates a task that starts executing at entry inside the address
// space described by root. It allocates a frame for the task record, reserves
// and maps stackPages pages for the task stack and places an initial
// TrapFrame at the top of the stack. The saved stack pointer of the new
// task points to that TrapFrame so the first Switch to it returns straight
// into entry with interrupts enabled.
//
// If Spawn fails, the record and stack frames are returned via mm.FreeFrame
// and the stack pages are unmapped. Page tables allocated for the stack and
// the reserved virtual range are kept.
func (r *Ring) Spawn(root vmm.PageTable, stackPages int, entry uintptr) (*Task, *kernel.Error) {
	if stackPages <= 0 {
		return nil, errInvalidStackSize
	}

	recordFrame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	stackSize := uintptr(stackPages) << mm.PageShift
	stackBase, err := reserveRegionFn(stackSize)
	if err != nil {
		_ = mm.FreeFrame(recordFrame)
		return nil, err
	}

	var (
		stackPage = mm.PageFromAddress(stackBase)
		topFrame  mm.Frame
	)
	for i := 0; i < stackPages; i++ {
		if topFrame, err = mm.AllocFrame(); err != nil {
			releaseStack(root, stackPage, i)
			_ = mm.FreeFrame(recordFrame)
			return nil, err
		}

		if err = mapFn(root, stackPage+mm.Page(i), topFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			_ = mm.FreeFrame(topFrame)
			releaseStack(root, stackPage, i)
			_ = mm.FreeFrame(recordFrame)
			return nil, err
		}
	}

	stackTop := stackBase + stackSize
	frame := (*TrapFrame)(mm.PhysPtr(topFrame.Address() + mm.PageSize - trapFrameSize))
	*frame = TrapFrame{
		RIP:    uint64(entry),
		CS:     kernelCodeSelector,
		RFlags: initialRFlags,
		RSP:    uint64(stackTop),
		SS:     kernelDataSelector,
	}

	t := (*Task)(mm.PhysPtr(recordFrame.Address()))
	return r.Create(t, stackTop-trapFrameSize, root.Frame().Address()), nil
}

// releaseStack unmaps the first pageCount pages of a stack starting at
// stackPage and frees the frames that backed them.
func releaseStack(root vmm.PageTable, stackPage mm.Page, pageCount int) {
	for i := 0; i < pageCount; i++ {
		page := stackPage + mm.Page(i)

		frame, _, err := lookupFn(root, page)
		if err != nil {
			continue
		}

		_ = unmapFn(root, page)
		_ = mm.FreeFrame(frame)
	}
}
