package task

import (
	"rotomos/kernel"
	"rotomos/kernel/mm"
	"rotomos/kernel/mm/mmtest"
	"rotomos/kernel/mm/pmm"
	"rotomos/kernel/mm/vmm"
	"testing"
)

type mapping struct {
	frame mm.Frame
	flags vmm.PageTableEntryFlag
}

// setupSpawn registers an arena-backed frame allocator with the mm package
// and mocks the address space helpers used by Spawn. Mappings requested by
// Spawn are recorded in the returned map.
func setupSpawn(t *testing.T, frameCount int, stackBase uintptr) (*mmtest.Arena, *pmm.FreeListAllocator, map[mm.Page]mapping) {
	arena := mmtest.NewArena(frameCount)

	alloc := new(pmm.FreeListAllocator)
	for i := frameCount - 1; i >= 0; i-- {
		if err := alloc.FreeFrame(arena.Frame(i)); err != nil {
			t.Fatal(err)
		}
	}
	mm.SetFrameAllocator(alloc.AllocFrame)
	mm.SetFrameFreer(alloc.FreeFrame)

	reserveRegionFn = func(size uintptr) (uintptr, *kernel.Error) {
		return stackBase, nil
	}

	mappings := make(map[mm.Page]mapping)
	mapFn = func(_ vmm.PageTable, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		mappings[page] = mapping{frame, flags}
		return nil
	}
	lookupFn = func(_ vmm.PageTable, page mm.Page) (mm.Frame, vmm.PageTableEntryFlag, *kernel.Error) {
		m, ok := mappings[page]
		if !ok {
			return mm.InvalidFrame, 0, vmm.ErrNotPresent
		}
		return m.frame, m.flags, nil
	}
	unmapFn = func(_ vmm.PageTable, page mm.Page) *kernel.Error {
		if _, ok := mappings[page]; !ok {
			return vmm.ErrNotPresent
		}
		delete(mappings, page)
		return nil
	}

	return arena, alloc, mappings
}

// useRealPageTables restores the vmm helpers so Spawn populates actual page
// tables.
func useRealPageTables() {
	mapFn = vmm.PageTable.Map
	lookupFn = vmm.PageTable.Lookup
	unmapFn = vmm.PageTable.Unmap
}

func restoreSpawnHooks() {
	reserveRegionFn = vmm.ReserveRegion
	useRealPageTables()
	kernelPageTableFn = vmm.KernelPageTable
	mm.SetFrameAllocator(nil)
	mm.SetFrameFreer(nil)
}

func TestSpawn(t *testing.T) {
	defer restoreSpawnHooks()

	stackBase := uintptr(0xffffff7fffff0000)
	arena, _, mappings := setupSpawn(t, 8, stackBase)

	var (
		r    Ring
		root vmm.PageTable
	)
	task, err := r.Spawn(root, 2, 0xffffffff80001234)
	if err != nil {
		t.Fatal(err)
	}

	// frames are handed out in index order: record, then the two stack pages
	if exp := mm.PhysPtr(arena.Frame(0).Address()); (*Task)(exp) != task {
		t.Fatal("expected task record to be stored in the first allocated frame")
	}

	if r.Len() != 1 || task.Next() != task {
		t.Fatal("expected spawned task to be inserted into the ring")
	}

	expFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
	for i := 0; i < 2; i++ {
		page := mm.PageFromAddress(stackBase) + mm.Page(i)
		got, ok := mappings[page]
		if !ok {
			t.Fatalf("[page %d] expected stack page to be mapped", i)
		}

		if exp := arena.Frame(1 + i); got.frame != exp || got.flags != expFlags {
			t.Errorf("[page %d] expected mapping to (%d, 0x%x); got (%d, 0x%x)", i, exp, expFlags, got.frame, got.flags)
		}
	}

	stackTop := stackBase + 2*mm.PageSize
	if exp := stackTop - trapFrameSize; task.Context().SP != exp || task.Reg(RegRSP) != exp {
		t.Fatalf("expected stack pointer to be 0x%x; got 0x%x (reg: 0x%x)", exp, task.Context().SP, task.Reg(RegRSP))
	}

	if exp := root.Frame().Address(); task.Context().Root != exp {
		t.Fatalf("expected task root to be 0x%x; got 0x%x", exp, task.Context().Root)
	}

	frame := (*TrapFrame)(mm.PhysPtr(arena.Frame(2).Address() + mm.PageSize - trapFrameSize))
	expFrame := TrapFrame{
		RIP:    0xffffffff80001234,
		CS:     kernelCodeSelector,
		RFlags: initialRFlags,
		RSP:    uint64(stackTop),
		SS:     kernelDataSelector,
	}
	if *frame != expFrame {
		t.Fatalf("expected initial trap frame %+v; got %+v", expFrame, *frame)
	}
}

func TestSpawnErrors(t *testing.T) {
	defer restoreSpawnHooks()

	expErr := &kernel.Error{Module: "test", Message: "mock error"}

	specs := []struct {
		descr      string
		frameCount int
		stackPages int
		setup      func()
		expErr     *kernel.Error
	}{
		{
			"zero stack pages",
			4, 0,
			nil,
			errInvalidStackSize,
		},
		{
			"no frame for the task record",
			0, 1,
			nil,
			mm.ErrOutOfPages,
		},
		{
			"no frame for the first stack page",
			1, 1,
			nil,
			mm.ErrOutOfPages,
		},
		{
			"no frame for the last stack page",
			3, 3,
			nil,
			mm.ErrOutOfPages,
		},
		{
			"address space reservation fails",
			4, 1,
			func() {
				reserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) { return 0, expErr }
			},
			expErr,
		},
		{
			"first stack mapping fails",
			4, 1,
			func() {
				mapFn = func(_ vmm.PageTable, _ mm.Page, _ mm.Frame, _ vmm.PageTableEntryFlag) *kernel.Error { return mm.ErrOutOfPages }
			},
			mm.ErrOutOfPages,
		},
		{
			"later stack mapping fails",
			8, 4,
			func() {
				origMapFn, mapCount := mapFn, 0
				mapFn = func(pt vmm.PageTable, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
					if mapCount++; mapCount == 3 {
						return expErr
					}
					return origMapFn(pt, page, frame, flags)
				}
			},
			expErr,
		},
	}

	for specIndex, spec := range specs {
		_, alloc, mappings := setupSpawn(t, spec.frameCount, 0x1000000)
		if spec.setup != nil {
			spec.setup()
		}
		freeBefore := alloc.FreeCount()

		var r Ring
		if _, err := r.Spawn(vmm.PageTable{}, spec.stackPages, 0); err != spec.expErr {
			t.Errorf("[spec %d] %s: expected to get %v; got %v", specIndex, spec.descr, spec.expErr, err)
		}

		if r.Len() != 0 {
			t.Errorf("[spec %d] %s: expected failed spawn not to modify the ring", specIndex, spec.descr)
		}

		if got := alloc.FreeCount(); got != freeBefore {
			t.Errorf("[spec %d] %s: expected all %d frames to be released; got %d free frames", specIndex, spec.descr, freeBefore, got)
		}

		if len(mappings) != 0 {
			t.Errorf("[spec %d] %s: expected stack pages to be unmapped; got %d mappings", specIndex, spec.descr, len(mappings))
		}
	}
}

func TestSpawnWithPageTable(t *testing.T) {
	defer restoreSpawnHooks()

	stackBase := uintptr(0xffffff7fffff0000)
	entry := uintptr(0xffffffff80004000)

	t.Run("success", func(t *testing.T) {
		_, _, _ = setupSpawn(t, 16, stackBase)
		useRealPageTables()

		root, err := vmm.NewPageTable()
		if err != nil {
			t.Fatal(err)
		}

		var r Ring
		task, err := r.Spawn(root, 2, entry)
		if err != nil {
			t.Fatal(err)
		}

		expFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
		for i := 0; i < 2; i++ {
			_, flags, err := root.Lookup(mm.PageFromAddress(stackBase) + mm.Page(i))
			if err != nil {
				t.Fatalf("[page %d] expected stack page to be mapped; got %v", i, err)
			}

			if flags != expFlags {
				t.Errorf("[page %d] expected stack page flags 0x%x; got 0x%x", i, expFlags, flags)
			}
		}

		if exp := root.Frame().Address(); task.Context().Root != exp {
			t.Fatalf("expected task root to be 0x%x; got 0x%x", exp, task.Context().Root)
		}

		// the saved stack pointer must lead to the initial trap frame
		// through the task's own page table
		physAddr, err := root.Translate(task.Context().SP)
		if err != nil {
			t.Fatal(err)
		}

		frame := (*TrapFrame)(mm.PhysPtr(physAddr))
		if frame.RIP != uint64(entry) || frame.RSP != uint64(stackBase+2*mm.PageSize) {
			t.Fatalf("expected trap frame with RIP 0x%x and RSP 0x%x; got %+v", entry, stackBase+2*mm.PageSize, *frame)
		}
	})

	t.Run("out of frames", func(t *testing.T) {
		// root table, record, first stack page and its three page tables
		_, alloc, _ := setupSpawn(t, 6, stackBase)
		useRealPageTables()

		root, err := vmm.NewPageTable()
		if err != nil {
			t.Fatal(err)
		}
		freeBefore := alloc.FreeCount()

		var r Ring
		if _, err = r.Spawn(root, 2, entry); err != mm.ErrOutOfPages {
			t.Fatalf("expected to get ErrOutOfPages; got %v", err)
		}

		// only the page tables created for the stack are kept
		if exp, got := freeBefore-3, alloc.FreeCount(); got != exp {
			t.Fatalf("expected %d free frames after failed spawn; got %d", exp, got)
		}

		if _, _, err = root.Lookup(mm.PageFromAddress(stackBase)); err != vmm.ErrNotPresent {
			t.Fatalf("expected stack page to be unmapped after failed spawn; got %v", err)
		}
	})
}
