package vmm

import (
	"rotomos/kernel"
	"rotomos/kernel/mm"
)

var (
	// ErrNotPresent is returned by Lookup and Unmap when an entry along
	// the walk does not have the present flag set.
	ErrNotPresent = &kernel.Error{Module: "vmm", Message: "virtual address not mapped"}

	// ErrInvalidMap is returned when an operation is invoked on a table
	// that is not a top-level table or when the requested flags overlap
	// the physical address bits of a page table entry.
	ErrInvalidMap = &kernel.Error{Module: "vmm", Message: "invalid mapping request"}

	// ErrMapTooDeep is raised if a page table walk attempts to descend
	// below the last page table level.
	ErrMapTooDeep = &kernel.Error{Module: "vmm", Message: "attempted to descend below the last page table level"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// PageTable is a handle to a single page table in the page table hierarchy.
// Level 4 tables are the roots of an address space; level 1 tables contain
// the leaf entries that point to 4Kb frames. The table contents are always
// accessed through the direct map.
type PageTable struct {
	level uint8
	frame mm.Frame
}

// Level returns the level of this table in the page table hierarchy.
func (pt PageTable) Level() uint8 { return pt.level }

// Frame returns the physical frame that holds the table entries.
func (pt PageTable) Frame() mm.Frame { return pt.frame }

// ActivePageTable returns a handle to the top-level table that is currently
// loaded by the CPU.
func ActivePageTable() PageTable {
	return PageTable{
		level: pageLevels,
		frame: mm.FrameFromAddress(activePDTFn() & ptePhysPageMask),
	}
}

// NewPageTable allocates and zeroes a frame for a new top-level table. If
// the kernel page table has been recorded by Init, the kernel half of its
// entries is copied over so the kernel remains mapped once the new table
// is activated.
func NewPageTable() (PageTable, *kernel.Error) {
	frame, err := allocZeroedFrame()
	if err != nil {
		return PageTable{}, err
	}

	pt := PageTable{level: pageLevels, frame: frame}
	if kernelPageTable.level == pageLevels {
		halfOffset := uintptr(kernelHalfStart) << mm.PointerShift
		kernel.Memcopy(
			mm.PhysToVirt(kernelPageTable.frame.Address())+halfOffset,
			mm.PhysToVirt(frame.Address())+halfOffset,
			mm.PageSize-halfOffset,
		)
	}

	return pt, nil
}

// Activate loads this table into the CPU so it becomes the active address
// space.
func (pt PageTable) Activate() {
	switchPDTFn(pt.frame.Address())
	activeFrame = pt.frame
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Any missing intermediate tables are allocated via mm.AllocFrame
// and linked with the present, RW and user-accessible flags so that the
// leaf entry alone controls the effective permissions.
//
// The TLB entry for the page is flushed if the change is visible to the
// running address space. The flags are written to the leaf entry as-is;
// callers that want the mapping to be usable must include FlagPresent.
// Mapping a page that is already mapped overwrites the leaf entry without
// allocating any frames.
func (pt PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if pt.level != pageLevels || uintptr(flags)&ptePhysPageMask != 0 {
		return ErrInvalidMap
	}

	virtAddr := page.Address()
	table := pt
	for table.level > 1 {
		pte := table.entryAt(table.index(virtAddr))

		if !pte.HasFlags(FlagPresent) {
			childFrame, err := allocZeroedFrame()
			if err != nil {
				return err
			}

			*pte = 0
			pte.SetFrame(childFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		} else if pte.HasFlags(FlagHugePage) {
			return errNoHugePageSupport
		}

		var err *kernel.Error
		if table, err = table.child(pte); err != nil {
			return err
		}
	}

	pte := table.entryAt(table.index(virtAddr))
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	if pt.needsFlush(virtAddr) {
		flushTLBEntryFn(virtAddr)
	}

	return nil
}

// Lookup returns the physical frame and the leaf entry flags for the given
// virtual page. Lookup never allocates. Pages that belong to a 2Mb or 1Gb
// mapping resolve to the 4Kb frame that backs them.
func (pt PageTable) Lookup(page mm.Page) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	if pt.level != pageLevels {
		return mm.InvalidFrame, 0, ErrInvalidMap
	}

	virtAddr := page.Address()
	for table := pt; ; {
		pte := table.entryAt(table.index(virtAddr))
		if !pte.HasFlags(FlagPresent) {
			return mm.InvalidFrame, 0, ErrNotPresent
		}

		if table.level == 1 {
			return pte.Frame(), pte.Flags(), nil
		}

		if pte.HasFlags(FlagHugePage) && table.level < pageLevels {
			framesPerEntry := mm.Frame(1) << (uintptr(pageLevelShifts[pageLevels-table.level]) - mm.PageShift)
			baseFrame := pte.Frame() &^ (framesPerEntry - 1)
			return baseFrame + mm.Frame(page)&(framesPerEntry-1), pte.Flags(), nil
		}

		var err *kernel.Error
		if table, err = table.child(pte); err != nil {
			return mm.InvalidFrame, 0, err
		}
	}
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrNotPresent if the address is not mapped.
func (pt PageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, _, err := pt.Lookup(mm.PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	return frame.Address() + (virtAddr & (mm.PageSize - 1)), nil
}

// Unmap removes the mapping for the given virtual page by clearing the
// present flag of its leaf entry. The intermediate tables that were
// allocated for the mapping are not released.
func (pt PageTable) Unmap(page mm.Page) *kernel.Error {
	if pt.level != pageLevels {
		return ErrInvalidMap
	}

	virtAddr := page.Address()
	for table := pt; ; {
		pte := table.entryAt(table.index(virtAddr))
		if !pte.HasFlags(FlagPresent) {
			return ErrNotPresent
		}

		if table.level == 1 {
			pte.ClearFlags(FlagPresent)
			if pt.needsFlush(virtAddr) {
				flushTLBEntryFn(virtAddr)
			}
			return nil
		}

		if pte.HasFlags(FlagHugePage) {
			return errNoHugePageSupport
		}

		var err *kernel.Error
		if table, err = table.child(pte); err != nil {
			return err
		}
	}
}

// needsFlush reports whether the TLB may hold a stale entry for virtAddr
// after the top-level table pt has been modified. This is the case when pt
// is the active table or when virtAddr lives in the kernel half whose
// tables are shared by every table created after Init.
func (pt PageTable) needsFlush(virtAddr uintptr) bool {
	if pt.frame == activeFrame {
		return true
	}

	return kernelPageTable.level == pageLevels && pt.index(virtAddr) >= kernelHalfStart
}

// index returns the entry index in this table that corresponds to virtAddr.
func (pt PageTable) index(virtAddr uintptr) uintptr {
	level := pageLevels - pt.level
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// entryAt returns a pointer to the table entry at the given index.
func (pt PageTable) entryAt(index uintptr) *pageTableEntry {
	return (*pageTableEntry)(mm.PhysPtr(pt.frame.Address() + (index << mm.PointerShift)))
}

// child returns a handle to the next level table pointed to by pte. The
// hierarchy has no tables below level 1 so descending from a level 1 table
// is a fatal error.
func (pt PageTable) child(pte *pageTableEntry) (PageTable, *kernel.Error) {
	if pt.level <= 1 {
		panicFn(ErrMapTooDeep)
		return PageTable{}, ErrMapTooDeep
	}

	return PageTable{level: pt.level - 1, frame: pte.Frame()}, nil
}

// allocZeroedFrame allocates a frame via mm.AllocFrame and clears its
// contents.
func allocZeroedFrame() (mm.Frame, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	kernel.Memset(mm.PhysToVirt(frame.Address()), 0, mm.PageSize)
	return frame, nil
}
