package limine

import (
	"runtime"
	"testing"
	"unsafe"
)

func TestVisitMemRegions(t *testing.T) {
	defer func(orig uintptr) { memmapRequest.response = orig }(memmapRequest.response)

	t.Run("no response", func(t *testing.T) {
		memmapRequest.response = 0

		var visitCount int
		VisitMemRegions(func(_ *MemoryMapEntry) bool {
			visitCount++
			return true
		})

		if visitCount != 0 {
			t.Fatalf("expected visitor not to be invoked; got %d calls", visitCount)
		}
	})

	// A memory map as reported by limine when running under qemu with
	// 128M of RAM.
	entries := []MemoryMapEntry{
		{Base: 0x0, Length: 0x9f000, Type: MemUsable},
		{Base: 0x9fc00, Length: 0x400, Type: MemReserved},
		{Base: 0xf0000, Length: 0x10000, Type: MemReserved},
		{Base: 0x100000, Length: 0x7ee0000, Type: MemUsable},
		{Base: 0x7fe0000, Length: 0x20000, Type: MemAcpiReclaimable},
		{Base: 0xfd000000, Length: 0x3e8000, Type: MemFramebuffer},
	}
	entryPtrs := make([]uintptr, len(entries))
	for i := range entries {
		entryPtrs[i] = uintptr(unsafe.Pointer(&entries[i]))
	}
	resp := memmapResponse{
		entryCount: uint64(len(entries)),
		entries:    uintptr(unsafe.Pointer(&entryPtrs[0])),
	}
	memmapRequest.response = uintptr(unsafe.Pointer(&resp))

	t.Run("visit all", func(t *testing.T) {
		var visitCount int
		VisitMemRegions(func(entry *MemoryMapEntry) bool {
			if *entry != entries[visitCount] {
				t.Errorf("[entry %d] expected to visit %+v; got %+v", visitCount, entries[visitCount], *entry)
			}
			visitCount++
			return true
		})

		if visitCount != len(entries) {
			t.Fatalf("expected visitor to be invoked %d times; got %d", len(entries), visitCount)
		}
	})

	t.Run("abort scan", func(t *testing.T) {
		var visitCount int
		VisitMemRegions(func(_ *MemoryMapEntry) bool {
			visitCount++
			return visitCount < 2
		})

		if exp := 2; visitCount != exp {
			t.Fatalf("expected visitor to be invoked %d times; got %d", exp, visitCount)
		}
	})

	runtime.KeepAlive(entries)
	runtime.KeepAlive(entryPtrs)
	runtime.KeepAlive(&resp)
}

func TestHHDMOffset(t *testing.T) {
	defer func(orig uintptr) { hhdmRequest.response = orig }(hhdmRequest.response)

	hhdmRequest.response = 0
	if _, ok := HHDMOffset(); ok {
		t.Fatal("expected HHDMOffset to report a missing response")
	}

	resp := hhdmResponse{offset: 0xffff800000000000}
	hhdmRequest.response = uintptr(unsafe.Pointer(&resp))

	offset, ok := HHDMOffset()
	if !ok {
		t.Fatal("expected HHDMOffset to report a response")
	}

	if exp := uintptr(0xffff800000000000); offset != exp {
		t.Fatalf("expected offset to be 0x%x; got 0x%x", exp, offset)
	}
	runtime.KeepAlive(&resp)
}

func TestBootloaderInfo(t *testing.T) {
	defer func(orig uintptr) { bootInfoRequest.response = orig }(bootInfoRequest.response)

	bootInfoRequest.response = 0
	if name, version := BootloaderInfo(); name != "" || version != "" {
		t.Fatalf("expected empty strings; got %q, %q", name, version)
	}

	name := []byte("Limine\x00")
	version := []byte("7.0.0\x00")
	resp := bootInfoResponse{
		name:    uintptr(unsafe.Pointer(&name[0])),
		version: uintptr(unsafe.Pointer(&version[0])),
	}
	bootInfoRequest.response = uintptr(unsafe.Pointer(&resp))

	gotName, gotVersion := BootloaderInfo()
	if exp := "Limine"; gotName != exp {
		t.Errorf("expected name to be %q; got %q", exp, gotName)
	}
	if exp := "7.0.0"; gotVersion != exp {
		t.Errorf("expected version to be %q; got %q", exp, gotVersion)
	}

	resp.version = 0
	if _, gotVersion = BootloaderInfo(); gotVersion != "" {
		t.Errorf("expected a nil version pointer to yield an empty string; got %q", gotVersion)
	}

	runtime.KeepAlive(name)
	runtime.KeepAlive(version)
	runtime.KeepAlive(&resp)
}

func TestMemoryEntryTypeString(t *testing.T) {
	specs := []struct {
		input MemoryEntryType
		exp   string
	}{
		{MemUsable, "usable"},
		{MemReserved, "reserved"},
		{MemAcpiReclaimable, "ACPI (reclaimable)"},
		{MemAcpiNvs, "ACPI NVS"},
		{MemBadMemory, "bad memory"},
		{MemBootloaderReclaimable, "bootloader (reclaimable)"},
		{MemKernelAndModules, "kernel and modules"},
		{MemFramebuffer, "framebuffer"},
		{MemoryEntryType(123), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.input.String(); got != spec.exp {
			t.Errorf("[spec %d] expected to get %q; got %q", specIndex, spec.exp, got)
		}
	}
}
