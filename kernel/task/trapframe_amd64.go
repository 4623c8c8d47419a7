package task

const (
	// kernelCodeSelector and kernelDataSelector are the 64-bit segment
	// selectors installed by the bootloader's GDT.
	kernelCodeSelector = 0x28
	kernelDataSelector = 0x30

	// initialRFlags has the reserved bit 1 and the interrupt flag set.
	initialRFlags = 0x202
)

// TrapFrame is the register snapshot that the trap return path pops off a
// task stack before executing IRETQ.
type TrapFrame struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}
