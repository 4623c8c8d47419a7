package mm

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Frames returns the number of whole frames that fit in s.
func (s Size) Frames() uint64 {
	return uint64(s) >> PageShift
}
