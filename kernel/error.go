// Package kernel contains the types and helpers shared by every kernel
// subsystem.
package kernel

// Error describes a kernel error. Kernel errors are always declared as
// package-level pointers to Error so that returning one never touches the Go
// allocator, which is not available while memory management is booting.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
