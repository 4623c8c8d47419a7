// Package task keeps track of the kernel tasks and implements round-robin
// switching between them.
//
// Tasks are linked together in a circular ring in creation order. A
// scheduler cursor points to the task that is currently running; Switch is
// the only operation that moves it. Nothing in this package blocks or
// performs any locking: callers must ensure that the ring is only mutated
// from a single execution context (e.g. with interrupts disabled).
package task

import "rotomos/kernel"

// PID is a task identifier.
type PID uint64

// RegRSP is the slot in the register snapshot that holds the stack pointer.
const RegRSP = 6

// regCount is the number of general purpose registers captured by a task
// snapshot.
const regCount = 16

var (
	// nextPID is the identifier that will be assigned to the next task.
	// Identifiers are never reused.
	nextPID PID

	errRemoveUnsupported = &kernel.Error{Module: "task", Message: "removing tasks from the ring is not supported"}
)

// Context is the state that needs to be restored by the trap return path in
// order to resume a task.
type Context struct {
	// SP is the stack pointer of the task.
	SP uintptr

	// Root is the physical address of the top-level page table of the
	// task's address space (the CR3 value).
	Root uintptr
}

// Task is the control record of a task. Task records are owned by their
// creator; the ring only links them together.
type Task struct {
	regs [regCount]uintptr
	ctx  Context
	pid  PID

	next, prev *Task
}

// PID returns the task identifier.
func (t *Task) PID() PID { return t.pid }

// Context returns the last context saved for the task.
func (t *Task) Context() Context { return t.ctx }

// Next returns the task that follows t in the ring.
func (t *Task) Next() *Task { return t.next }

// Prev returns the task that precedes t in the ring.
func (t *Task) Prev() *Task { return t.prev }

// Reg returns the value of the i-th register slot.
func (t *Task) Reg(i int) uintptr { return t.regs[i] }

// Ring is a circular list of tasks together with the scheduler cursor. The
// zero value is an empty ring with no current task.
type Ring struct {
	// head is the first task that was added to the ring. New tasks are
	// inserted right before it.
	head *Task

	// current is the running task or nil if Switch has not selected one
	// yet.
	current *Task

	count int
}

// Create initializes the task record pointed to by t and inserts it into the
// ring. The register snapshot is cleared except for the stack pointer slot
// which is set to sp. The initial saved context is (sp, root).
//
// Tasks are spliced right before the ring head so that the ring order matches
// the creation order. The first task forms a ring with itself.
func (r *Ring) Create(t *Task, sp, root uintptr) *Task {
	t.regs = [regCount]uintptr{}
	t.regs[RegRSP] = sp
	t.ctx = Context{SP: sp, Root: root}
	t.pid = nextPID
	nextPID++

	if r.head == nil {
		t.next, t.prev = t, t
		r.head = t
	} else {
		tail := r.head.prev
		t.next, t.prev = r.head, tail
		tail.next = t
		r.head.prev = t
	}

	r.count++
	return t
}

// Switch saves the context of the current task and returns the context of
// the task that should run next.
//
// If no task is current yet, Switch returns a context built from its
// arguments so that the caller simply resumes what it was running. When
// the ring is not empty, the ring head becomes the current task and the
// context supplied to the following Switch call is saved into it.
func (r *Ring) Switch(sp, root uintptr) Context {
	if r.current == nil {
		r.current = r.head
		return Context{SP: sp, Root: root}
	}

	r.current.ctx = Context{SP: sp, Root: root}
	r.current = r.current.next
	return r.current.ctx
}

// Current returns the running task or nil if no task has been selected.
func (r *Ring) Current() *Task { return r.current }

// Len returns the number of tasks in the ring.
func (r *Ring) Len() int { return r.count }

// Remove is meant to unlink a task from the ring. Tasks cannot terminate
// yet so it always fails and leaves the ring untouched.
func (r *Ring) Remove(_ *Task) *kernel.Error {
	return errRemoveUnsupported
}
