// Package undo keeps a linear undo/redo history of snapshots.
package undo

// Stack holds two LIFO stacks of snapshots. Pushing a new snapshot always
// discards the redo history.
type Stack[T any] struct {
	undo     []T
	redo     []T
	clone    func(T) T
	willPush bool
}

// New returns an empty stack that copies values with clone before storing
// them.
func New[T any](clone func(T) T) *Stack[T] {
	return &Stack[T]{clone: clone, willPush: true}
}

// SetWillPush turns Push into a no-op while val is false.
func (s *Stack[T]) SetWillPush(val bool) { s.willPush = val }
func (s *Stack[T]) WillPush() bool       { return s.willPush }

// Batch runs fn with pushes suppressed, so several internal edits become a
// single undo point.
func (s *Stack[T]) Batch(fn func()) {
	prev := s.willPush
	s.willPush = false
	defer func() { s.willPush = prev }()
	fn()
}

func (s *Stack[T]) Push(snapshot T) {
	if !s.willPush {
		return
	}
	s.undo = append(s.undo, s.clone(snapshot))
	clear(s.redo)
	s.redo = s.redo[:0]
}

// Undo returns the most recent snapshot, saving current for Redo. With
// nothing to undo current is returned unchanged.
func (s *Stack[T]) Undo(current T) T {
	if len(s.undo) == 0 {
		return current
	}
	s.redo = append(s.redo, s.clone(current))
	return pop(&s.undo)
}

// Redo is the mirror of Undo.
func (s *Stack[T]) Redo(current T) T {
	if len(s.redo) == 0 {
		return current
	}
	s.undo = append(s.undo, s.clone(current))
	return pop(&s.redo)
}

func (s *Stack[T]) CanUndo() bool { return len(s.undo) > 0 }
func (s *Stack[T]) CanRedo() bool { return len(s.redo) > 0 }

func (s *Stack[T]) Depth() (undo, redo int) { return len(s.undo), len(s.redo) }

func (s *Stack[T]) Clear() {
	s.undo = nil
	s.redo = nil
}

func pop[T any](stack *[]T) T {
	st := *stack
	v := st[len(st)-1]
	var zero T
	st[len(st)-1] = zero
	*stack = st[:len(st)-1]
	return v
}
