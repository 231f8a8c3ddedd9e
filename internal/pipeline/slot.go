// Package pipeline couples a fast frame producer to a slow inference consumer.
//
// The producer offers every captured frame into a single-slot mailbox and never
// waits. The consumer takes whatever frame is pending when it becomes idle, runs
// inference and publishes the result into a second single-slot mailbox that the
// renderer peeks once per tick. A third guarded list carries steering points from
// the input collaborator to the consumer.
//
// Each mailbox has its own mutex and no operation holds two of them at once.
package pipeline

import "sync"

// Slot is a single-entry mailbox. A Put overwrites any value still in the slot.
//
// Values that own external resources can register a release hook; it runs once for
// every value the slot discards (overwritten, cleared) but never for values handed
// out by Take. A clone hook makes Peek return an independent copy.
type Slot[T any] struct {
	mu      sync.Mutex
	value   T
	full    bool
	release func(T)
	clone   func(T) T
}

// SlotOption configures a Slot.
type SlotOption[T any] func(*Slot[T])

// WithRelease sets the hook called for values the slot discards.
func WithRelease[T any](fn func(T)) SlotOption[T] {
	return func(s *Slot[T]) {
		s.release = fn
	}
}

// WithClone sets the hook Peek uses to copy the held value.
func WithClone[T any](fn func(T) T) SlotOption[T] {
	return func(s *Slot[T]) {
		s.clone = fn
	}
}

// NewSlot creates an empty Slot.
func NewSlot[T any](opts ...SlotOption[T]) *Slot[T] {
	s := &Slot[T]{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores v, replacing any value not yet taken.
// Returns true if an unconsumed value was replaced.
func (s *Slot[T]) Put(v T) bool {
	s.mu.Lock()
	old, replaced := s.value, s.full
	s.value = v
	s.full = true
	s.mu.Unlock()

	if replaced {
		s.discard(old)
	}
	return replaced
}

// PutIfEmpty stores v only when the slot is empty. When the slot is occupied v is
// released and false is returned.
func (s *Slot[T]) PutIfEmpty(v T) bool {
	s.mu.Lock()
	if s.full {
		s.mu.Unlock()
		s.discard(v)
		return false
	}
	s.value = v
	s.full = true
	s.mu.Unlock()
	return true
}

// Take removes and returns the held value. The caller owns it afterwards.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if !s.full {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.full = false
	return v, true
}

// Peek returns the held value without removing it. With a clone hook the copy is
// made while the slot is locked, so the caller never shares the slot's value.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		var zero T
		return zero, false
	}
	if s.clone != nil {
		return s.clone(s.value), true
	}
	return s.value, true
}

// Full reports whether the slot holds a value.
func (s *Slot[T]) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}

// Clear empties the slot, releasing the held value.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	old, had := s.value, s.full
	var zero T
	s.value = zero
	s.full = false
	s.mu.Unlock()

	if had {
		s.discard(old)
	}
}

func (s *Slot[T]) discard(v T) {
	if s.release != nil {
		s.release(v)
	}
}
