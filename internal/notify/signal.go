// internal/notify/signal.go
package notify

import "sync"

// Signal is a list of observers for values of type T. Emit calls every
// connected observer synchronously, in connection order.
type Signal[T any] struct {
	mu    sync.Mutex
	slots []*slot[T]
}

type slot[T any] struct {
	mu        sync.Mutex
	fn        func(T)
	connected bool
}

// Connect registers fn and returns a function that removes it again.
// The returned function is safe to call more than once.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	sl := &slot[T]{fn: fn, connected: true}

	s.mu.Lock()
	s.slots = append(s.slots, sl)
	s.mu.Unlock()

	return func() {
		sl.mu.Lock()
		sl.connected = false
		sl.mu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.slots {
			if other == sl {
				s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers v to every observer. An observer disconnected by an earlier
// observer during the same Emit is skipped.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := make([]*slot[T], len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, sl := range slots {
		sl.mu.Lock()
		live := sl.connected
		sl.mu.Unlock()
		if live {
			sl.fn(v)
		}
	}
}

// Len returns the number of connected observers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
