// internal/eventloop/manual.go
package eventloop

import "time"

// ManualScheduler is a Scheduler whose timers only fire when told to.
// It is meant for tests that drive the loop's logic directly.
type ManualScheduler struct {
	timers []*ManualTimer
}

// ManualTimer is a timer armed by a ManualScheduler.
type ManualTimer struct {
	Duration time.Duration
	fn       func()
	done     bool
}

// AfterFunc records a timer that fires on Fire.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &ManualTimer{Duration: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Armed returns the timers that have neither fired nor been stopped.
func (s *ManualScheduler) Armed() []*ManualTimer {
	var armed []*ManualTimer
	for _, t := range s.timers {
		if !t.done {
			armed = append(armed, t)
		}
	}
	return armed
}

// FireAll fires every armed timer in arming order.
func (s *ManualScheduler) FireAll() {
	for _, t := range s.Armed() {
		t.Fire()
	}
}

// Fire runs the callback if the timer is still armed.
func (t *ManualTimer) Fire() bool {
	if t.done {
		return false
	}
	t.done = true
	t.fn()
	return true
}

func (t *ManualTimer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}
