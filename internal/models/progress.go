package models

import "sync"

// ProgressLog is the append-only, arrival-ordered record of progress events.
//
// It is safe for one writer and any number of readers.
type ProgressLog struct {
	mu     sync.RWMutex
	events []ProgressEvent
}

// Append records e after every previously appended event.
func (l *ProgressLog) Append(e ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *ProgressLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Events returns a copy of the log in arrival order.
func (l *ProgressLog) Events() []ProgressEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ProgressEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Latest returns the most recently appended event, or false when the log is empty.
func (l *ProgressLog) Latest() (ProgressEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return ProgressEvent{}, false
	}
	return l.events[len(l.events)-1], true
}
