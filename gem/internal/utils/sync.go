package utils

import (
	"sync"
)

// Event is a broadcast wakeup. Waiters take the current channel with Wait before checking their
// condition; Signal closes that channel and installs a fresh one, so a signal that lands between
// the check and the sleep is never lost.
type Event struct {
	mutex sync.Mutex
	ch    chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

func (e *Event) Wait() <-chan struct{} {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.ch
}

func (e *Event) Signal() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	close(e.ch)
	e.ch = make(chan struct{})
}
