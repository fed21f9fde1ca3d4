package models

import "sync"

// ConnState is the current state of the connection backing a request.
type ConnState int

const (
	ConnOpen ConnState = iota
	ConnClosed
)

func (s ConnState) String() string {
	if s == ConnClosed {
		return "closed"
	}
	return "open"
}

// ConnWatch is a single-writer, multi-reader broadcast of a connection's
// liveness. The execution engine uses it to detect that a caller went away
// mid-execution. The writer side transitions at most once, from open to closed.
type ConnWatch struct {
	mu     sync.Mutex
	state  ConnState
	closed chan struct{}
}

func NewConnWatch() *ConnWatch {
	return &ConnWatch{closed: make(chan struct{})}
}

// State returns the connection's current state.
func (w *ConnWatch) State() ConnState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Closed returns a channel that is closed once the connection transitions
// to ConnClosed. Safe for any number of readers.
func (w *ConnWatch) Closed() <-chan struct{} {
	return w.closed
}

// MarkClosed transitions the watch to ConnClosed and wakes all readers.
// Idempotent.
func (w *ConnWatch) MarkClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == ConnClosed {
		return
	}
	w.state = ConnClosed
	close(w.closed)
}
