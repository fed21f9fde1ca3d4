package common

import (
	"math"
	"sync"
)

// WaitGroup is used to manage and wait for a collection of sessions. It is
// similar to sync.WaitGroup, but AddSession/RmSession/CloseGroup are not only
// thread safe but can be executed in any order unlike sync.WaitGroup.
//
// Once a shutdown is initiated via CloseGroup(), AddSession returns false and
// CloseGroup blocks until the active sessions drain via RmSession calls. It
// is an error to call RmSession without a corresponding successful AddSession.
type WaitGroup struct {
	cond     *sync.Cond
	isClosed bool
	sessions uint64
}

func NewWaitGroup() *WaitGroup {
	return &WaitGroup{
		cond: sync.NewCond(new(sync.Mutex)),
	}
}

// AddSession registers a new session, returning false if the group is closing.
func (r *WaitGroup) AddSession() bool {
	r.cond.L.Lock()
	defer r.cond.L.Unlock()

	if r.isClosed {
		return false
	}
	if r.sessions == math.MaxUint64 {
		return false
	}

	r.sessions++
	return true
}

// RmSession unregisters a session previously added with AddSession.
func (r *WaitGroup) RmSession() {
	r.cond.L.Lock()

	if r.sessions == 0 {
		panic("WaitGroup misuse: no sessions to remove")
	}

	r.sessions--
	r.cond.Broadcast()

	r.cond.L.Unlock()
}

// CloseGroup stops admission of new sessions and blocks until active
// sessions drain.
func (r *WaitGroup) CloseGroup() {
	r.cond.L.Lock()

	r.isClosed = true
	for r.sessions > 0 {
		r.cond.Wait()
	}

	r.cond.L.Unlock()
}

// CloseGroupNB is a non-blocking CloseGroup, the returned channel is closed
// once the group is fully drained.
func (r *WaitGroup) CloseGroupNB() chan struct{} {
	closer := make(chan struct{})

	go func() {
		defer close(closer)
		r.CloseGroup()
	}()

	return closer
}
