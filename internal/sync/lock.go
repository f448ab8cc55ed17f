package sync

import (
	gosync "sync"
	"sync/atomic"
)

// ownerLock is a non-blocking lock guarding one owner's sync runs
type ownerLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

func (l *ownerLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

func (l *ownerLock) Release() {
	l.state.Store(0)
}

// ownerLocks hands out one lock per owner
type ownerLocks struct {
	locks gosync.Map // int64 -> *ownerLock
}

func (o *ownerLocks) get(ownerID int64) *ownerLock {
	l, _ := o.locks.LoadOrStore(ownerID, &ownerLock{})
	return l.(*ownerLock)
}
