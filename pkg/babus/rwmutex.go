package babus

import (
	"fmt"
	"sync/atomic"
)

// rwMutex lock-word states.
//
// The word is a plain counter: rwUnlocked means free, rwWriteHeld (zero)
// means one writer holds the lock, and any value above rwUnlocked encodes
// (value - rwUnlocked) active readers. Values between rwWriteHeld and
// rwUnlocked are reserved and never stored.
const (
	rwWriteHeld uint32 = 0
	rwUnlocked  uint32 = 1
)

// wakeAll is the sleeper count used for broadcast wakes. Any value at
// least as large as the number of possible sleepers works.
const wakeAll = 65536

// rwMutex is a reader/writer lock over a single 32-bit word stored in a
// shared mapping, usable concurrently from multiple processes.
//
// Acquisition is CAS plus futex-wait on the last observed value; there is
// no unbounded spinning. Fairness is not guaranteed and the lock is not
// reentrant. There is no owner tracking: a process that dies while holding
// the lock leaves the word in a non-free state and wedges the slot until
// the backing file is removed or the word is reset out of band.
type rwMutex struct {
	word futexWord
}

func rwMutexAt(addr *uint32) rwMutex {
	return rwMutex{word: futexWord{addr: addr}}
}

// load returns the current lock word.
func (m rwMutex) load() uint32 {
	return atomic.LoadUint32(m.word.addr)
}

// init stores the free state. Only the creator of a fresh shared object
// may call this, before the object is visible to any other process.
func (m rwMutex) init() {
	atomic.StoreUint32(m.word.addr, rwUnlocked)
}

// lock acquires the write lock, sleeping on the futex while held by others.
func (m rwMutex) lock() error {
	for {
		old := m.load()
		if old == rwUnlocked {
			if atomic.CompareAndSwapUint32(m.word.addr, old, rwWriteHeld) {
				return nil
			}
			// CAS lost a race; fall through and wait on the value we saw.
		}

		// futexValueChanged and futexInterrupted both mean "re-read and
		// retry"; a genuine wake means the same thing.
		_, err := m.word.wait(old)
		if err != nil {
			return fmt.Errorf("write-lock: %w", err)
		}
	}
}

// unlock releases the write lock and broadcasts: an unknown number of
// readers and at most one writer may be sleeping on the word.
func (m rwMutex) unlock() {
	old := atomic.AddUint32(m.word.addr, 1) - 1
	if old != rwWriteHeld {
		panic(fmt.Sprintf("babus: write-unlock of lock in state %d", old))
	}

	_, _ = m.word.wake(wakeAll)
}

// rlock acquires a read lock. Readers stack: any value other than
// write-held admits one more reader via CAS-increment.
func (m rwMutex) rlock() error {
	for {
		old := m.load()
		if old != rwWriteHeld {
			if atomic.CompareAndSwapUint32(m.word.addr, old, old+1) {
				return nil
			}
		}

		_, err := m.word.wait(old)
		if err != nil {
			return fmt.Errorf("read-lock: %w", err)
		}
	}
}

// runlock releases a read lock. The last reader out wakes exactly one
// sleeper to admit a pending writer.
func (m rwMutex) runlock() {
	nxt := atomic.AddUint32(m.word.addr, ^uint32(0))
	if nxt < rwUnlocked {
		panic(fmt.Sprintf("babus: read-unlock of lock in state %d", nxt+1))
	}

	if nxt == rwUnlocked {
		_, _ = m.word.wake(1)
	}
}
