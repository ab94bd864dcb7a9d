package babus

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// seqCounter is a 32-bit monotonic counter in a shared mapping, paired with
// futex-bitset wake semantics: each increment may carry a 32-bit mask, and
// each sleeper registers the mask of events it cares about. A sleeper is
// woken only when the two masks intersect.
//
// Wraparound at 2^32 is acceptable: the only observable test anywhere in
// the bus is inequality against a previously sampled value.
type seqCounter struct {
	word futexWord
}

func seqCounterAt(addr *uint32) seqCounter {
	return seqCounter{word: futexWord{addr: addr}}
}

// load returns the current counter value.
func (c seqCounter) load() uint32 {
	return atomic.LoadUint32(c.word.addr)
}

// incrementSilent bumps the counter without waking anyone. Returns the
// pre-increment value.
func (c seqCounter) incrementSilent() uint32 {
	return atomic.AddUint32(c.word.addr, 1) - 1
}

// increment bumps the counter and wakes every sleeper whose wait mask
// intersects mask. A zero mask bumps without waking anyone.
func (c seqCounter) increment(mask uint32) (uint32, error) {
	out := atomic.AddUint32(c.word.addr, 1) - 1

	if mask != 0 {
		_, err := c.word.wakeBitset(wakeAll, mask)
		if err != nil {
			return out, fmt.Errorf("counter wake: %w", err)
		}
	}

	return out, nil
}

// waitForChange blocks until the counter differs from prv, sleeping with
// the given wait mask. Returns the value observed on entry; the caller
// re-samples after a wake, which may be spurious. A nil deadline waits
// forever; otherwise expiry returns ErrDeadline.
//
// The counter is re-checked immediately before sleeping (and again by the
// kernel under the futex hash-bucket lock), so an increment between the
// caller's sample of prv and the sleep cannot be lost.
func (c seqCounter) waitForChange(prv, mask uint32, deadline *unix.Timespec) (uint32, error) {
	cur := c.load()
	if cur != prv {
		return cur, nil
	}

	outcome, err := c.word.waitBitset(cur, mask, deadline)
	if err != nil {
		return cur, fmt.Errorf("counter wait: %w", err)
	}

	if outcome == futexTimedOut {
		return cur, ErrDeadline
	}

	return cur, nil
}
