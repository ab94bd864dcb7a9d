package babus

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNoSubscriptions indicates a wait on a waiter with an empty
// subscription set, which would sleep forever.
var ErrNoSubscriptions = errors.New("babus: waiter has no subscriptions")

// waitTarget pairs a subscribed slot with the last sequence value this
// waiter observed and whether the slot contributes to the wake mask.
type waitTarget struct {
	cs       *ClientSlot
	lastSeq  uint32
	wakeWith bool
}

// Waiter blocks on any of a set of subscribed slots.
//
// The waiter sleeps on the domain's global counter with the union of its
// wake-eligible slots' mask bits: one blocking call covers the whole set.
// Per-slot counters then provide exact edge detection, so a slot
// subscribed with wakeWith=false never causes a wake itself but its new
// payloads are still visited whenever something else wakes the waiter.
//
// A Waiter is process-private state for a single consumer; it is not safe
// for concurrent use. It must not outlive its [ClientDomain].
type Waiter struct {
	dom     *ClientDomain
	targets map[string]*waitTarget
}

// NewWaiter returns an empty waiter over the domain.
func NewWaiter(dom *ClientDomain) *Waiter {
	return &Waiter{
		dom:     dom,
		targets: make(map[string]*waitTarget),
	}
}

// Subscribe adds the slot to the waiter's set, sampling its current
// sequence as the starting point: only writes after this call count as
// new. With wakeWith=false the slot is monitored but does not itself wake
// the waiter. Re-subscribing an already-subscribed slot just updates its
// wakeWith flag.
func (w *Waiter) Subscribe(cs *ClientSlot, wakeWith bool) {
	name := cs.Name()

	if tgt, ok := w.targets[name]; ok {
		tgt.wakeWith = wakeWith

		return
	}

	w.targets[name] = &waitTarget{
		cs:       cs,
		lastSeq:  cs.s.seq().load(),
		wakeWith: wakeWith,
	}
}

// Unsubscribe removes the slot from the waiter's set.
func (w *Waiter) Unsubscribe(cs *ClientSlot) {
	delete(w.targets, cs.Name())
}

// wakeMask is the union of the wake-eligible targets' bits.
func (w *Waiter) wakeMask() uint32 {
	var mask uint32

	for _, tgt := range w.targets {
		if tgt.wakeWith {
			mask |= tgt.cs.s.wakeMask()
		}
	}

	return mask
}

// WaitExclusive blocks until a writer bumps the domain counter with a mask
// intersecting this waiter's. The counter is sampled on entry: the call
// returns immediately only if it moves between that sample and the sleep,
// and writes made before the call do not end it. Wakes may be spurious:
// callers loop around
// [Waiter.ForEachNewSlot] and wait again when it reports nothing.
func (w *Waiter) WaitExclusive() error {
	return w.wait(nil)
}

// WaitExclusiveTimeout is WaitExclusive with a bound. Expiry returns
// [ErrDeadline]; the bus is unaffected and the caller may wait again.
func (w *Waiter) WaitExclusiveTimeout(d time.Duration) error {
	deadline, err := monotonicDeadline(d.Nanoseconds())
	if err != nil {
		return err
	}

	return w.wait(&deadline)
}

func (w *Waiter) wait(deadline *unix.Timespec) error {
	if len(w.targets) == 0 {
		return ErrNoSubscriptions
	}

	if err := w.dom.checkOpen(); err != nil {
		return err
	}

	seq := w.dom.dom.seq()
	prv := seq.load()

	_, err := seq.waitForChange(prv, w.wakeMask(), deadline)

	return err
}

// ForEachNewSlot visits every subscribed slot whose sequence advanced
// since this waiter last observed it — wake-eligible or not — passing fn a
// read-locked view of the payload. The view is released when fn returns;
// fn must copy the bytes out to retain them. Returns the number of slots
// visited; zero after a spurious wake.
func (w *Waiter) ForEachNewSlot(fn func(v *View)) (int, error) {
	if err := w.dom.checkOpen(); err != nil {
		return 0, err
	}

	visited := 0

	for _, tgt := range w.targets {
		cur := tgt.cs.s.seq().load()
		if cur == tgt.lastSeq {
			continue
		}

		tgt.lastSeq = cur

		v, err := tgt.cs.s.read()
		if err != nil {
			return visited, err
		}

		fn(v)
		v.Close()

		visited++
	}

	return visited, nil
}
