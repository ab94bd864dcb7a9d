package babus

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWord is a view over one 32-bit word living in a shared mapping.
//
// The word must be 4-byte aligned and must stay mapped for as long as any
// futexWord referencing it is used. Waits and wakes are shared (no
// FUTEX_PRIVATE_FLAG) so that sleepers in other processes are eligible.
type futexWord struct {
	addr *uint32
}

// futexOutcome classifies the non-error results of a wait.
type futexOutcome int

const (
	// futexWoken: the kernel put us to sleep and something woke us. The
	// wake may still be spurious from the caller's point of view.
	futexWoken futexOutcome = iota

	// futexValueChanged: the word no longer held the expected value when
	// the kernel compared it (EAGAIN). Benign; the caller re-reads.
	futexValueChanged

	// futexInterrupted: the sleep was cut short by a signal (EINTR).
	// Benign; the caller loops.
	futexInterrupted

	// futexTimedOut: the absolute deadline passed (ETIMEDOUT).
	futexTimedOut
)

// wait sleeps until the word is woken, provided it still equals expected.
func (f futexWord) wait(expected uint32) (futexOutcome, error) {
	return f.syscall6(unix.FUTEX_WAIT, expected, nil, 0)
}

// wake wakes up to n sleepers and returns the number actually woken.
func (f futexWord) wake(n uint32) (int, error) {
	r, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(f.addr)), uintptr(unix.FUTEX_WAKE),
		uintptr(n), 0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("%w: wake: %w", ErrFutex, errno)
	}

	return int(r), nil
}

// waitBitset sleeps like wait but tags the sleeper with mask; only wakes
// whose mask intersects ours reach us. A nil deadline sleeps forever;
// otherwise deadline is absolute CLOCK_MONOTONIC time.
func (f futexWord) waitBitset(expected, mask uint32, deadline *unix.Timespec) (futexOutcome, error) {
	return f.syscall6(unix.FUTEX_WAIT_BITSET, expected, deadline, mask)
}

// wakeBitset wakes up to n sleepers whose registered mask intersects mask.
func (f futexWord) wakeBitset(n, mask uint32) (int, error) {
	r, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(f.addr)), uintptr(unix.FUTEX_WAKE_BITSET),
		uintptr(n), 0, 0, uintptr(mask))
	if errno != 0 {
		return 0, fmt.Errorf("%w: wake-bitset: %w", ErrFutex, errno)
	}

	return int(r), nil
}

func (f futexWord) syscall6(op int, expected uint32, ts *unix.Timespec, val3 uint32) (futexOutcome, error) {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(f.addr)), uintptr(op),
		uintptr(expected), uintptr(unsafe.Pointer(ts)), 0, uintptr(val3))

	switch errno {
	case 0:
		return futexWoken, nil
	case unix.EAGAIN:
		return futexValueChanged, nil
	case unix.EINTR:
		return futexInterrupted, nil
	case unix.ETIMEDOUT:
		return futexTimedOut, nil
	}

	return 0, fmt.Errorf("%w: wait: %w", ErrFutex, errno)
}

// monotonicDeadline converts a duration from now into an absolute
// CLOCK_MONOTONIC timespec, the clock FUTEX_WAIT_BITSET compares against.
func monotonicDeadline(d int64) (unix.Timespec, error) {
	var now unix.Timespec

	err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &now)
	if err != nil {
		return unix.Timespec{}, fmt.Errorf("clock_gettime: %w", err)
	}

	nsec := now.Nano() + d

	return unix.NsecToTimespec(nsec), nil
}
