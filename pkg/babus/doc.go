// Package babus is a shared-memory publish/subscribe bus for cooperating
// processes on a single host.
//
// Producers write variable-size byte messages into named slots; consumers
// subscribe to sets of slots and block until any subscribed slot receives a
// new message. Slots are last-writer-wins: a reader observes only the latest
// payload, never a queue. All synchronization lives inside memory-mapped
// files under a tmpfs prefix (/dev/shm by default), built on a 32-bit futex
// word per lock and a bitset futex for multi-slot waits, so the end-to-end
// path for small messages is a memcpy plus a few futex syscalls per side
// (the writer's lock release and wake, the reader's sleep and lock release).
//
// # Basic Usage
//
//	dom, err := babus.Open(babus.Options{Name: "myBus"})
//	if err != nil {
//	    // handle
//	}
//	defer dom.Close()
//
//	// Publish
//	slot, _ := dom.Slot("imu")
//	_ = slot.Write(payload)
//
//	// Subscribe
//	w := babus.NewWaiter(dom)
//	w.Subscribe(slot, true)
//	for {
//	    if err := w.WaitExclusive(); err != nil {
//	        break
//	    }
//	    w.ForEachNewSlot(func(v *babus.View) {
//	        consume(v.Bytes()) // copy out if retained past the callback
//	    })
//	}
//
// # Concurrency
//
// The bus is safe against arbitrary thread and process interleavings. Each
// slot carries a reader/writer lock permitting one writer or many concurrent
// readers across processes. A [View] holds the slot's read lock for its
// lifetime; its bytes alias the shared mapping and must be copied out before
// the view is released if retention is required.
//
// # Trust model
//
// Peers are mutually trusting: there is no authentication and no isolation.
// A process that aborts while holding a slot's write lock wedges that slot
// until the backing file is removed or a supervisor resets the lock word.
// See [ClientDomain] for the file lifecycle.
package babus
