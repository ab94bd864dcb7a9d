package babus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Options configure opening or creating a domain.
//
// Zero fields fall back to [LoadConfig] resolution (defaults, global
// config file, environment).
type Options struct {
	// Name of the bus. Becomes the backing file name under the prefix.
	Name string

	// Prefix overrides the backing-file directory.
	Prefix string

	// DomainSize overrides the domain backing file size.
	DomainSize int64

	// SlotSize overrides the slot backing file size. Only meaningful for
	// the process that creates the domain; openers inherit the creator's
	// value from the domain header.
	SlotSize int64
}

// ClientDomain is this process's handle to a named bus.
//
// The handle owns the domain mapping and the mapping of every slot opened
// through it. It must outlive every [ClientSlot], [Waiter], and [View]
// derived from it. Safe for concurrent use.
//
// Closing the handle releases the mappings only; the shared bus lives
// until its backing files are removed from the prefix.
type ClientDomain struct {
	reg *region
	dom domain

	prefix string

	// mu protects the slot cache and the closed flag. Process-private.
	mu     sync.Mutex
	slots  map[string]*ClientSlot
	closed bool
}

// Open opens the named domain, creating it if absent.
//
// Creation is serialized against concurrent openers with O_EXCL plus a
// sidecar init lock, so exactly one process initializes the header and no
// process observes it half-written.
func Open(opts Options) (*ClientDomain, error) {
	err := validateName(opts.Name)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(os.Environ())
	if err != nil {
		return nil, err
	}

	cfg = mergeConfig(cfg, Config{Prefix: opts.Prefix, DomainSize: opts.DomainSize, SlotSize: opts.SlotSize})

	validateErr := validateConfig(cfg)
	if validateErr != nil {
		return nil, validateErr
	}

	path := filepath.Join(cfg.Prefix, opts.Name)

	lock, err := acquireInitLock(path)
	if err != nil {
		if errors.Is(err, errInitLockTimeout) {
			return nil, fmt.Errorf("%w: %s held through init", ErrBusy, path)
		}

		return nil, err
	}
	defer lock.release()

	reg, err := openRegion(regionOptions{
		path:             path,
		size:             cfg.DomainSize,
		create:           true,
		truncateOnCreate: true,
	})
	if err != nil {
		return nil, err
	}

	dom := domain{data: reg.data}

	if reg.created {
		dom.initialize(opts.Name, cfg.SlotSize)
	} else {
		verifyErr := dom.verify(opts.Name)
		if verifyErr != nil {
			_ = reg.close()

			return nil, verifyErr
		}
	}

	return &ClientDomain{
		reg:    reg,
		dom:    dom,
		prefix: cfg.Prefix,
		slots:  make(map[string]*ClientSlot),
	}, nil
}

// Name returns the bus name stored in the domain header.
func (c *ClientDomain) Name() string {
	return c.dom.name()
}

// Path returns the domain's backing file path.
func (c *ClientDomain) Path() string {
	return c.reg.path
}

// SlotRegionSize returns the byte size used for this bus's slot regions.
func (c *ClientDomain) SlotRegionSize() int64 {
	return c.dom.slotRegionSize()
}

// Sequence returns the domain's global counter value.
func (c *ClientDomain) Sequence() uint32 {
	return c.dom.seq().load()
}

// Registry snapshots the domain's name→bit assignment table.
func (c *ClientDomain) Registry() ([]RegistryEntry, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	return c.dom.registry()
}

// Slot returns a handle to the named slot, creating the slot on first open
// of that name anywhere on the bus. Handles are cached per domain handle:
// repeated calls with one name return the same *ClientSlot.
func (c *ClientDomain) Slot(name string) (*ClientSlot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if cs, ok := c.slots[name]; ok {
		return cs, nil
	}

	err := validateName(name)
	if err != nil {
		return nil, err
	}

	cs, err := c.openSlot(name)
	if err != nil {
		return nil, err
	}

	c.slots[name] = cs

	return cs, nil
}

// openSlot maps the slot's backing file, initializing it when this call
// created it. The bit index comes from the domain registry, assigned under
// the registry's cross-process write lock before the slot file exists, so
// every process agrees on it.
func (c *ClientDomain) openSlot(name string) (*ClientSlot, error) {
	index, err := c.dom.assignIndex(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(c.prefix, name)

	lock, err := acquireInitLock(path)
	if err != nil {
		if errors.Is(err, errInitLockTimeout) {
			return nil, fmt.Errorf("%w: %s held through init", ErrBusy, path)
		}

		return nil, err
	}
	defer lock.release()

	reg, err := openRegion(regionOptions{
		path:             path,
		size:             c.dom.slotRegionSize(),
		create:           true,
		truncateOnCreate: true,
	})
	if err != nil {
		return nil, err
	}

	s := slot{data: reg.data}

	if reg.created {
		s.initialize(name, index)
	} else {
		verifyErr := s.verify(name)
		if verifyErr == nil && s.index() != index {
			verifyErr = fmt.Errorf("slot %q stores index %d, registry says %d: %w",
				name, s.index(), index, ErrMagic)
		}

		if verifyErr != nil {
			_ = reg.close()

			return nil, verifyErr
		}
	}

	return &ClientSlot{parent: c, reg: reg, s: s}, nil
}

// Close unmaps the domain and every slot opened through it. Idempotent.
// All handles derived from this domain become unusable.
func (c *ClientDomain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	var firstErr error

	for _, cs := range c.slots {
		err := cs.reg.close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.slots = nil

	err := c.reg.close()
	if err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (c *ClientDomain) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	return nil
}

// ClientSlot is this process's handle to one slot of a bus. It borrows the
// slot's mapping from its parent [ClientDomain]; it is invalidated when
// the domain handle closes. Safe for concurrent use.
type ClientSlot struct {
	parent *ClientDomain
	reg    *region
	s      slot
}

// Name returns the slot's name.
func (cs *ClientSlot) Name() string {
	return cs.s.name()
}

// Index returns the slot's bit index in the domain wake mask, or a value
// of [MaxSlots] or above when the slot is not wake-eligible.
func (cs *ClientSlot) Index() uint32 {
	return cs.s.index()
}

// Capacity returns the maximum payload size in bytes.
func (cs *ClientSlot) Capacity() int {
	return cs.s.capacity()
}

// Sequence returns the slot's local counter value.
func (cs *ClientSlot) Sequence() uint32 {
	return cs.s.seq().load()
}

// Write publishes p as the slot's payload, replacing the previous one, and
// wakes waiters subscribed to this slot. Blocks while readers or another
// writer hold the slot's lock. A zero-length p is a valid message.
func (cs *ClientSlot) Write(p []byte) error {
	if err := cs.parent.checkOpen(); err != nil {
		return err
	}

	return cs.s.write(cs.parent.dom, p)
}

// Read returns a read-locked [View] of the current payload. The caller
// must Close the view; writers to this slot block until every open view
// is released.
func (cs *ClientSlot) Read() (*View, error) {
	if err := cs.parent.checkOpen(); err != nil {
		return nil, err
	}

	return cs.s.read()
}

// Flags returns the slot's opaque flag bits.
func (cs *ClientSlot) Flags() (uint64, error) {
	if err := cs.parent.checkOpen(); err != nil {
		return 0, err
	}

	return cs.s.flags()
}

// SetFlags stores the slot's opaque flag bits. Flag updates do not wake
// waiters.
func (cs *ClientSlot) SetFlags(bits uint64) error {
	if err := cs.parent.checkOpen(); err != nil {
		return err
	}

	return cs.s.setFlags(bits)
}
