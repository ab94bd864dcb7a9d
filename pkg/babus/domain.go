package babus

import (
	"fmt"
)

// domain is the top-level shared object of one named bus, viewed through
// this process's mapping. It carries the global wake-bitset counter every
// waiter sleeps on, the registry assigning slot names their bits in the
// wake mask, and the sizing parameter for slot regions.
type domain struct {
	data []byte
}

func (d domain) registryMtx() rwMutex {
	return rwMutexAt(word32(d.data, offDomainLock))
}

func (d domain) seq() seqCounter {
	return seqCounterAt(word32(d.data, offDomainSeq))
}

func (d domain) magicOK() bool {
	return magicAt(d.data, offDomainMagic) == domainMagic
}

func (d domain) name() string {
	return getName(d.data, offDomainName)
}

// slotRegionSize is the byte size every slot region of this bus uses. Set
// by the creating process; immutable afterwards.
func (d domain) slotRegionSize() int64 {
	return int64(getU64(d.data, offDomainSlotSize))
}

func (d domain) slotCount() uint32 {
	return getU32(d.data, offDomainCount)
}

// initialize placement-initializes a freshly created domain region. Must
// run under the backing file's init lock; magic is stored last.
func (d domain) initialize(name string, slotRegionSize int64) {
	d.registryMtx().init()
	putU32(d.data, offDomainSeq, 0)
	putU64(d.data, offDomainSlotSize, uint64(slotRegionSize))
	putU32(d.data, offDomainCount, 0)
	putName(d.data, offDomainName, name)
	copy(d.data[offDomainMagic:], domainMagic[:])
}

func (d domain) verify(name string) error {
	if !d.magicOK() {
		return fmt.Errorf("domain %q: %w", name, ErrMagic)
	}

	if got := d.name(); got != name {
		return fmt.Errorf("domain stores %q, opened as %q: %w", got, name, ErrNameMismatch)
	}

	return nil
}

func (d domain) registryEntry(i uint32) (name string, index uint32) {
	off := offDomainRegistry + int(i)*regEntrySize

	return getName(d.data, off), getU32(d.data, off+NameSize)
}

// assignIndex resolves name to its bit index in the wake mask, appending a
// fresh registry entry when the name is new. Assignments are stable for
// the life of the bus. Once all MaxSlots bits are taken, new names get
// invalidIndex: such slots carry data but cannot themselves wake waiters.
//
// Runs under the domain's registry write lock, so concurrent opens of the
// same fresh name in different processes agree on one index.
func (d domain) assignIndex(name string) (uint32, error) {
	m := d.registryMtx()

	err := m.lock()
	if err != nil {
		return 0, err
	}
	defer m.unlock()

	count := d.slotCount()

	for i := range count {
		entryName, index := d.registryEntry(i)
		if entryName == name {
			return index, nil
		}
	}

	if count >= MaxSlots {
		return invalidIndex, nil
	}

	off := offDomainRegistry + int(count)*regEntrySize
	putName(d.data, off, name)
	putU32(d.data, off+NameSize, count)
	putU32(d.data, offDomainCount, count+1)

	return count, nil
}

// RegistryEntry describes one name→bit assignment of a domain, as reported
// by [ClientDomain.Registry].
type RegistryEntry struct {
	Name  string
	Index uint32
}

// registry snapshots the assignment table under the registry read lock.
func (d domain) registry() ([]RegistryEntry, error) {
	m := d.registryMtx()

	err := m.rlock()
	if err != nil {
		return nil, err
	}
	defer m.runlock()

	count := d.slotCount()

	entries := make([]RegistryEntry, 0, count)
	for i := range count {
		name, index := d.registryEntry(i)
		entries = append(entries, RegistryEntry{Name: name, Index: index})
	}

	return entries, nil
}
