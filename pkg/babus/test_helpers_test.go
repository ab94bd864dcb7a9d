package babus

import (
	"testing"
)

// testSlotRegionSize keeps anonymous test slots small: 4 KiB region means
// 4096-256 bytes of payload capacity.
const testSlotRegionSize = 4096

// newTestDomain builds a domain over an anonymous shared mapping, skipping
// the file layer entirely.
func newTestDomain(t *testing.T) domain {
	t.Helper()

	reg, err := openAnonymousRegion(int64(domainHeaderSize))
	if err != nil {
		t.Fatalf("map anonymous domain: %v", err)
	}

	t.Cleanup(func() { _ = reg.close() })

	d := domain{data: reg.data}
	d.initialize("testdom", testSlotRegionSize)

	return d
}

// newTestSlot builds an initialized slot over an anonymous shared mapping.
func newTestSlot(t *testing.T, name string, index uint32) slot {
	t.Helper()

	reg, err := openAnonymousRegion(testSlotRegionSize)
	if err != nil {
		t.Fatalf("map anonymous slot: %v", err)
	}

	t.Cleanup(func() { _ = reg.close() })

	s := slot{data: reg.data}
	s.initialize(name, index)

	return s
}
