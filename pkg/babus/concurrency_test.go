package babus_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/steplee/babus/pkg/babus"
)

// Cross-process tests re-exec the test binary with a helper marker in the
// environment, so the child runs a real second process over the same
// backing files.

func Test_Waiter_Wakes_Across_Processes(t *testing.T) {
	t.Parallel()

	if os.Getenv("BABUS_WAIT_HELPER") == "1" {
		runWaitHelper(t)

		return
	}

	prefix := t.TempDir()

	d, err := babus.Open(babus.Options{Name: "dom2", Prefix: prefix, DomainSize: 4096, SlotSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = d.Close() }()

	s, err := d.Slot("mySlot")
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, os.Args[0],
		"-test.run=^Test_Waiter_Wakes_Across_Processes$", "-test.v")
	cmd.Env = append(os.Environ(),
		"BABUS_WAIT_HELPER=1",
		"BABUS_TEST_PREFIX="+prefix,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	startErr := cmd.Start()
	if startErr != nil {
		t.Fatalf("start child: %v", startErr)
	}

	// Give the child time to subscribe and park before publishing.
	time.Sleep(100 * time.Millisecond)

	err = s.Write([]byte("hello1\x00"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	runErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		t.Fatal("child timed out: cross-process wake never arrived")
	}

	if runErr != nil {
		t.Fatalf("child failed: %v", runErr)
	}
}

// runWaitHelper is the child side: subscribe, block, verify the payload.
func runWaitHelper(t *testing.T) {
	prefix := os.Getenv("BABUS_TEST_PREFIX")
	if prefix == "" {
		t.Fatal("BABUS_TEST_PREFIX not set")
	}

	d, err := babus.Open(babus.Options{Name: "dom2", Prefix: prefix, DomainSize: 4096, SlotSize: 4096})
	if err != nil {
		t.Fatalf("child Open: %v", err)
	}

	defer func() { _ = d.Close() }()

	s, err := d.Slot("mySlot")
	if err != nil {
		t.Fatalf("child Slot: %v", err)
	}

	w := babus.NewWaiter(d)
	w.Subscribe(s, true)

	err = w.WaitExclusiveTimeout(8 * time.Second)
	if err != nil {
		t.Fatalf("child wait: %v", err)
	}

	var got []byte

	visited, err := w.ForEachNewSlot(func(v *babus.View) {
		got = bytes.Clone(v.Bytes())
	})
	if err != nil {
		t.Fatalf("child ForEachNewSlot: %v", err)
	}

	if visited != 1 {
		t.Fatalf("child visited %d slots, want 1", visited)
	}

	if !bytes.Equal(got, []byte("hello1\x00")) {
		t.Fatalf("child read %q, want %q", got, "hello1\x00")
	}
}

func Test_Concurrent_Opens_Of_Fresh_Domain_Agree(t *testing.T) {
	t.Parallel()

	if os.Getenv("BABUS_OPEN_HELPER") == "1" {
		runOpenHelper(t)

		return
	}

	prefix := t.TempDir()

	// Race several children on a path nobody has created yet. Exactly one
	// wins the O_EXCL create; everyone must end up attached to the same
	// initialized bus with the same slot index assignments.
	const children = 4

	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()

	cmds := make([]*exec.Cmd, 0, children)

	for range children {
		cmd := exec.CommandContext(ctx, os.Args[0],
			"-test.run=^Test_Concurrent_Opens_Of_Fresh_Domain_Agree$", "-test.v")
		cmd.Env = append(os.Environ(),
			"BABUS_OPEN_HELPER=1",
			"BABUS_TEST_PREFIX="+prefix,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		startErr := cmd.Start()
		if startErr != nil {
			t.Fatalf("start child: %v", startErr)
		}

		cmds = append(cmds, cmd)
	}

	for i, cmd := range cmds {
		runErr := cmd.Wait()

		if ctx.Err() == context.DeadlineExceeded {
			t.Fatal("children timed out racing on a fresh domain")
		}

		if runErr != nil {
			t.Fatalf("child %d failed: %v", i, runErr)
		}
	}

	// The bus the children left behind is a healthy domain.
	d, err := babus.Open(babus.Options{Name: "racedom", Prefix: prefix, DomainSize: 4096, SlotSize: 4096})
	if err != nil {
		t.Fatalf("Open after race: %v", err)
	}

	defer func() { _ = d.Close() }()

	s, err := d.Slot("raceslot")
	if err != nil {
		t.Fatalf("Slot after race: %v", err)
	}

	if s.Index() != 0 {
		t.Fatalf("raceslot index %d, want 0", s.Index())
	}

	if _, statErr := os.Stat(filepath.Join(prefix, "racedom")); statErr != nil {
		t.Fatalf("domain backing file missing: %v", statErr)
	}
}

func runOpenHelper(t *testing.T) {
	prefix := os.Getenv("BABUS_TEST_PREFIX")
	if prefix == "" {
		t.Fatal("BABUS_TEST_PREFIX not set")
	}

	d, err := babus.Open(babus.Options{Name: "racedom", Prefix: prefix, DomainSize: 4096, SlotSize: 4096})
	if err != nil {
		t.Fatalf("child Open: %v", err)
	}

	defer func() { _ = d.Close() }()

	s, err := d.Slot("raceslot")
	if err != nil {
		t.Fatalf("child Slot: %v", err)
	}

	if s.Index() != 0 {
		t.Fatalf("child sees raceslot index %d, want 0", s.Index())
	}

	err = s.Write([]byte("from child"))
	if err != nil {
		t.Fatalf("child Write: %v", err)
	}
}
