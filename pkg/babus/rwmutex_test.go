package babus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMutex() rwMutex {
	word := new(uint32)

	m := rwMutexAt(word)
	m.init()

	return m
}

func Test_RwMutex_Writer_Blocks_Reader(t *testing.T) {
	t.Parallel()

	m := newTestMutex()

	require.NoError(t, m.lock())

	var reads atomic.Int32

	var stop atomic.Bool

	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			assert.NoError(t, m.rlock())

			if stop.Load() {
				m.runlock()

				return
			}

			reads.Add(1)
			m.runlock()
			time.Sleep(100 * time.Microsecond)
		}
	}()

	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, int32(0), reads.Load(), "reader made progress while writer held the lock")

	m.unlock()

	// Released writer admits readers.
	deadline := time.Now().Add(2 * time.Second)
	for reads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	assert.Positive(t, reads.Load(), "reader never ran after writer released")

	stop.Store(true)
	<-done
}

func Test_RwMutex_Reader_Does_Not_Block_Reader(t *testing.T) {
	t.Parallel()

	m := newTestMutex()

	require.NoError(t, m.rlock())

	var reads atomic.Int32

	done := make(chan struct{})

	go func() {
		defer close(done)

		assert.NoError(t, m.rlock())
		reads.Add(1)
		m.runlock()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second reader blocked behind first reader")
	}

	assert.Equal(t, int32(1), reads.Load())

	m.runlock()
}

func Test_RwMutex_Writer_Blocks_Until_All_Readers_Release(t *testing.T) {
	t.Parallel()

	m := newTestMutex()

	require.NoError(t, m.rlock())
	require.NoError(t, m.rlock())

	var wrote atomic.Bool

	done := make(chan struct{})

	go func() {
		defer close(done)

		assert.NoError(t, m.lock())
		wrote.Store(true)
		m.unlock()
	}()

	time.Sleep(10 * time.Millisecond)
	assert.False(t, wrote.Load(), "writer acquired while two readers held")

	m.runlock()

	time.Sleep(10 * time.Millisecond)
	assert.False(t, wrote.Load(), "writer acquired while one reader held")

	m.runlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired after readers released")
	}

	assert.True(t, wrote.Load())
}

func Test_RwMutex_Write_Lock_Provides_Mutual_Exclusion(t *testing.T) {
	t.Parallel()

	m := newTestMutex()

	const (
		goroutines = 8
		iterations = 2000
	)

	// Plain non-atomic counter: torn updates would be visible as a wrong
	// final value if the lock ever admitted two writers.
	counter := 0

	var wg sync.WaitGroup

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range iterations {
				assert.NoError(t, m.lock())

				counter++

				m.unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
	assert.Equal(t, rwUnlocked, m.load(), "lock word not free after all writers finished")
}

func Test_RwMutex_Load_Reports_Reader_Count(t *testing.T) {
	t.Parallel()

	m := newTestMutex()

	require.NoError(t, m.rlock())
	require.NoError(t, m.rlock())
	require.NoError(t, m.rlock())

	assert.Equal(t, rwUnlocked+3, m.load())

	m.runlock()
	m.runlock()
	m.runlock()

	assert.Equal(t, rwUnlocked, m.load())
}
