package ratestate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlagsLastWriteWins(t *testing.T) {
	t.Parallel()

	s := New()
	require.Equal(t, Snapshot{}, s.Snapshot())

	s.SetSlowMode(true)
	s.SetSlowMode(false)
	s.SetSlowMode(true)
	s.SetActivelyWorking(true)
	s.SetElevated(true)
	s.RequestStop()

	require.Equal(t, Snapshot{StopRequested: true, SlowMode: true, ActivelyWorking: true, Elevated: true}, s.Snapshot())

	s.ClearStop()
	require.False(t, s.Snapshot().StopRequested)
	require.True(t, s.Snapshot().SlowMode, "clearing stop leaves other flags untouched")
}

func TestChangedClosesOnWrite(t *testing.T) {
	t.Parallel()

	s := New()
	ch := s.Changed()
	select {
	case <-ch:
		t.Fatal("changed closed before any write")
	default:
	}

	s.RequestStop()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed not closed after write")
	}

	next := s.Changed()
	s.RequestStop()
	select {
	case <-next:
		t.Fatal("idempotent write must not signal")
	default:
	}
}

func TestConcurrentWriters(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetSlowMode(on)
				_ = s.Snapshot()
			}
		}(i%2 == 0)
	}
	wg.Wait()
	_ = s.Snapshot()
}
