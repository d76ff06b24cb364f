/*
Copyright (c) The SIL Kit-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package timesync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/wire"
)

func TestNewRejectsZeroDuration(t *testing.T) {
	_, err := New("A", ByOwnDuration, 0, func(wire.NextSimTask) error { return nil })
	require.ErrorIs(t, err, ErrZeroStepDuration)
}

func TestSetStepDurationRejectsZero(t *testing.T) {
	s, err := New("A", ByOwnDuration, 10, func(wire.NextSimTask) error { return nil })
	require.NoError(t, err)
	require.ErrorIs(t, s.SetStepDuration(0), ErrZeroStepDuration)
}

func TestOwnDurationAdvancesOnceAllPeersCaughtUp(t *testing.T) {
	s, err := New("A", ByOwnDuration, 10, func(wire.NextSimTask) error { return nil })
	require.NoError(t, err)
	s.AddCoordinatedPeer("B")

	var mu sync.Mutex
	var seen []int64
	done := make(chan struct{}, 4)
	s.SetBlockingStepHandler(func(now, duration int64) {
		mu.Lock()
		seen = append(seen, now)
		mu.Unlock()
		done <- struct{}{}
	})

	s.Start()
	<-done // now=0

	// B hasn't caught up yet: barrier must not release.
	select {
	case <-done:
		t.Fatal("advanced before peer caught up")
	case <-time.After(50 * time.Millisecond):
	}

	s.OnNextSimTask("B", wire.NextSimTask{TimePoint: 10, Duration: 10})
	<-done // now=10

	mu.Lock()
	require.Equal(t, []int64{0, 10}, seen)
	mu.Unlock()
}

func TestMinimalDurationUsesSmallestPeerDuration(t *testing.T) {
	s, err := New("A", ByMinimalDuration, 10, func(wire.NextSimTask) error { return nil })
	require.NoError(t, err)
	s.AddCoordinatedPeer("B")

	var mu sync.Mutex
	var durations []int64
	done := make(chan struct{}, 4)
	s.SetBlockingStepHandler(func(now, duration int64) {
		mu.Lock()
		durations = append(durations, duration)
		mu.Unlock()
		done <- struct{}{}
	})

	s.Start()
	<-done // duration=10 (initial)

	s.OnNextSimTask("B", wire.NextSimTask{TimePoint: 5, Duration: 5})
	<-done

	mu.Lock()
	require.Equal(t, []int64{10, 5}, durations)
	mu.Unlock()
}

func TestSetStepDurationTakesEffectNextBroadcast(t *testing.T) {
	s, err := New("A", ByOwnDuration, 10, func(wire.NextSimTask) error { return nil })
	require.NoError(t, err)
	s.AddCoordinatedPeer("B")

	var mu sync.Mutex
	var durations []int64
	done := make(chan struct{}, 4)
	s.SetBlockingStepHandler(func(now, duration int64) {
		mu.Lock()
		durations = append(durations, duration)
		mu.Unlock()
		done <- struct{}{}
	})

	s.Start()
	<-done

	require.NoError(t, s.SetStepDuration(20))
	s.OnNextSimTask("B", wire.NextSimTask{TimePoint: 10, Duration: 10})
	<-done

	mu.Lock()
	require.Equal(t, []int64{10, 20}, durations)
	mu.Unlock()
}

func TestAsyncHandlerWaitsForExplicitComplete(t *testing.T) {
	var broadcasts []wire.NextSimTask
	var mu sync.Mutex
	s, err := New("A", ByOwnDuration, 10, func(task wire.NextSimTask) error {
		mu.Lock()
		broadcasts = append(broadcasts, task)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	s.SetAsyncStepHandler(func(now, duration int64) {
		fired <- struct{}{}
	})

	s.Start()
	<-fired

	mu.Lock()
	require.Empty(t, broadcasts)
	mu.Unlock()

	s.CompleteSimulationStep()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(broadcasts) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveCoordinatedPeerUnblocksBarrier(t *testing.T) {
	s, err := New("A", ByOwnDuration, 10, func(wire.NextSimTask) error { return nil })
	require.NoError(t, err)
	s.AddCoordinatedPeer("B")

	done := make(chan struct{}, 4)
	s.SetBlockingStepHandler(func(now, duration int64) { done <- struct{}{} })

	s.Start()
	<-done

	s.RemoveCoordinatedPeer("B")
	go s.CompleteSimulationStep()
	<-done
}
