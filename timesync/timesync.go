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

// Package timesync implements the virtual-time barrier protocol: a
// TimeSyncService exchanges NextSimTask broadcasts with its coordinated
// peers and releases the next simulation step once every peer has caught up
// to the agreed time point.
package timesync

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/wire"
)

// ErrZeroStepDuration is returned when a zero step duration is configured;
// a zero duration is rejected with a fatal configuration error.
var ErrZeroStepDuration = errors.New("timesync: step duration must be positive")

// Mode selects how a participant's own step duration is derived each round.
type Mode uint8

// Mode values.
const (
	// ByOwnDuration advances at the participant's own configured pace,
	// independent of peers; the barrier just waits for every peer to have
	// caught up to that self-chosen next time point.
	ByOwnDuration Mode = iota
	// ByMinimalDuration advances by the smallest duration announced by any
	// coordinated peer (or the participant's own, if smaller).
	ByMinimalDuration
)

// StepHandler runs one simulation step starting at now for duration.
type StepHandler func(now, duration int64)

// BroadcastFunc sends a NextSimTask to every coordinated peer.
type BroadcastFunc func(wire.NextSimTask) error

// TimeSyncService drives one participant's side of the virtual-time
// barrier.
type TimeSyncService struct {
	participantName string
	mode            Mode
	broadcast       BroadcastFunc

	mu                sync.Mutex
	now               int64
	duration          int64
	pendingDuration   int64
	coordinated       map[string]struct{}
	nextTask          map[string]wire.NextSimTask
	handler           StepHandler
	async             bool
	advancedThisRound bool
}

// New constructs a TimeSyncService starting at virtual time zero.
func New(participantName string, mode Mode, initialStepDuration int64, broadcast BroadcastFunc) (*TimeSyncService, error) {
	if initialStepDuration <= 0 {
		return nil, ErrZeroStepDuration
	}
	return &TimeSyncService{
		participantName: participantName,
		mode:            mode,
		broadcast:       broadcast,
		duration:        initialStepDuration,
		coordinated:     make(map[string]struct{}),
		nextTask:        make(map[string]wire.NextSimTask),
	}, nil
}

// SetBlockingStepHandler installs a handler invoked synchronously on the
// step thread; its return signals barrier readiness.
func (s *TimeSyncService) SetBlockingStepHandler(h StepHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.async = false
}

// SetAsyncStepHandler installs a handler that releases control back to the
// caller before the step logically finishes; the caller must invoke
// CompleteSimulationStep explicitly, from any goroutine.
func (s *TimeSyncService) SetAsyncStepHandler(h StepHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.async = true
}

// SetStepDuration changes the participant's own step duration. The new
// value takes effect starting with the next NextSimTask broadcast; a
// non-positive duration is rejected outright.
func (s *TimeSyncService) SetStepDuration(d int64) error {
	if d <= 0 {
		return ErrZeroStepDuration
	}
	s.mu.Lock()
	s.pendingDuration = d
	s.mu.Unlock()
	return nil
}

// AddCoordinatedPeer enrolls a peer in this participant's barrier. Peers may
// be added mid-simulation; an added peer with no prior NextSimTask is
// assumed to be exactly caught up at time zero.
func (s *TimeSyncService) AddCoordinatedPeer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinated[name] = struct{}{}
	if _, ok := s.nextTask[name]; !ok {
		s.nextTask[name] = wire.NextSimTask{TimePoint: 0, Duration: s.duration}
	}
}

// RemoveCoordinatedPeer drops a peer from this participant's barrier, e.g.
// on PeerShutdown; it can no longer hold the barrier back.
func (s *TimeSyncService) RemoveCoordinatedPeer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coordinated, name)
	delete(s.nextTask, name)
}

// Now returns the current virtual time and the step duration in effect.
func (s *TimeSyncService) Now() (now, duration int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now, s.duration
}

// Start fires the first step, at virtual time zero, with no barrier wait:
// every participant begins from the same origin.
func (s *TimeSyncService) Start() {
	s.mu.Lock()
	now, dur := s.now, s.duration
	s.mu.Unlock()
	s.invokeHandler(now, dur)
}

// OnNextSimTask records a coordinated peer's latest announcement and
// re-evaluates the barrier.
func (s *TimeSyncService) OnNextSimTask(peer string, task wire.NextSimTask) {
	s.mu.Lock()
	if _, ok := s.coordinated[peer]; !ok {
		s.mu.Unlock()
		return
	}
	s.nextTask[peer] = task
	s.mu.Unlock()
	s.tryAdvance()
}

// CompleteSimulationStep finishes the in-flight step: it broadcasts this
// participant's own completion and then re-evaluates the barrier. A
// blocking step handler calls this itself right after the handler returns;
// an async handler's owner must call it explicitly once the step's
// asynchronous work (e.g. an outstanding RPC) actually finishes.
func (s *TimeSyncService) CompleteSimulationStep() {
	s.mu.Lock()
	now, dur := s.now, s.duration
	s.advancedThisRound = false
	s.mu.Unlock()

	msg := wire.NextSimTask{TimePoint: now + dur, Duration: dur}
	if err := s.broadcast(msg); err != nil {
		log.Errorf("timesync[%s]: failed to broadcast step completion: %v", s.participantName, err)
	}
	s.tryAdvance()
}

func (s *TimeSyncService) invokeHandler(now, dur int64) {
	s.mu.Lock()
	h := s.handler
	async := s.async
	s.mu.Unlock()
	if h == nil {
		return
	}
	if async {
		go h(now, dur)
		return
	}
	h(now, dur)
	s.CompleteSimulationStep()
}

func (s *TimeSyncService) tryAdvance() {
	s.mu.Lock()
	if s.advancedThisRound {
		s.mu.Unlock()
		return
	}
	release, nextNow, nextDur := s.evaluateBarrierLocked()
	if !release {
		s.mu.Unlock()
		return
	}
	s.advancedThisRound = true
	s.now = nextNow
	if s.pendingDuration != 0 {
		s.duration = s.pendingDuration
		s.pendingDuration = 0
	} else {
		s.duration = nextDur
	}
	now, dur := s.now, s.duration
	s.mu.Unlock()
	s.invokeHandler(now, dur)
}

// evaluateBarrierLocked must be called with s.mu held. It computes this
// round's candidate next time point per the configured mode and checks
// whether every coordinated peer has already reached it.
func (s *TimeSyncService) evaluateBarrierLocked() (release bool, nextNow, nextDur int64) {
	switch s.mode {
	case ByMinimalDuration:
		nextDur = s.duration
		for peer := range s.coordinated {
			if d := s.nextTask[peer].Duration; d > 0 && d < nextDur {
				nextDur = d
			}
		}
	default: // ByOwnDuration
		nextDur = s.duration
	}
	nextNow = s.now + nextDur

	for peer := range s.coordinated {
		if s.nextTask[peer].TimePoint < nextNow {
			return false, 0, 0
		}
	}
	return true, nextNow, nextDur
}
