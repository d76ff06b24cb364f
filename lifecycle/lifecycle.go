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

// Package lifecycle implements the per-participant state machine: validated
// state transitions, the communication-ready gate between
// CommunicationInitializing and ReadyToRun, and cooperative Stop vs.
// preemptive Abort.
package lifecycle

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/wire"
)

// ErrNotCommunicationReady is returned by EnterCommunicationInitialized when
// the caller-supplied readiness condition has not yet been satisfied.
var ErrNotCommunicationReady = errors.New("lifecycle: communication-ready condition not satisfied")

// allowedPredecessors enumerates, for every reachable state, the states a
// transition into it may legally come from. The happy path is named
// exactly; the Aborting/Error reachability ("from most states") and the
// terminal cooperative-shutdown chain are filled in here as an explicit,
// documented design decision (see DESIGN.md).
var allowedPredecessors = map[wire.ParticipantState][]wire.ParticipantState{
	wire.ParticipantStateServicesCreated: {wire.ParticipantStateInvalid},
	wire.ParticipantStateCommunicationInitializing: {wire.ParticipantStateServicesCreated},
	wire.ParticipantStateCommunicationInitialized:  {wire.ParticipantStateCommunicationInitializing},
	wire.ParticipantStateReadyToRun:                {wire.ParticipantStateCommunicationInitialized},
	wire.ParticipantStateRunning:                   {wire.ParticipantStateReadyToRun, wire.ParticipantStatePaused},
	wire.ParticipantStatePaused:                    {wire.ParticipantStateRunning},
	wire.ParticipantStateStopping:                  {wire.ParticipantStateRunning, wire.ParticipantStatePaused},
	wire.ParticipantStateStopped:                   {wire.ParticipantStateStopping},
	wire.ParticipantStateShuttingDown: {
		wire.ParticipantStateStopped, wire.ParticipantStateAborting, wire.ParticipantStateError,
	},
	wire.ParticipantStateShutdown: {wire.ParticipantStateShuttingDown},
	wire.ParticipantStateAborting: {
		wire.ParticipantStateServicesCreated, wire.ParticipantStateCommunicationInitializing,
		wire.ParticipantStateCommunicationInitialized, wire.ParticipantStateReadyToRun,
		wire.ParticipantStateRunning, wire.ParticipantStatePaused, wire.ParticipantStateStopping,
	},
	wire.ParticipantStateError: {
		wire.ParticipantStateServicesCreated, wire.ParticipantStateCommunicationInitializing,
		wire.ParticipantStateCommunicationInitialized, wire.ParticipantStateReadyToRun,
		wire.ParticipantStateRunning, wire.ParticipantStatePaused, wire.ParticipantStateStopping,
		wire.ParticipantStateStopped,
	},
}

// StatusBroadcastFunc is invoked on every state transition with the new
// ParticipantStatus, for the composition root to forward to the system
// state tracker and remote peers.
type StatusBroadcastFunc func(wire.ParticipantStatus) error

// ReadyHandler is the user-installed callback run exactly once between
// CommunicationInitialized and ReadyToRun, before the first simulation step.
type ReadyHandler func()

// Lifecycle drives one participant through its state machine.
type Lifecycle struct {
	participantName string
	required        bool
	broadcast       StatusBroadcastFunc

	mu                sync.Mutex
	state             wire.ParticipantState
	enterReason       string
	enterTime         int64
	communicationReady ReadyHandler
	readyHandlerFired bool
}

// New constructs a Lifecycle starting in ParticipantStateInvalid. required
// marks whether this participant counts toward the system state tracker's
// required set, which only affects how invalid transitions are logged.
func New(participantName string, required bool, broadcast StatusBroadcastFunc) *Lifecycle {
	return &Lifecycle{
		participantName: participantName,
		required:        required,
		broadcast:       broadcast,
		state:           wire.ParticipantStateInvalid,
	}
}

// SetCommunicationReadyHandler installs the once-only readiness callback.
func (l *Lifecycle) SetCommunicationReadyHandler(h ReadyHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.communicationReady = h
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() wire.ParticipantState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Enter attempts a transition to the given state. An invalid transition
// (per allowedPredecessors) is not rejected — it is logged, at Warn level
// for a required participant and Info level otherwise — and still applied;
// the violation only needs to be observable, not blocked.
func (l *Lifecycle) Enter(to wire.ParticipantState, reason string) error {
	l.mu.Lock()
	old := l.state
	valid := isAllowed(old, to)
	l.state = to
	l.enterReason = reason
	l.enterTime = time.Now().UnixNano()
	status := wire.ParticipantStatus{
		ParticipantName: l.participantName,
		State:           to,
		EnterReason:     reason,
		EnterTime:       l.enterTime,
		RefreshTime:     l.enterTime,
	}
	l.mu.Unlock()

	if !valid {
		if l.required {
			log.Warnf("lifecycle[%s]: invalid transition %s -> %s", l.participantName, old, to)
		} else {
			log.Infof("lifecycle[%s]: invalid transition %s -> %s", l.participantName, old, to)
		}
	}

	if l.broadcast != nil {
		return l.broadcast(status)
	}
	return nil
}

// IsValidTransition reports whether a transition from old to new is listed
// in allowedPredecessors. Exported so the system state tracker can reuse the
// same validity notion for its own logged-only checks, instead of
// maintaining a second copy of the table.
func IsValidTransition(old, to wire.ParticipantState) bool {
	return isAllowed(old, to)
}

func isAllowed(old, to wire.ParticipantState) bool {
	for _, p := range allowedPredecessors[to] {
		if p == old {
			return true
		}
	}
	return false
}

// EnterServicesCreated transitions from Invalid to ServicesCreated, once all
// local controllers have been constructed.
func (l *Lifecycle) EnterServicesCreated() error {
	return l.Enter(wire.ParticipantStateServicesCreated, "")
}

// EnterCommunicationInitializing starts the handshake/discovery phase.
func (l *Lifecycle) EnterCommunicationInitializing() error {
	return l.Enter(wire.ParticipantStateCommunicationInitializing, "")
}

// EnterCommunicationInitialized transitions from CommunicationInitializing
// to CommunicationInitialized, gated by the caller-evaluated
// communication-ready condition (local discovery matches resolved and every
// required peer has reached at least CommunicationInitializing).
func (l *Lifecycle) EnterCommunicationInitialized(ready bool) error {
	if !ready {
		return ErrNotCommunicationReady
	}
	return l.Enter(wire.ParticipantStateCommunicationInitialized, "communication ready")
}

// EnterReadyToRun runs the communication-ready handler exactly once (no-op
// if already fired or none installed) and transitions to ReadyToRun.
func (l *Lifecycle) EnterReadyToRun() error {
	l.mu.Lock()
	handler := l.communicationReady
	alreadyFired := l.readyHandlerFired
	l.readyHandlerFired = true
	l.mu.Unlock()

	if handler != nil && !alreadyFired {
		handler()
	}
	return l.Enter(wire.ParticipantStateReadyToRun, "")
}

// Run transitions into Running, the state from which the time-sync barrier
// starts exchanging steps.
func (l *Lifecycle) Run() error {
	return l.Enter(wire.ParticipantStateRunning, "")
}

// Pause is the edge-triggered transition out of Running; it is the caller's
// responsibility to later issue a matching Continue.
func (l *Lifecycle) Pause(reason string) error {
	return l.Enter(wire.ParticipantStatePaused, reason)
}

// Continue is the edge-triggered transition back into Running from Paused.
func (l *Lifecycle) Continue() error {
	return l.Enter(wire.ParticipantStateRunning, "continue")
}

// Stop begins the cooperative shutdown path: Running/Paused -> Stopping.
func (l *Lifecycle) Stop(reason string) error {
	return l.Enter(wire.ParticipantStateStopping, reason)
}

// Stopped completes the cooperative shutdown's step-halting phase.
func (l *Lifecycle) Stopped(reason string) error {
	return l.Enter(wire.ParticipantStateStopped, reason)
}

// Abort is the preemptive path, reachable from most states directly,
// bypassing the cooperative Stopping/Stopped phase entirely.
func (l *Lifecycle) Abort(reason string) error {
	return l.Enter(wire.ParticipantStateAborting, reason)
}

// Fail transitions into Error, the other dominating terminal-ish state.
func (l *Lifecycle) Fail(reason string) error {
	return l.Enter(wire.ParticipantStateError, reason)
}

// Shutdown drives the final ShuttingDown -> Shutdown pair, valid from
// Stopped (cooperative) or Aborting/Error (preemptive).
func (l *Lifecycle) Shutdown(reason string) error {
	if err := l.Enter(wire.ParticipantStateShuttingDown, reason); err != nil {
		return err
	}
	return l.Enter(wire.ParticipantStateShutdown, reason)
}
