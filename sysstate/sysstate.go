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

// Package sysstate implements the system state tracker: it aggregates the
// last-seen ParticipantStatus of every required participant into one
// deterministic SystemState, per the exact admissible-predecessor table.
package sysstate

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/lifecycle"
	"github.com/silkit/ib/wire"
)

type rule struct {
	admissible map[wire.ParticipantState]bool
	result     wire.ParticipantState
}

func set(states ...wire.ParticipantState) map[wire.ParticipantState]bool {
	m := make(map[wire.ParticipantState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// aggregationRules is keyed by result: a status update into state X checks
// only the rule whose result is X, and the system state becomes X when that
// rule's admissible-state set covers every required participant's current
// state; otherwise the system state is left unchanged.
var aggregationRules = []rule{
	{set(wire.ParticipantStateServicesCreated, wire.ParticipantStateCommunicationInitializing, wire.ParticipantStateCommunicationInitialized, wire.ParticipantStateReadyToRun, wire.ParticipantStateRunning), wire.ParticipantStateServicesCreated},
	{set(wire.ParticipantStateCommunicationInitializing, wire.ParticipantStateCommunicationInitialized, wire.ParticipantStateReadyToRun, wire.ParticipantStateRunning), wire.ParticipantStateCommunicationInitializing},
	{set(wire.ParticipantStateCommunicationInitialized, wire.ParticipantStateReadyToRun, wire.ParticipantStateRunning), wire.ParticipantStateCommunicationInitialized},
	{set(wire.ParticipantStateReadyToRun, wire.ParticipantStateRunning), wire.ParticipantStateReadyToRun},
	{set(wire.ParticipantStateRunning), wire.ParticipantStateRunning},
	{set(wire.ParticipantStateRunning, wire.ParticipantStatePaused), wire.ParticipantStatePaused},
	{set(wire.ParticipantStateRunning, wire.ParticipantStatePaused, wire.ParticipantStateStopping, wire.ParticipantStateStopped, wire.ParticipantStateShuttingDown, wire.ParticipantStateShutdown), wire.ParticipantStateStopping},
	{set(wire.ParticipantStateStopped, wire.ParticipantStateShuttingDown, wire.ParticipantStateShutdown), wire.ParticipantStateStopped},
	{set(wire.ParticipantStateStopped, wire.ParticipantStateShuttingDown, wire.ParticipantStateShutdown, wire.ParticipantStateError, wire.ParticipantStateServicesCreated, wire.ParticipantStateReadyToRun), wire.ParticipantStateShuttingDown},
	{set(wire.ParticipantStateShutdown), wire.ParticipantStateShutdown},
}

// OnChangeFunc is invoked whenever the aggregated system state changes.
type OnChangeFunc func(wire.ParticipantState)

// Tracker aggregates ParticipantStatus broadcasts from the required
// participant set R into one SystemState.
type Tracker struct {
	onChange OnChangeFunc

	mu       sync.Mutex
	required map[string]struct{}
	statuses map[string]wire.ParticipantStatus
	current  wire.ParticipantState
}

// New constructs a Tracker for the given required-participant set.
func New(required []string, onChange OnChangeFunc) *Tracker {
	r := make(map[string]struct{}, len(required))
	for _, name := range required {
		r[name] = struct{}{}
	}
	return &Tracker{
		required: r,
		statuses: make(map[string]wire.ParticipantStatus),
		current:  wire.ParticipantStateInvalid,
		onChange: onChange,
	}
}

// State returns the current aggregated SystemState.
func (t *Tracker) State() wire.ParticipantState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// OnParticipantStatus processes one participant's status broadcast.
func (t *Tracker) OnParticipantStatus(status wire.ParticipantStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, hadOld := t.statuses[status.ParticipantName]
	if hadOld && old.State == wire.ParticipantStateShutdown {
		return // final; never reopened by a later status
	}
	if hadOld && !lifecycle.IsValidTransition(old.State, status.State) {
		log.Warnf("sysstate: %s reported invalid transition %s -> %s", status.ParticipantName, old.State, status.State)
	}
	t.statuses[status.ParticipantName] = status

	if _, required := t.required[status.ParticipantName]; required {
		t.recomputeLocked(status.State)
	}
}

// OnPeerShutdown drops a disconnected participant from the status cache and
// the required set, then recomputes. If that empties the required set, the
// normal table recompute would vacuously match its first row over an empty
// requirement, so this case is special-cased.
func (t *Tracker) OnPeerShutdown(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.statuses, name)
	delete(t.required, name)

	if len(t.required) == 0 {
		if t.current == wire.ParticipantStateShuttingDown {
			t.setLocked(wire.ParticipantStateShutdown)
		} else {
			t.setLocked(wire.ParticipantStateInvalid)
		}
		return
	}
	t.recomputeLocked(t.current)
}

// CheckHeartbeats forces any required participant whose last reported
// RefreshTime is older than hardTimeout into Error, implementing
// SPEC_FULL's health-check feature: a missed heartbeat degrades the
// aggregate the same way an explicit Error status would, via the same
// dominance rule recomputeLocked already applies. A non-positive
// hardTimeout disables the check.
func (t *Tracker) CheckHeartbeats(hardTimeout time.Duration) {
	if hardTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-hardTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for name := range t.required {
		st, ok := t.statuses[name]
		if !ok || st.State == wire.ParticipantStateError || st.State == wire.ParticipantStateShutdown {
			continue
		}
		if time.Unix(0, st.RefreshTime).Before(cutoff) {
			log.Warnf("sysstate: %s missed heartbeat (hard timeout %s), forcing Error", name, hardTimeout)
			st.State = wire.ParticipantStateError
			t.statuses[name] = st
			changed = true
		}
	}
	if changed {
		t.recomputeLocked(wire.ParticipantStateError)
	}
}

func (t *Tracker) recomputeLocked(trigger wire.ParticipantState) {
	for name := range t.required {
		if t.statuses[name].State == wire.ParticipantStateError {
			t.setLocked(wire.ParticipantStateError)
			return
		}
	}
	for name := range t.required {
		if t.statuses[name].State == wire.ParticipantStateAborting {
			t.setLocked(wire.ParticipantStateAborting)
			return
		}
	}
	for _, r := range aggregationRules {
		if r.result != trigger {
			continue
		}
		allMatch := true
		for name := range t.required {
			st, ok := t.statuses[name]
			if !ok || !r.admissible[st.State] {
				allMatch = false
				break
			}
		}
		if allMatch {
			t.setLocked(r.result)
		}
		return
	}
}

func (t *Tracker) setLocked(next wire.ParticipantState) {
	if next == t.current {
		return
	}
	t.current = next
	if t.onChange != nil {
		t.onChange(next)
	}
}
