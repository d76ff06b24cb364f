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

package sysstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/wire"
)

func statusOf(name string, state wire.ParticipantState) wire.ParticipantStatus {
	return wire.ParticipantStatus{ParticipantName: name, State: state}
}

func TestAggregatesToRunningOnceAllRequiredRunning(t *testing.T) {
	tr := New([]string{"A", "B"}, nil)
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateRunning))
	require.Equal(t, wire.ParticipantStateInvalid, tr.State()) // B hasn't reported yet

	tr.OnParticipantStatus(statusOf("B", wire.ParticipantStateRunning))
	require.Equal(t, wire.ParticipantStateRunning, tr.State())
}

func TestErrorDominates(t *testing.T) {
	tr := New([]string{"A", "B"}, nil)
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateRunning))
	tr.OnParticipantStatus(statusOf("B", wire.ParticipantStateRunning))
	require.Equal(t, wire.ParticipantStateRunning, tr.State())

	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateError))
	require.Equal(t, wire.ParticipantStateError, tr.State())
}

func TestAbortingDominatesOverNonError(t *testing.T) {
	tr := New([]string{"A", "B"}, nil)
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateRunning))
	tr.OnParticipantStatus(statusOf("B", wire.ParticipantStateAborting))
	require.Equal(t, wire.ParticipantStateAborting, tr.State())
}

func TestShutdownStatusIsFinalAndIgnoresLaterUpdates(t *testing.T) {
	tr := New([]string{"A"}, nil)
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateShutdown))
	require.Equal(t, wire.ParticipantStateShutdown, tr.State())

	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateRunning))
	require.Equal(t, wire.ParticipantStateShutdown, tr.State())
}

func TestOnPeerShutdownEmptyRequiredAfterShuttingDownYieldsShutdown(t *testing.T) {
	tr := New([]string{"A"}, nil)
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateStopped))
	// Drive SS to ShuttingDown via a required participant already Stopped;
	// simulate the tracker itself having last been ShuttingDown.
	tr.mu.Lock()
	tr.current = wire.ParticipantStateShuttingDown
	tr.mu.Unlock()

	tr.OnPeerShutdown("A")
	require.Equal(t, wire.ParticipantStateShutdown, tr.State())
}

func TestOnPeerShutdownEmptyRequiredOtherwiseYieldsInvalid(t *testing.T) {
	tr := New([]string{"A"}, nil)
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateRunning))
	require.Equal(t, wire.ParticipantStateRunning, tr.State())

	tr.OnPeerShutdown("A")
	require.Equal(t, wire.ParticipantStateInvalid, tr.State())
}

func TestOnChangeFiresOnTransition(t *testing.T) {
	var seen []wire.ParticipantState
	tr := New([]string{"A"}, func(s wire.ParticipantState) { seen = append(seen, s) })

	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStateRunning))
	tr.OnParticipantStatus(statusOf("A", wire.ParticipantStatePaused))
	require.Equal(t, []wire.ParticipantState{wire.ParticipantStateRunning, wire.ParticipantStatePaused}, seen)
}
