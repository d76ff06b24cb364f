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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg any) any {
	t.Helper()
	kind, payload, err := Serialize(CurrentProtocolVersion, msg)
	require.NoError(t, err)
	frame := EncodeFrame(kind, payload)

	var header [HeaderLength]byte
	copy(header[:], frame[:HeaderLength])
	total, decodedKind := DecodeFrameHeader(header)
	require.Equal(t, uint32(len(frame)), total)
	require.Equal(t, kind, decodedKind)

	out, err := Deserialize(CurrentProtocolVersion, decodedKind, frame[HeaderLength:])
	require.NoError(t, err)
	return out
}

func TestRoundTripParticipantAnnouncement(t *testing.T) {
	msg := ParticipantAnnouncement{
		Peer: PeerInfo{
			ParticipantName: "P1",
			ParticipantID:   HashParticipantName("P1"),
			AcceptorURIs:    []string{"silkit://127.0.0.1:8500"},
			Capabilities:    `{"version":"1.0"}`,
		},
		ProtocolVersion: ProtocolVersion{Major: 1, Minor: 2},
	}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestRoundTripKnownParticipants(t *testing.T) {
	msg := KnownParticipants{Peers: []PeerInfo{
		{ParticipantName: "A", ParticipantID: HashParticipantName("A")},
		{ParticipantName: "B", ParticipantID: HashParticipantName("B"), AcceptorURIs: []string{"local:///tmp/b.sock"}},
	}}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestRoundTripServiceDiscoveryEvent(t *testing.T) {
	msg := ServiceDiscoveryEvent{
		EventKind: DiscoveryEventServiceCreated,
		Descriptor: ServiceDescriptor{
			ParticipantName: "P1",
			NetworkName:     "pubuuid-1234",
			ServiceName:     "Pub1",
			ServiceType:     ServiceTypeController,
			NetworkType:     NetworkTypeData,
			ServiceID:       7,
			SupplementalData: map[string]string{
				"controllerType": "DataPublisher",
				"topic":          "T",
			},
		},
	}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestRoundTripTypedDataMessage(t *testing.T) {
	msg := TypedDataMessage{
		From:        Endpoint{ParticipantID: HashParticipantName("P1"), ServiceID: 3},
		NetworkName: "pubuuid-1234",
		Timestamp:   10_000_000_000,
		Data:        []byte{0x01, 0x02, 0x03},
	}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestRoundTripFunctionCallAndResponse(t *testing.T) {
	call := FunctionCall{
		CallUUID:     [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		ClientUUID:   "client-uuid",
		NetworkName:  "client-uuid",
		ArgumentData: []byte{0x05},
	}
	require.Equal(t, any(call), roundTrip(t, call))

	resp := FunctionCallResponse{
		CallUUID:   call.CallUUID,
		ResultData: []byte{0x69},
		Status:     CallStatusSuccess,
	}
	require.Equal(t, any(resp), roundTrip(t, resp))
}

func TestRoundTripNextSimTask(t *testing.T) {
	msg := NextSimTask{TimePoint: 2_000_000, Duration: 1_000_000}
	require.Equal(t, any(msg), roundTrip(t, msg))
}

func TestRoundTripParticipantStatus(t *testing.T) {
	msg := ParticipantStatus{
		ParticipantName: "P1",
		State:           ParticipantStateRunning,
		EnterReason:     "step completed",
		EnterTime:       123,
		RefreshTime:     456,
	}
	require.Equal(t, any(msg), roundTrip(t, msg))
}

func TestRoundTripWorkflowConfiguration(t *testing.T) {
	msg := WorkflowConfiguration{RequiredParticipants: []string{"A", "B", "C"}}
	require.Equal(t, any(msg), roundTrip(t, msg))
}

func TestRoundTripParticipantNotification(t *testing.T) {
	msg := ParticipantNotification{NotificationKind: NotificationShutdown}
	require.Equal(t, any(msg), roundTrip(t, msg))
}

func TestDeserializeEndOfBuffer(t *testing.T) {
	_, err := Deserialize(CurrentProtocolVersion, KindNextSimTask, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrEndOfBuffer)
}

func TestNegotiateLowerVersion(t *testing.T) {
	got, err := Negotiate(ProtocolVersion{Major: 1, Minor: 5}, ProtocolVersion{Major: 1, Minor: 2})
	require.NoError(t, err)
	require.Equal(t, ProtocolVersion{Major: 1, Minor: 2}, got)
}
