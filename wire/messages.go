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

import "fmt"

// Kind is the one-byte message discriminator that follows the 4-byte
// length prefix in every wire frame.
type Kind uint8

// Message kinds.
const (
	KindParticipantAnnouncement Kind = iota + 1
	KindParticipantAnnouncementReply
	KindKnownParticipants
	KindPeerAnnouncement
	KindPeerShutdown
	KindServiceDiscoveryEvent
	KindTypedDataMessage
	KindFunctionCall
	KindFunctionCallResponse
	KindNextSimTask
	KindParticipantStatus
	KindWorkflowConfiguration
	KindParticipantNotification
)

// HeaderLength is the size of the fixed {total_length, kind} wire header.
const HeaderLength = 5

// HandshakeStatus is the outcome of a ParticipantAnnouncementReply.
type HandshakeStatus uint8

// HandshakeStatus values.
const (
	HandshakeSuccess HandshakeStatus = iota
	HandshakeFailed
)

// ParticipantAnnouncement is the first handshake message: a joining peer's
// identity and the protocol version it speaks.
type ParticipantAnnouncement struct {
	Peer            PeerInfo
	ProtocolVersion ProtocolVersion
}

// ParticipantAnnouncementReply completes the handshake.
type ParticipantAnnouncementReply struct {
	Status          HandshakeStatus
	ProtocolVersion ProtocolVersion
	RemotePeer      PeerInfo
}

// KnownParticipants enumerates every other currently-connected participant,
// sent by the registry to a newly joined peer.
type KnownParticipants struct {
	Peers []PeerInfo
}

// PeerAnnouncement is broadcast by the registry to existing peers when a
// new peer completes its handshake.
type PeerAnnouncement struct {
	NewPeer PeerInfo
}

// PeerShutdown notifies that a named participant disconnected.
type PeerShutdown struct {
	Name string
}

// DiscoveryEventKind distinguishes creation from removal.
type DiscoveryEventKind uint8

// DiscoveryEventKind values.
const (
	DiscoveryEventServiceCreated DiscoveryEventKind = iota
	DiscoveryEventServiceRemoved
)

// ServiceDiscoveryEvent announces a local service's creation or removal to
// remote peers.
type ServiceDiscoveryEvent struct {
	EventKind  DiscoveryEventKind
	Descriptor ServiceDescriptor
}

// TypedDataMessage carries a pub/sub DataMessageEvent payload, addressed by
// the logical network name the receiving participant's internal subscriber
// was registered under.
type TypedDataMessage struct {
	From        Endpoint
	NetworkName string
	Timestamp   int64
	Data        []byte
}

// FunctionCall carries an RPC invocation, addressed the same way as
// TypedDataMessage (NetworkName = the client's UUID).
type FunctionCall struct {
	CallUUID     [16]byte
	ClientUUID   string
	NetworkName  string
	ArgumentData []byte
}

// FunctionCallResponse carries the result of a FunctionCall.
type FunctionCallResponse struct {
	CallUUID   [16]byte
	ResultData []byte
	Status     CallStatus
}

// NextSimTask is the per-step virtual-time barrier message.
type NextSimTask struct {
	TimePoint int64
	Duration  int64
}

// NotificationKind enumerates ParticipantNotification payloads.
type NotificationKind uint8

// NotificationKind values.
const (
	NotificationShutdown NotificationKind = iota
)

// ParticipantNotification is a small out-of-band signal, currently used
// only to announce a graceful shutdown before the socket closes.
type ParticipantNotification struct {
	NotificationKind NotificationKind
}

// WorkflowConfiguration carries the required-participant set used by the
// system state tracker and the lifecycle's communication-ready gate.
type WorkflowConfiguration struct {
	RequiredParticipants []string
}

func putPeerInfo(b *MessageBuffer, p PeerInfo) {
	b.PutString(p.ParticipantName)
	b.PutU64(uint64(p.ParticipantID))
	b.PutStringSlice(p.AcceptorURIs)
	b.PutString(p.Capabilities)
}

func getPeerInfo(b *MessageBuffer) (PeerInfo, error) {
	var p PeerInfo
	var err error
	if p.ParticipantName, err = b.GetString(); err != nil {
		return p, err
	}
	pid, err := b.GetU64()
	if err != nil {
		return p, err
	}
	p.ParticipantID = ParticipantID(pid)
	if p.AcceptorURIs, err = b.GetStringSlice(); err != nil {
		return p, err
	}
	if p.Capabilities, err = b.GetString(); err != nil {
		return p, err
	}
	return p, nil
}

func putProtocolVersion(b *MessageBuffer, v ProtocolVersion) {
	b.PutU32(uint32(v.Major)<<16 | uint32(v.Minor))
}

func getProtocolVersion(b *MessageBuffer) (ProtocolVersion, error) {
	raw, err := b.GetU32()
	if err != nil {
		return ProtocolVersion{}, err
	}
	return ProtocolVersion{Major: uint16(raw >> 16), Minor: uint16(raw & 0xffff)}, nil
}

func putServiceDescriptor(b *MessageBuffer, d ServiceDescriptor) {
	b.PutString(d.ParticipantName)
	b.PutString(d.NetworkName)
	b.PutString(d.ServiceName)
	b.PutU8(uint8(d.ServiceType))
	b.PutU8(uint8(d.NetworkType))
	b.PutU32(d.ServiceID)
	b.PutStringMap(d.SupplementalData)
}

func getServiceDescriptor(b *MessageBuffer) (ServiceDescriptor, error) {
	var d ServiceDescriptor
	var err error
	if d.ParticipantName, err = b.GetString(); err != nil {
		return d, err
	}
	if d.NetworkName, err = b.GetString(); err != nil {
		return d, err
	}
	if d.ServiceName, err = b.GetString(); err != nil {
		return d, err
	}
	st, err := b.GetU8()
	if err != nil {
		return d, err
	}
	d.ServiceType = ServiceType(st)
	nt, err := b.GetU8()
	if err != nil {
		return d, err
	}
	d.NetworkType = NetworkType(nt)
	if d.ServiceID, err = b.GetU32(); err != nil {
		return d, err
	}
	if d.SupplementalData, err = b.GetStringMap(); err != nil {
		return d, err
	}
	return d, nil
}

// Serialize encodes msg into a MessageBuffer payload (without the frame
// header) and returns its Kind alongside it.
func Serialize(version ProtocolVersion, msg any) (Kind, []byte, error) {
	b := NewMessageBuffer(version)
	switch m := msg.(type) {
	case ParticipantAnnouncement:
		putPeerInfo(b, m.Peer)
		putProtocolVersion(b, m.ProtocolVersion)
		return KindParticipantAnnouncement, b.Bytes(), nil
	case ParticipantAnnouncementReply:
		b.PutU8(uint8(m.Status))
		putProtocolVersion(b, m.ProtocolVersion)
		putPeerInfo(b, m.RemotePeer)
		return KindParticipantAnnouncementReply, b.Bytes(), nil
	case KnownParticipants:
		b.PutU32(uint32(len(m.Peers)))
		for _, p := range m.Peers {
			putPeerInfo(b, p)
		}
		return KindKnownParticipants, b.Bytes(), nil
	case PeerAnnouncement:
		putPeerInfo(b, m.NewPeer)
		return KindPeerAnnouncement, b.Bytes(), nil
	case PeerShutdown:
		b.PutString(m.Name)
		return KindPeerShutdown, b.Bytes(), nil
	case ServiceDiscoveryEvent:
		b.PutU8(uint8(m.EventKind))
		putServiceDescriptor(b, m.Descriptor)
		return KindServiceDiscoveryEvent, b.Bytes(), nil
	case TypedDataMessage:
		b.PutU64(uint64(m.From.ParticipantID))
		b.PutU32(m.From.ServiceID)
		b.PutString(m.NetworkName)
		b.PutI64(m.Timestamp)
		b.PutBytes(m.Data)
		return KindTypedDataMessage, b.Bytes(), nil
	case FunctionCall:
		b.PutBytes(m.CallUUID[:])
		b.PutString(m.ClientUUID)
		b.PutString(m.NetworkName)
		b.PutBytes(m.ArgumentData)
		return KindFunctionCall, b.Bytes(), nil
	case FunctionCallResponse:
		b.PutBytes(m.CallUUID[:])
		b.PutBytes(m.ResultData)
		b.PutU8(uint8(m.Status))
		return KindFunctionCallResponse, b.Bytes(), nil
	case NextSimTask:
		b.PutI64(m.TimePoint)
		b.PutI64(m.Duration)
		return KindNextSimTask, b.Bytes(), nil
	case ParticipantStatus:
		b.PutString(m.ParticipantName)
		b.PutU8(uint8(m.State))
		b.PutString(m.EnterReason)
		b.PutI64(m.EnterTime)
		b.PutI64(m.RefreshTime)
		return KindParticipantStatus, b.Bytes(), nil
	case WorkflowConfiguration:
		b.PutStringSlice(m.RequiredParticipants)
		return KindWorkflowConfiguration, b.Bytes(), nil
	case ParticipantNotification:
		b.PutU8(uint8(m.NotificationKind))
		return KindParticipantNotification, b.Bytes(), nil
	default:
		return 0, nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
}

// Deserialize decodes a payload of the given Kind into its concrete type.
func Deserialize(version ProtocolVersion, kind Kind, payload []byte) (any, error) {
	b := NewMessageBufferFromBytes(version, payload)
	switch kind {
	case KindParticipantAnnouncement:
		peer, err := getPeerInfo(b)
		if err != nil {
			return nil, err
		}
		pv, err := getProtocolVersion(b)
		if err != nil {
			return nil, err
		}
		return ParticipantAnnouncement{Peer: peer, ProtocolVersion: pv}, nil
	case KindParticipantAnnouncementReply:
		status, err := b.GetU8()
		if err != nil {
			return nil, err
		}
		pv, err := getProtocolVersion(b)
		if err != nil {
			return nil, err
		}
		peer, err := getPeerInfo(b)
		if err != nil {
			return nil, err
		}
		return ParticipantAnnouncementReply{Status: HandshakeStatus(status), ProtocolVersion: pv, RemotePeer: peer}, nil
	case KindKnownParticipants:
		n, err := b.GetU32()
		if err != nil {
			return nil, err
		}
		peers := make([]PeerInfo, 0, n)
		for i := uint32(0); i < n; i++ {
			p, err := getPeerInfo(b)
			if err != nil {
				return nil, err
			}
			peers = append(peers, p)
		}
		return KnownParticipants{Peers: peers}, nil
	case KindPeerAnnouncement:
		p, err := getPeerInfo(b)
		if err != nil {
			return nil, err
		}
		return PeerAnnouncement{NewPeer: p}, nil
	case KindPeerShutdown:
		name, err := b.GetString()
		if err != nil {
			return nil, err
		}
		return PeerShutdown{Name: name}, nil
	case KindServiceDiscoveryEvent:
		k, err := b.GetU8()
		if err != nil {
			return nil, err
		}
		d, err := getServiceDescriptor(b)
		if err != nil {
			return nil, err
		}
		return ServiceDiscoveryEvent{EventKind: DiscoveryEventKind(k), Descriptor: d}, nil
	case KindTypedDataMessage:
		pid, err := b.GetU64()
		if err != nil {
			return nil, err
		}
		sid, err := b.GetU32()
		if err != nil {
			return nil, err
		}
		network, err := b.GetString()
		if err != nil {
			return nil, err
		}
		ts, err := b.GetI64()
		if err != nil {
			return nil, err
		}
		data, err := b.GetBytes()
		if err != nil {
			return nil, err
		}
		return TypedDataMessage{
			From:        Endpoint{ParticipantID: ParticipantID(pid), ServiceID: sid},
			NetworkName: network,
			Timestamp:   ts,
			Data:        data,
		}, nil
	case KindFunctionCall:
		uuidBytes, err := b.GetBytes()
		if err != nil {
			return nil, err
		}
		var call FunctionCall
		copy(call.CallUUID[:], uuidBytes)
		if call.ClientUUID, err = b.GetString(); err != nil {
			return nil, err
		}
		if call.NetworkName, err = b.GetString(); err != nil {
			return nil, err
		}
		if call.ArgumentData, err = b.GetBytes(); err != nil {
			return nil, err
		}
		return call, nil
	case KindFunctionCallResponse:
		uuidBytes, err := b.GetBytes()
		if err != nil {
			return nil, err
		}
		var resp FunctionCallResponse
		copy(resp.CallUUID[:], uuidBytes)
		if resp.ResultData, err = b.GetBytes(); err != nil {
			return nil, err
		}
		status, err := b.GetU8()
		if err != nil {
			return nil, err
		}
		resp.Status = CallStatus(status)
		return resp, nil
	case KindNextSimTask:
		tp, err := b.GetI64()
		if err != nil {
			return nil, err
		}
		dur, err := b.GetI64()
		if err != nil {
			return nil, err
		}
		return NextSimTask{TimePoint: tp, Duration: dur}, nil
	case KindParticipantStatus:
		name, err := b.GetString()
		if err != nil {
			return nil, err
		}
		state, err := b.GetU8()
		if err != nil {
			return nil, err
		}
		reason, err := b.GetString()
		if err != nil {
			return nil, err
		}
		enter, err := b.GetI64()
		if err != nil {
			return nil, err
		}
		refresh, err := b.GetI64()
		if err != nil {
			return nil, err
		}
		return ParticipantStatus{
			ParticipantName: name,
			State:           ParticipantState(state),
			EnterReason:     reason,
			EnterTime:       enter,
			RefreshTime:     refresh,
		}, nil
	case KindWorkflowConfiguration:
		ss, err := b.GetStringSlice()
		if err != nil {
			return nil, err
		}
		return WorkflowConfiguration{RequiredParticipants: ss}, nil
	case KindParticipantNotification:
		k, err := b.GetU8()
		if err != nil {
			return nil, err
		}
		return ParticipantNotification{NotificationKind: NotificationKind(k)}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", kind)
	}
}

// EncodeFrame prepends the {total_length, kind} header to payload.
func EncodeFrame(kind Kind, payload []byte) []byte {
	total := HeaderLength + len(payload)
	out := make([]byte, total)
	putU32LE(out[0:4], uint32(total))
	out[4] = uint8(kind)
	copy(out[5:], payload)
	return out
}

// DecodeFrameHeader parses the 5-byte fixed header, returning the total
// frame length (including the header) and the message kind.
func DecodeFrameHeader(header [HeaderLength]byte) (totalLength uint32, kind Kind) {
	return getU32LE(header[0:4]), Kind(header[4])
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
