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

// Package wire implements the Integration Bus wire protocol: the fixed
// message header, the typed payload ser/des for every message kind, and the
// RingBuffer/MessageBuffer primitives the transport layer builds on.
package wire

import "hash/fnv"

// ServiceType identifies the kind of controller a ServiceDescriptor names.
type ServiceType uint8

// ServiceType values.
const (
	ServiceTypeUndefined ServiceType = iota
	ServiceTypeLink
	ServiceTypeController
	ServiceTypeSimulationController
	ServiceTypeInternalController
	ServiceTypeRequestReply
)

// NetworkType identifies the bus/network family a ServiceDescriptor belongs to.
type NetworkType uint8

// NetworkType values.
const (
	NetworkTypeUndefined NetworkType = iota
	NetworkTypeCAN
	NetworkTypeLIN
	NetworkTypeEthernet
	NetworkTypeFlexRay
	NetworkTypeData
	NetworkTypeRPC
)

// ParticipantID is hash(participantName), used as the wire address.
type ParticipantID uint64

// HashParticipantName computes the ParticipantID for a participant name.
// FNV-1a gives a stable, dependency-free 64-bit hash across peers.
func HashParticipantName(name string) ParticipantID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return ParticipantID(h.Sum64())
}

// Endpoint addresses a specific service instance on a specific participant.
type Endpoint struct {
	ParticipantID ParticipantID
	ServiceID     uint32
}

// ServiceDescriptor is the identity of a controller instance. The tuple
// (ParticipantName, NetworkName, ServiceName) is unique system-wide for
// non-internal services; ServiceID is unique within a participant.
type ServiceDescriptor struct {
	ParticipantName  string
	NetworkName      string
	ServiceName      string
	ServiceType      ServiceType
	NetworkType      NetworkType
	ServiceID        uint32
	SupplementalData map[string]string
}

// Endpoint returns the wire address of this descriptor's owning service.
func (d ServiceDescriptor) Endpoint() Endpoint {
	return Endpoint{ParticipantID: HashParticipantName(d.ParticipantName), ServiceID: d.ServiceID}
}

// PeerInfo is what the registry and every peer cache about a participant:
// its announced transport endpoints and free-form capability blob.
type PeerInfo struct {
	ParticipantName string
	ParticipantID   ParticipantID
	AcceptorURIs    []string
	Capabilities    string
}

// ParticipantState enumerates the lifecycle states a participant reports in
// its ParticipantStatus broadcasts.
type ParticipantState uint8

// ParticipantState values.
const (
	ParticipantStateInvalid ParticipantState = iota
	ParticipantStateServicesCreated
	ParticipantStateCommunicationInitializing
	ParticipantStateCommunicationInitialized
	ParticipantStateReadyToRun
	ParticipantStateRunning
	ParticipantStatePaused
	ParticipantStateStopping
	ParticipantStateStopped
	ParticipantStateShuttingDown
	ParticipantStateShutdown
	ParticipantStateAborting
	ParticipantStateError
)

// String gives a human-readable state name, used by logging and cmd/ibctl.
func (s ParticipantState) String() string {
	switch s {
	case ParticipantStateInvalid:
		return "Invalid"
	case ParticipantStateServicesCreated:
		return "ServicesCreated"
	case ParticipantStateCommunicationInitializing:
		return "CommunicationInitializing"
	case ParticipantStateCommunicationInitialized:
		return "CommunicationInitialized"
	case ParticipantStateReadyToRun:
		return "ReadyToRun"
	case ParticipantStateRunning:
		return "Running"
	case ParticipantStatePaused:
		return "Paused"
	case ParticipantStateStopping:
		return "Stopping"
	case ParticipantStateStopped:
		return "Stopped"
	case ParticipantStateShuttingDown:
		return "ShuttingDown"
	case ParticipantStateShutdown:
		return "Shutdown"
	case ParticipantStateAborting:
		return "Aborting"
	case ParticipantStateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ParticipantStatus is the periodic, per-participant broadcast that the
// system state tracker aggregates.
type ParticipantStatus struct {
	ParticipantName string
	State           ParticipantState
	EnterReason     string
	EnterTime       int64 // ns since epoch
	RefreshTime     int64 // ns since epoch
}

// LabelKind distinguishes mandatory from optional matching labels.
type LabelKind uint8

// LabelKind values.
const (
	LabelOptional LabelKind = iota
	LabelMandatory
)

// MatchingLabel is a single discovery-time matching predicate term.
type MatchingLabel struct {
	Key   string
	Value string
	Kind  LabelKind
}

// PubSubSpec describes a DataPublisher/DataSubscriber endpoint. An empty
// MediaType on the subscriber side is a wildcard; on the publisher side it
// is always literal.
type PubSubSpec struct {
	Topic     string
	MediaType string
	Labels    []MatchingLabel
}

// RpcSpec describes an RpcClient/RpcServer endpoint; same semantics as
// PubSubSpec with FunctionName standing in for Topic.
type RpcSpec struct {
	FunctionName string
	MediaType    string
	Labels       []MatchingLabel
}

// CallStatus enumerates RPC call outcomes.
type CallStatus uint8

// CallStatus values.
const (
	CallStatusSuccess CallStatus = iota
	CallStatusServerNotReachable
	CallStatusUndefinedError
	CallStatusInternalServerError
	CallStatusTimeout
)

// String gives a human-readable status name.
func (s CallStatus) String() string {
	switch s {
	case CallStatusSuccess:
		return "Success"
	case CallStatusServerNotReachable:
		return "ServerNotReachable"
	case CallStatusUndefinedError:
		return "UndefinedError"
	case CallStatusInternalServerError:
		return "InternalServerError"
	case CallStatusTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Direction pins which way a replayed trace may legally inject messages on
// an internal controller, matching the TX/RX-vs-replay-direction admission
// rule a replayed controller enforces.
type Direction uint8

// Direction values.
const (
	DirectionBoth Direction = iota
	DirectionSend
	DirectionReceive
)
