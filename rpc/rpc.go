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

// Package rpc implements the request/reply controllers.
// An RpcClient announces itself under a freshly generated clientUUID, which
// doubles as the wire NetworkName every FunctionCall it sends carries. An
// RpcServer watches discovery for matching clients and, for each one,
// constructs an RpcServerInternal binding keyed by that client's clientUUID,
// so a call is routed to the server bound specifically to its caller.
package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/silkit/ib/discovery"
	"github.com/silkit/ib/internal/idgen"
	"github.com/silkit/ib/label"
	"github.com/silkit/ib/wire"
)

// Controller type tags matched by the discovery package's specific-handler
// mechanism.
const (
	ControllerTypeClient = "RpcClient"
	ControllerTypeServer = "RpcServer"

	keyMediaType  = "mediaType"
	keyClientUUID = "clientUUID"
)

// SendFunc delivers a FunctionCall to one named participant.
type SendFunc func(participant string, call wire.FunctionCall) error

// ReplyFunc delivers a FunctionCallResponse back to the participant that
// issued the original call.
type ReplyFunc func(participant string, resp wire.FunctionCallResponse) error

// RpcHandler processes a call's argument data and returns the result payload
// together with its outcome status.
type RpcHandler func(argumentData []byte) ([]byte, wire.CallStatus)

// CallHandle correlates one in-flight call to its eventual response.
type CallHandle struct {
	CallUUID [16]byte
	done     chan wire.FunctionCallResponse
}

func matchMediaType(serverMT, clientMT string) bool {
	return clientMT == "" || clientMT == serverMT
}

// RpcClient issues calls against whichever remote RpcServer currently
// matches its function name, media type, and labels, addressed by its own
// clientUUID.
type RpcClient struct {
	participantName string
	clientUUID      string
	spec            wire.RpcSpec
	desc            wire.ServiceDescriptor
	send            SendFunc

	mu      sync.Mutex
	servers map[string]struct{}
	pending map[[16]byte]*CallHandle
}

// NewRpcClient announces the client's service descriptor (with a fresh
// clientUUID as its routing key) and starts tracking matching remote
// RpcServers.
func NewRpcClient(participantName string, serviceID uint32, spec wire.RpcSpec, d *discovery.Discovery, send SendFunc) *RpcClient {
	c := &RpcClient{
		participantName: participantName,
		clientUUID:      idgen.New().String(),
		spec:            spec,
		send:            send,
		servers:         make(map[string]struct{}),
		pending:         make(map[[16]byte]*CallHandle),
	}
	c.desc = wire.ServiceDescriptor{
		ParticipantName: participantName,
		NetworkName:     c.clientUUID,
		ServiceName:     spec.FunctionName,
		ServiceType:     wire.ServiceTypeRequestReply,
		NetworkType:     wire.NetworkTypeRPC,
		ServiceID:       serviceID,
		SupplementalData: map[string]string{
			discovery.KeyControllerType: ControllerTypeClient,
			discovery.KeyTopicOrFunc:    spec.FunctionName,
			discovery.KeyLabels:         label.Encode(spec.Labels),
			keyMediaType:                spec.MediaType,
			keyClientUUID:               c.clientUUID,
		},
	}
	d.NotifyServiceCreated(c.desc)
	// The client owns the mandatory/optional label constraints here, so the
	// discovery package's built-in registrant-labels-as-subscriber-side
	// matching applies directly (unlike the publisher side of pub/sub).
	d.RegisterSpecificHandler(ControllerTypeServer, spec.FunctionName, spec.Labels, c.onServerEvent)
	return c
}

// ClientUUID returns the client's wire routing key.
func (c *RpcClient) ClientUUID() string { return c.clientUUID }

func (c *RpcClient) onServerEvent(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == wire.DiscoveryEventServiceRemoved {
		delete(c.servers, desc.ParticipantName)
		return
	}
	if !matchMediaType(desc.SupplementalData[keyMediaType], c.spec.MediaType) {
		return
	}
	c.servers[desc.ParticipantName] = struct{}{}
}

// Call sends the call to one currently matching server and blocks until a
// response arrives or timeout elapses. A response that arrives after Call
// has already timed out is silently dropped by OnResponse.
func (c *RpcClient) Call(timeout time.Duration, argumentData []byte) (wire.CallStatus, []byte, error) {
	c.mu.Lock()
	var target string
	for name := range c.servers {
		target = name
		break
	}
	c.mu.Unlock()

	if target == "" {
		return wire.CallStatusServerNotReachable, nil, nil
	}

	handle := &CallHandle{CallUUID: idgen.New(), done: make(chan wire.FunctionCallResponse, 1)}
	c.mu.Lock()
	c.pending[handle.CallUUID] = handle
	c.mu.Unlock()

	call := wire.FunctionCall{
		CallUUID:     handle.CallUUID,
		ClientUUID:   c.clientUUID,
		NetworkName:  c.clientUUID,
		ArgumentData: argumentData,
	}
	if err := c.send(target, call); err != nil {
		c.mu.Lock()
		delete(c.pending, handle.CallUUID)
		c.mu.Unlock()
		return wire.CallStatusServerNotReachable, nil, err
	}

	select {
	case resp := <-handle.done:
		return resp.Status, resp.ResultData, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, handle.CallUUID)
		c.mu.Unlock()
		return wire.CallStatusTimeout, nil, nil
	}
}

// OnResponse delivers an inbound FunctionCallResponse to the pending call it
// correlates with. A CallUUID with no pending entry means the call already
// timed out; the response is dropped.
func (c *RpcClient) OnResponse(resp wire.FunctionCallResponse) {
	c.mu.Lock()
	handle, ok := c.pending[resp.CallUUID]
	if ok {
		delete(c.pending, resp.CallUUID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	handle.done <- resp
}

// Close withdraws the client's service announcement.
func (c *RpcClient) Close(d *discovery.Discovery) {
	d.NotifyServiceRemoved(c.desc)
}

// RpcServer answers FunctionCalls from whichever clients currently match
// its function name, media type, and labels. Each matched client gets its
// own binding in the shared RpcServerInternal, keyed by that client's
// clientUUID, so a call is dispatched to the server instance bound to its
// specific caller.
type RpcServer struct {
	participantName string
	spec            wire.RpcSpec
	desc            wire.ServiceDescriptor
	handler         RpcHandler
	internal        *RpcServerInternal

	mu    sync.Mutex
	bound map[string]struct{} // clientUUID set currently bound to this server
}

// NewRpcServer announces the server's service descriptor and starts
// tracking matching remote RpcClients, binding internal's dispatch table to
// each one's clientUUID.
func NewRpcServer(participantName string, serviceID uint32, spec wire.RpcSpec, d *discovery.Discovery, internal *RpcServerInternal, handler RpcHandler) *RpcServer {
	s := &RpcServer{
		participantName: participantName,
		spec:            spec,
		handler:         handler,
		internal:        internal,
		bound:           make(map[string]struct{}),
	}
	s.desc = wire.ServiceDescriptor{
		ParticipantName: participantName,
		NetworkName:     spec.FunctionName,
		ServiceName:     spec.FunctionName,
		ServiceType:     wire.ServiceTypeRequestReply,
		NetworkType:     wire.NetworkTypeRPC,
		ServiceID:       serviceID,
		SupplementalData: map[string]string{
			discovery.KeyControllerType: ControllerTypeServer,
			discovery.KeyTopicOrFunc:    spec.FunctionName,
			discovery.KeyLabels:         label.Encode(spec.Labels),
			keyMediaType:                spec.MediaType,
		},
	}
	d.NotifyServiceCreated(s.desc)
	d.RegisterSpecificHandler(ControllerTypeClient, spec.FunctionName, spec.Labels, func(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
		s.onClientEvent(kind, desc)
	})
	return s
}

func (s *RpcServer) onClientEvent(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
	clientUUID := desc.SupplementalData[keyClientUUID]

	if kind == wire.DiscoveryEventServiceRemoved {
		s.mu.Lock()
		_, ok := s.bound[clientUUID]
		delete(s.bound, clientUUID)
		s.mu.Unlock()
		if ok {
			s.internal.unregister(clientUUID, s)
		}
		return
	}

	if !matchMediaType(s.spec.MediaType, desc.SupplementalData[keyMediaType]) {
		return
	}

	s.mu.Lock()
	s.bound[clientUUID] = struct{}{}
	s.mu.Unlock()
	s.internal.register(clientUUID, s)
}

// Close withdraws the server's announcement and every live client binding.
func (s *RpcServer) Close(d *discovery.Discovery) {
	d.NotifyServiceRemoved(s.desc)
	s.mu.Lock()
	bound := make([]string, 0, len(s.bound))
	for clientUUID := range s.bound {
		bound = append(bound, clientUUID)
	}
	s.bound = make(map[string]struct{})
	s.mu.Unlock()
	for _, clientUUID := range bound {
		s.internal.unregister(clientUUID, s)
	}
}

// RpcServerInternal is the per-participant dispatch table routing an
// inbound FunctionCall to the local RpcServer bound to the call's
// NetworkName (the calling client's clientUUID).
type RpcServerInternal struct {
	participantName string
	direction       wire.Direction

	mu       sync.RWMutex
	byClient map[string]*RpcServer
}

// NewRpcServerInternal constructs the dispatch table for one participant.
// direction pins which way a replayed trace may legally inject calls on this
// table via InjectReceive. Calls carry no recorded direction: every injected
// call counts as received traffic, so InjectReceive rejects all of them when
// direction is DirectionSend and admits them under DirectionReceive or
// DirectionBoth.
func NewRpcServerInternal(participantName string, direction wire.Direction) *RpcServerInternal {
	return &RpcServerInternal{participantName: participantName, direction: direction, byClient: make(map[string]*RpcServer)}
}

// ErrReplayDirectionNotAdmitted is returned by InjectReceive when this
// table's Direction doesn't admit locally-injected Receive traffic.
var ErrReplayDirectionNotAdmitted = errors.New("rpc: table does not admit injected receive traffic")

// InjectReceive delivers a replayed FunctionCall locally, bypassing the
// wire entirely, for the self-inject send mode.
func (in *RpcServerInternal) InjectReceive(call wire.FunctionCall, reply ReplyFunc) error {
	if in.direction == wire.DirectionSend {
		return ErrReplayDirectionNotAdmitted
	}
	in.Dispatch(call, in.participantName, reply)
	return nil
}

func (in *RpcServerInternal) register(clientUUID string, s *RpcServer) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.byClient[clientUUID] = s
}

func (in *RpcServerInternal) unregister(clientUUID string, s *RpcServer) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.byClient[clientUUID] == s {
		delete(in.byClient, clientUUID)
	}
}

// Dispatch routes an inbound call to the server bound to its caller's
// clientUUID and replies with its result, or with
// CallStatusServerNotReachable if no server is bound to that client.
func (in *RpcServerInternal) Dispatch(call wire.FunctionCall, fromParticipant string, reply ReplyFunc) {
	in.mu.RLock()
	server, ok := in.byClient[call.NetworkName]
	in.mu.RUnlock()

	if !ok {
		_ = reply(fromParticipant, wire.FunctionCallResponse{CallUUID: call.CallUUID, Status: wire.CallStatusServerNotReachable})
		return
	}

	result, status := server.handler(call.ArgumentData)
	_ = reply(fromParticipant, wire.FunctionCallResponse{CallUUID: call.CallUUID, ResultData: result, Status: status})
}
