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

// Package pubsub implements the publish/subscribe controllers. A
// DataPublisher announces itself under a freshly generated pubUUID,
// which doubles as the wire NetworkName every TypedDataMessage it sends
// carries. A DataSubscriber watches discovery for matching publishers and,
// for each one, binds a DataSubscriberInternal to that publisher's pubUUID;
// the publisher in turn watches discovery for that binding announcement so
// Publish can address exactly the participants currently bound to it,
// without every participant needing a generic network-broadcast table.
package pubsub

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/silkit/ib/discovery"
	"github.com/silkit/ib/internal/idgen"
	"github.com/silkit/ib/label"
	"github.com/silkit/ib/wire"
)

// Controller type tags used in ServiceDescriptor.SupplementalData, matched
// against by the discovery package's specific-handler mechanism.
const (
	ControllerTypePublisher  = "DataPublisher"
	ControllerTypeSubscriber = "DataSubscriber"

	keyMediaType = "mediaType"
	keyPubUUID   = "pubUUID"
)

// SendFunc delivers a TypedDataMessage to one named participant. The
// participant composition root supplies this from its transport connections.
type SendFunc func(participant string, msg wire.TypedDataMessage) error

// DataMessageHandler is invoked for every TypedDataMessage a subscriber
// binding accepts.
type DataMessageHandler func(from wire.Endpoint, timestamp int64, data []byte)

func serviceIDFromUUID(pubUUID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pubUUID))
	return h.Sum32()
}

// DataPublisher publishes TypedDataMessages, addressed by its own pubUUID,
// to every remote participant that currently has a bound subscriber for it.
type DataPublisher struct {
	participantName string
	pubUUID         string
	spec            wire.PubSubSpec
	desc            wire.ServiceDescriptor
	send            SendFunc

	mu          sync.RWMutex
	subscribers map[string]struct{}
}

// NewDataPublisher announces the publisher's service descriptor (with a
// fresh pubUUID as its routing key) and starts tracking subscriber bindings.
func NewDataPublisher(participantName string, serviceID uint32, spec wire.PubSubSpec, d *discovery.Discovery, send SendFunc) *DataPublisher {
	p := &DataPublisher{
		participantName: participantName,
		pubUUID:         idgen.New().String(),
		spec:            spec,
		send:            send,
		subscribers:     make(map[string]struct{}),
	}
	p.desc = wire.ServiceDescriptor{
		ParticipantName: participantName,
		NetworkName:     p.pubUUID,
		ServiceName:     spec.Topic,
		ServiceType:     wire.ServiceTypeController,
		NetworkType:     wire.NetworkTypeData,
		ServiceID:       serviceID,
		SupplementalData: map[string]string{
			discovery.KeyControllerType: ControllerTypePublisher,
			discovery.KeyTopicOrFunc:    spec.Topic,
			discovery.KeyLabels:         label.Encode(spec.Labels),
			keyMediaType:                spec.MediaType,
			keyPubUUID:                  p.pubUUID,
		},
	}
	d.NotifyServiceCreated(p.desc)
	d.RegisterSpecificHandler(ControllerTypeSubscriber, p.pubUUID, nil, p.onSubscriberBound)
	return p
}

// PubUUID returns the publisher's wire routing key.
func (p *DataPublisher) PubUUID() string { return p.pubUUID }

func (p *DataPublisher) onSubscriberBound(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
	if desc.ParticipantName == p.participantName {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind == wire.DiscoveryEventServiceRemoved {
		delete(p.subscribers, desc.ParticipantName)
		return
	}
	p.subscribers[desc.ParticipantName] = struct{}{}
}

// Publish sends data to every participant currently bound to this
// publisher's pubUUID.
func (p *DataPublisher) Publish(timestamp int64, data []byte) error {
	p.mu.RLock()
	targets := make([]string, 0, len(p.subscribers))
	for name := range p.subscribers {
		targets = append(targets, name)
	}
	p.mu.RUnlock()

	msg := wire.TypedDataMessage{From: p.desc.Endpoint(), NetworkName: p.pubUUID, Timestamp: timestamp, Data: data}
	var firstErr error
	for _, target := range targets {
		if err := p.send(target, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close withdraws the publisher's service announcement.
func (p *DataPublisher) Close(d *discovery.Discovery) {
	d.NotifyServiceRemoved(p.desc)
}

// DataSubscriber watches discovery for publishers matching its topic, media
// type, and labels, and binds a local DataSubscriberInternal entry to each
// one's pubUUID.
type DataSubscriber struct {
	participantName string
	spec            wire.PubSubSpec
	handler         DataMessageHandler
	internal        *DataSubscriberInternal

	mu    sync.Mutex
	bound map[string]wire.ServiceDescriptor // pubUUID -> this binding's own descriptor
}

// NewDataSubscriber registers the discovery handler that drives binding.
func NewDataSubscriber(participantName string, spec wire.PubSubSpec, d *discovery.Discovery, internal *DataSubscriberInternal, handler DataMessageHandler) *DataSubscriber {
	s := &DataSubscriber{
		participantName: participantName,
		spec:            spec,
		handler:         handler,
		internal:        internal,
		bound:           make(map[string]wire.ServiceDescriptor),
	}
	d.RegisterSpecificHandler(ControllerTypePublisher, spec.Topic, spec.Labels, func(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
		s.onPublisherEvent(d, kind, desc)
	})
	return s
}

func (s *DataSubscriber) onPublisherEvent(d *discovery.Discovery, kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
	pubUUID := desc.SupplementalData[keyPubUUID]

	if kind == wire.DiscoveryEventServiceRemoved {
		s.mu.Lock()
		bindingDesc, ok := s.bound[pubUUID]
		delete(s.bound, pubUUID)
		s.mu.Unlock()
		if ok {
			s.internal.unregister(pubUUID, s)
			d.NotifyServiceRemoved(bindingDesc)
		}
		return
	}

	if !label.MatchMediaType(s.spec.MediaType, desc.SupplementalData[keyMediaType]) {
		return
	}

	bindingDesc := wire.ServiceDescriptor{
		ParticipantName: s.participantName,
		NetworkName:     pubUUID,
		ServiceName:     s.spec.Topic,
		ServiceType:     wire.ServiceTypeInternalController,
		NetworkType:     wire.NetworkTypeData,
		ServiceID:       serviceIDFromUUID(pubUUID),
		SupplementalData: map[string]string{
			discovery.KeyControllerType: ControllerTypeSubscriber,
			discovery.KeyTopicOrFunc:    pubUUID,
		},
	}

	s.mu.Lock()
	s.bound[pubUUID] = bindingDesc
	s.mu.Unlock()

	s.internal.register(pubUUID, s)
	d.NotifyServiceCreated(bindingDesc)
}

// Close unbinds every publisher this subscriber is currently matched with.
func (s *DataSubscriber) Close(d *discovery.Discovery) {
	s.mu.Lock()
	bindings := make([]wire.ServiceDescriptor, 0, len(s.bound))
	for pubUUID, desc := range s.bound {
		bindings = append(bindings, desc)
		s.internal.unregister(pubUUID, s)
	}
	s.bound = make(map[string]wire.ServiceDescriptor)
	s.mu.Unlock()

	for _, desc := range bindings {
		d.NotifyServiceRemoved(desc)
	}
}

// DataSubscriberInternal is the per-participant fan-out router from inbound
// TypedDataMessages to every local DataSubscriber bound to the message's
// NetworkName (a specific publisher's pubUUID).
type DataSubscriberInternal struct {
	participantName string
	direction       wire.Direction

	mu     sync.RWMutex
	byUUID map[string][]*DataSubscriber
}

// NewDataSubscriberInternal constructs the router for one participant.
// direction pins which way a replayed trace may legally inject messages on
// this router via InjectReceive: a Receive-direction trace may be replayed
// into a subscriber, a Send-direction trace may not. Messages carry no
// recorded direction: every injected message counts as received traffic, so
// InjectReceive rejects all of them when direction is DirectionSend and
// admits them under DirectionReceive or DirectionBoth.
func NewDataSubscriberInternal(participantName string, direction wire.Direction) *DataSubscriberInternal {
	return &DataSubscriberInternal{participantName: participantName, direction: direction, byUUID: make(map[string][]*DataSubscriber)}
}

// ErrReplayDirectionNotAdmitted is returned by InjectReceive when this
// router's Direction doesn't admit locally-injected Receive traffic.
var ErrReplayDirectionNotAdmitted = errors.New("pubsub: router does not admit injected receive traffic")

// InjectReceive delivers a replayed TypedDataMessage locally, bypassing the
// wire entirely, for the self-inject send mode. Only admitted when this
// router's Direction allows Receive traffic.
func (in *DataSubscriberInternal) InjectReceive(msg wire.TypedDataMessage) error {
	if in.direction == wire.DirectionSend {
		return ErrReplayDirectionNotAdmitted
	}
	in.mu.RLock()
	subs := make([]*DataSubscriber, len(in.byUUID[msg.NetworkName]))
	copy(subs, in.byUUID[msg.NetworkName])
	in.mu.RUnlock()
	for _, sub := range subs {
		sub.handler(msg.From, msg.Timestamp, msg.Data)
	}
	return nil
}

func (in *DataSubscriberInternal) register(pubUUID string, sub *DataSubscriber) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.byUUID[pubUUID] = append(in.byUUID[pubUUID], sub)
}

func (in *DataSubscriberInternal) unregister(pubUUID string, sub *DataSubscriber) {
	in.mu.Lock()
	defer in.mu.Unlock()
	subs := in.byUUID[pubUUID]
	for i, s := range subs {
		if s == sub {
			in.byUUID[pubUUID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(in.byUUID[pubUUID]) == 0 {
		delete(in.byUUID, pubUUID)
	}
}

// Dispatch delivers an inbound TypedDataMessage to every local binding
// registered for its NetworkName (the sending publisher's pubUUID).
// fromParticipant equal to this participant's own name is dropped,
// enforcing no-self-delivery even if a publisher and subscriber happen to
// share a process.
func (in *DataSubscriberInternal) Dispatch(msg wire.TypedDataMessage, fromParticipant string) {
	if fromParticipant == in.participantName {
		return
	}
	in.mu.RLock()
	subs := make([]*DataSubscriber, len(in.byUUID[msg.NetworkName]))
	copy(subs, in.byUUID[msg.NetworkName])
	in.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(msg.From, msg.Timestamp, msg.Data)
	}
}
