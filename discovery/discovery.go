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

// Package discovery implements the per-participant ServiceDiscovery
// controller: every participant announces the services it creates to the
// whole mesh, caches what every peer has announced, and lets pub/sub and
// RPC register specific handlers that fire on a matching
// controllerType/topic-or-functionName/labels triple.
package discovery

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/label"
	"github.com/silkit/ib/wire"
)

// Supplemental data keys every specific handler is matched against. Callers
// populate these in a ServiceDescriptor.SupplementalData before announcing.
const (
	KeyControllerType = "controllerType"
	KeyTopicOrFunc    = "topicOrFunc"
	KeyLabels         = "labels"
)

// Broadcaster sends a ServiceDiscoveryEvent to every other participant.
// The participant composition root supplies this from its transport/registry
// connections; discovery itself never touches the network.
type Broadcaster func(wire.ServiceDiscoveryEvent) error

// Handler is invoked for an incoming remote discovery event that matches a
// registered specific handler's triple.
type Handler func(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor)

type specificHandler struct {
	controllerType string
	matchValue     string
	labels         []wire.MatchingLabel
	handler        Handler
}

// Discovery is a participant's singleton ServiceDiscovery controller.
type Discovery struct {
	broadcast Broadcaster

	mu       sync.RWMutex
	local    map[uint32]wire.ServiceDescriptor            // local_announcements, by ServiceID
	remote   map[string]map[uint32]wire.ServiceDescriptor  // remote_cache: participant -> ServiceID -> descriptor
	handlers []*specificHandler
}

// New constructs a Discovery controller. broadcast is called for every
// locally created or removed service.
func New(broadcast Broadcaster) *Discovery {
	return &Discovery{
		broadcast: broadcast,
		local:     make(map[uint32]wire.ServiceDescriptor),
		remote:    make(map[string]map[uint32]wire.ServiceDescriptor),
	}
}

// NotifyServiceCreated records a locally created service and broadcasts its
// creation to the rest of the mesh.
func (d *Discovery) NotifyServiceCreated(desc wire.ServiceDescriptor) {
	d.mu.Lock()
	d.local[desc.ServiceID] = desc
	d.mu.Unlock()

	if err := d.broadcast(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: desc}); err != nil {
		log.Errorf("discovery: failed to announce service %s/%s: %v", desc.NetworkName, desc.ServiceName, err)
	}
}

// NotifyServiceRemoved drops a locally created service and broadcasts its
// removal.
func (d *Discovery) NotifyServiceRemoved(desc wire.ServiceDescriptor) {
	d.mu.Lock()
	delete(d.local, desc.ServiceID)
	d.mu.Unlock()

	if err := d.broadcast(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceRemoved, Descriptor: desc}); err != nil {
		log.Errorf("discovery: failed to announce removal of %s/%s: %v", desc.NetworkName, desc.ServiceName, err)
	}
}

// LocalServices returns a snapshot of every service this participant has
// announced and not yet removed.
func (d *Discovery) LocalServices() []wire.ServiceDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]wire.ServiceDescriptor, 0, len(d.local))
	for _, desc := range d.local {
		out = append(out, desc)
	}
	return out
}

// RemoteServices returns a snapshot of every service known to belong to the
// named remote participant.
func (d *Discovery) RemoteServices(participant string) []wire.ServiceDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	services := d.remote[participant]
	out := make([]wire.ServiceDescriptor, 0, len(services))
	for _, desc := range services {
		out = append(out, desc)
	}
	return out
}

// RegisterSpecificHandler arms a handler that fires whenever a remote
// discovery event's descriptor matches the (controllerType, matchValue,
// labels) triple. matchValue is the topic for pub/sub controllers
// and the function name for RPC controllers; labels are the registrant's own
// side of the label match, tested against the descriptor's encoded labels.
func (d *Discovery) RegisterSpecificHandler(controllerType, matchValue string, labels []wire.MatchingLabel, h Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, &specificHandler{controllerType: controllerType, matchValue: matchValue, labels: labels, handler: h})
	existing := d.snapshotRemoteLocked()
	d.mu.Unlock()

	// Replay already-known remote services so a late-registering handler
	// still sees everything discovered before it subscribed.
	for _, desc := range existing {
		if matchesDescriptor(controllerType, matchValue, labels, desc) {
			h(wire.DiscoveryEventServiceCreated, desc)
		}
	}
}

func (d *Discovery) snapshotRemoteLocked() []wire.ServiceDescriptor {
	var out []wire.ServiceDescriptor
	for _, services := range d.remote {
		for _, desc := range services {
			out = append(out, desc)
		}
	}
	return out
}

// OnRemoteEvent processes a ServiceDiscoveryEvent received from another
// participant: it updates the remote cache and invokes every matching
// specific handler.
func (d *Discovery) OnRemoteEvent(ev wire.ServiceDiscoveryEvent) {
	desc := ev.Descriptor

	d.mu.Lock()
	services, ok := d.remote[desc.ParticipantName]
	if !ok {
		services = make(map[uint32]wire.ServiceDescriptor)
		d.remote[desc.ParticipantName] = services
	}
	switch ev.EventKind {
	case wire.DiscoveryEventServiceCreated:
		services[desc.ServiceID] = desc
	case wire.DiscoveryEventServiceRemoved:
		delete(services, desc.ServiceID)
	}
	handlers := make([]*specificHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	for _, sh := range handlers {
		if matchesDescriptor(sh.controllerType, sh.matchValue, sh.labels, desc) {
			sh.handler(ev.EventKind, desc)
		}
	}
}

// PurgePeer removes every cached remote service belonging to a participant
// that has disconnected and synthesizes a ServiceRemoved event for each one,
// so registered handlers can tear down their routing state.
func (d *Discovery) PurgePeer(participant string) {
	d.mu.Lock()
	services := d.remote[participant]
	delete(d.remote, participant)
	handlers := make([]*specificHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	for _, desc := range services {
		for _, sh := range handlers {
			if matchesDescriptor(sh.controllerType, sh.matchValue, sh.labels, desc) {
				sh.handler(wire.DiscoveryEventServiceRemoved, desc)
			}
		}
	}
}

func matchesDescriptor(controllerType, matchValue string, registrantLabels []wire.MatchingLabel, desc wire.ServiceDescriptor) bool {
	if desc.SupplementalData[KeyControllerType] != controllerType {
		return false
	}
	if desc.SupplementalData[KeyTopicOrFunc] != matchValue {
		return false
	}
	return label.Match(registrantLabels, label.Decode(desc.SupplementalData[KeyLabels]))
}
