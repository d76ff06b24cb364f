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

// Package registry implements the participant-free broker: it introduces
// peers to each other but never carries simulation data itself.
package registry

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/internal/metrics"
	"github.com/silkit/ib/transport"
	"github.com/silkit/ib/wire"
)

// Registry listens on one or more transport URIs and brokers peer
// discovery for every participant that dials in.
type Registry struct {
	mgr     *transport.Manager
	metrics *metrics.Registry

	mu            sync.Mutex
	connected     map[string]wire.PeerInfo
	expectedCount int
	allConnected  bool

	onAllConnected    func()
	onAllDisconnected func()
}

// New constructs a Registry. name is the registry's own identity,
// used only for log context; the registry itself never joins as a peer.
func New(name string) *Registry {
	r := &Registry{connected: make(map[string]wire.PeerInfo), metrics: metrics.New()}
	info := wire.PeerInfo{ParticipantName: name}
	r.mgr = transport.NewManager(info, wire.CurrentProtocolVersion, r)
	return r
}

// Metrics returns the registry's counters registry, for mounting a JSON or
// Prometheus endpoint (see internal/metrics).
func (r *Registry) Metrics() *metrics.Registry { return r.metrics }

// OnAllConnected registers a callback invoked once the number of connected
// peers reaches the count set via SetExpectedParticipantCount.
func (r *Registry) OnAllConnected(f func()) {
	r.mu.Lock()
	r.onAllConnected = f
	r.mu.Unlock()
}

// OnAllDisconnected registers a callback invoked when the connected-peer
// count drops back to zero after having reached AllConnected.
func (r *Registry) OnAllDisconnected(f func()) {
	r.mu.Lock()
	r.onAllDisconnected = f
	r.mu.Unlock()
}

// SetExpectedParticipantCount configures how many peers trigger AllConnected.
func (r *Registry) SetExpectedParticipantCount(n int) {
	r.mu.Lock()
	r.expectedCount = n
	r.mu.Unlock()
}

// Listen starts accepting peer connections on every given URI.
func (r *Registry) Listen(uris ...string) error {
	return r.mgr.Listen(uris...)
}

// Shutdown tears down every peer connection and listener.
func (r *Registry) Shutdown() {
	r.mgr.Shutdown()
}

// PeerConnected implements transport.Handler: send the new peer the full
// KnownParticipants list, then broadcast its arrival to everyone already
// connected.
func (r *Registry) PeerConnected(peer *transport.Peer) {
	r.metrics.IncPeerConnect()
	r.mu.Lock()
	existing := make([]wire.PeerInfo, 0, len(r.connected))
	for _, info := range r.connected {
		existing = append(existing, info)
	}
	r.connected[peer.ParticipantName] = peer.Info
	count := len(r.connected)
	expected := r.expectedCount
	cb := r.onAllConnected
	becameAllConnected := expected > 0 && count == expected && !r.allConnected
	if becameAllConnected {
		r.allConnected = true
	}
	r.mu.Unlock()

	if err := peer.Send(wire.KnownParticipants{Peers: existing}); err != nil {
		log.Errorf("registry: failed sending known participants to %s: %v", peer.ParticipantName, err)
	}
	for _, other := range r.mgr.Peers() {
		if other == peer {
			continue
		}
		if err := other.Send(wire.PeerAnnouncement{NewPeer: peer.Info}); err != nil {
			log.Warnf("registry: failed announcing %s to %s: %v", peer.ParticipantName, other.ParticipantName, err)
		}
	}
	log.Infof("registry: %s joined (%d connected)", peer.ParticipantName, count)

	if becameAllConnected && cb != nil {
		cb()
	}
}

// PeerShutdown implements transport.Handler: broadcast PeerShutdown to the
// survivors and fire AllDisconnected if the registry just emptied out.
func (r *Registry) PeerShutdown(peer *transport.Peer) {
	r.metrics.IncPeerDisconnect()
	r.mu.Lock()
	delete(r.connected, peer.ParticipantName)
	count := len(r.connected)
	wasAllConnected := r.allConnected
	cb := r.onAllDisconnected
	if count == 0 && wasAllConnected {
		r.allConnected = false
	}
	r.mu.Unlock()

	r.mgr.Broadcast(wire.PeerShutdown{Name: peer.ParticipantName})
	log.Infof("registry: %s left (%d connected)", peer.ParticipantName, count)

	if count == 0 && wasAllConnected && cb != nil {
		cb()
	}
}

// HandleMessage implements transport.Handler. The registry only brokers
// peer introductions; any other inbound message is unexpected.
func (r *Registry) HandleMessage(peer *transport.Peer, kind wire.Kind, msg any) {
	log.Warnf("registry: unexpected message kind %d from %s", kind, peer.ParticipantName)
}
