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

// Package metrics is the bus-domain counters surface SPEC_FULL.md's Metrics
// section calls for: peer connects/disconnects, discovery events, pub/sub
// deliveries, RPC calls, and barrier waits. Structure mirrors
// ptp4u/stats.JSONStats: a live atomically-updated counters struct, a
// Snapshot taken into a second report struct so a concurrent HTTP reader
// always sees a consistent set of values, and a plain JSON handler over it.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// counters holds every atomic counter this participant tracks. toMap and
// reset each list every field by hand, so keep them in sync with it.
type counters struct {
	peerConnects    int64
	peerDisconnects int64

	discoveryEventsSent     int64
	discoveryEventsReceived int64

	dataMessagesPublished int64
	dataMessagesDelivered int64

	rpcCallsSent         int64
	rpcCallsServed       int64
	rpcResponsesReceived int64

	barrierWaitsStarted int64
	barrierWaitsCleared int64

	healthCheckForcedErrors int64
}

func (c *counters) toMap() map[string]int64 {
	return map[string]int64{
		"peer.connects":    atomic.LoadInt64(&c.peerConnects),
		"peer.disconnects": atomic.LoadInt64(&c.peerDisconnects),

		"discovery.events.sent":     atomic.LoadInt64(&c.discoveryEventsSent),
		"discovery.events.received": atomic.LoadInt64(&c.discoveryEventsReceived),

		"pubsub.messages.published": atomic.LoadInt64(&c.dataMessagesPublished),
		"pubsub.messages.delivered": atomic.LoadInt64(&c.dataMessagesDelivered),

		"rpc.calls.sent":          atomic.LoadInt64(&c.rpcCallsSent),
		"rpc.calls.served":        atomic.LoadInt64(&c.rpcCallsServed),
		"rpc.responses.received":  atomic.LoadInt64(&c.rpcResponsesReceived),

		"timesync.barrier.waits.started": atomic.LoadInt64(&c.barrierWaitsStarted),
		"timesync.barrier.waits.cleared": atomic.LoadInt64(&c.barrierWaitsCleared),

		"healthcheck.forced_errors": atomic.LoadInt64(&c.healthCheckForcedErrors),
	}
}

func (c *counters) reset() {
	atomic.StoreInt64(&c.peerConnects, 0)
	atomic.StoreInt64(&c.peerDisconnects, 0)
	atomic.StoreInt64(&c.discoveryEventsSent, 0)
	atomic.StoreInt64(&c.discoveryEventsReceived, 0)
	atomic.StoreInt64(&c.dataMessagesPublished, 0)
	atomic.StoreInt64(&c.dataMessagesDelivered, 0)
	atomic.StoreInt64(&c.rpcCallsSent, 0)
	atomic.StoreInt64(&c.rpcCallsServed, 0)
	atomic.StoreInt64(&c.rpcResponsesReceived, 0)
	atomic.StoreInt64(&c.barrierWaitsStarted, 0)
	atomic.StoreInt64(&c.barrierWaitsCleared, 0)
	atomic.StoreInt64(&c.healthCheckForcedErrors, 0)
}

// Registry is the per-participant counters surface. The zero value is ready
// to use; New returns one.
type Registry struct {
	live   counters
	report counters
}

// New returns a ready Registry.
func New() *Registry {
	return &Registry{}
}

// Snapshot copies the live counters into the report struct so a concurrent
// reader of Map sees one consistent set of values rather than numbers torn
// across separate atomic loads mid-update.
func (r *Registry) Snapshot() {
	m := r.live.toMap()
	r.report = counters{
		peerConnects:            m["peer.connects"],
		peerDisconnects:         m["peer.disconnects"],
		discoveryEventsSent:     m["discovery.events.sent"],
		discoveryEventsReceived: m["discovery.events.received"],
		dataMessagesPublished:   m["pubsub.messages.published"],
		dataMessagesDelivered:   m["pubsub.messages.delivered"],
		rpcCallsSent:            m["rpc.calls.sent"],
		rpcCallsServed:          m["rpc.calls.served"],
		rpcResponsesReceived:    m["rpc.responses.received"],
		barrierWaitsStarted:     m["timesync.barrier.waits.started"],
		barrierWaitsCleared:     m["timesync.barrier.waits.cleared"],
		healthCheckForcedErrors: m["healthcheck.forced_errors"],
	}
}

// Map returns the last-taken snapshot as a plain map, keyed the way the JSON
// handler reports it.
func (r *Registry) Map() map[string]int64 {
	return r.report.toMap()
}

// Reset atomically zeroes every live counter.
func (r *Registry) Reset() {
	r.live.reset()
}

// IncPeerConnect / IncPeerDisconnect track transport.Handler's
// PeerConnected/PeerShutdown callbacks.
func (r *Registry) IncPeerConnect()    { atomic.AddInt64(&r.live.peerConnects, 1) }
func (r *Registry) IncPeerDisconnect() { atomic.AddInt64(&r.live.peerDisconnects, 1) }

// IncDiscoveryEventSent / IncDiscoveryEventReceived track discovery
// broadcasts this participant originates versus remote ones it absorbs.
func (r *Registry) IncDiscoveryEventSent()     { atomic.AddInt64(&r.live.discoveryEventsSent, 1) }
func (r *Registry) IncDiscoveryEventReceived() { atomic.AddInt64(&r.live.discoveryEventsReceived, 1) }

// IncDataMessagePublished / IncDataMessageDelivered track a DataPublisher's
// outbound sends versus a DataSubscriber's inbound deliveries.
func (r *Registry) IncDataMessagePublished() { atomic.AddInt64(&r.live.dataMessagesPublished, 1) }
func (r *Registry) IncDataMessageDelivered() { atomic.AddInt64(&r.live.dataMessagesDelivered, 1) }

// IncRpcCallSent / IncRpcCallServed / IncRpcResponseReceived track an
// RpcClient's outbound calls, an RpcServer's inbound calls, and the
// responses an RpcClient receives back.
func (r *Registry) IncRpcCallSent()         { atomic.AddInt64(&r.live.rpcCallsSent, 1) }
func (r *Registry) IncRpcCallServed()       { atomic.AddInt64(&r.live.rpcCallsServed, 1) }
func (r *Registry) IncRpcResponseReceived() { atomic.AddInt64(&r.live.rpcResponsesReceived, 1) }

// IncBarrierWaitStarted / IncBarrierWaitCleared track a TimeSyncService's
// NextSimTask barrier: a wait starts when a participant reports its local
// step done, and clears once every coordinated peer has reported in.
func (r *Registry) IncBarrierWaitStarted() { atomic.AddInt64(&r.live.barrierWaitsStarted, 1) }
func (r *Registry) IncBarrierWaitCleared() { atomic.AddInt64(&r.live.barrierWaitsCleared, 1) }

// IncHealthCheckForcedError tracks sysstate.Tracker.CheckHeartbeats forcing a
// required participant into Error after a missed heartbeat.
func (r *Registry) IncHealthCheckForcedError() { atomic.AddInt64(&r.live.healthCheckForcedErrors, 1) }

// Start runs a JSON counters endpoint on monitoringport, mirroring
// ptp4u/stats.JSONStats.Start. Blocks; run it in its own goroutine.
func (r *Registry) Start(monitoringport int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/counters", r.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("metrics: starting json counters server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics: counters server stopped: %v", err)
	}
}

func (r *Registry) handleRequest(w http.ResponseWriter, _ *http.Request) {
	r.Snapshot()
	js, err := json.Marshal(r.Map())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("metrics: failed to reply: %v", err)
	}
}
