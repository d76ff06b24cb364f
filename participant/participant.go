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

// Package participant is the composition root: it wires
// transport, discovery, pub/sub, RPC, time sync, lifecycle, and system state
// into one participant connection. It owns the three send modes
// (broadcast-by-network, targeted, self-inject) and the transport.Handler
// that dispatches inbound frames to the right component.
package participant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/silkit/ib/discovery"
	"github.com/silkit/ib/internal/metrics"
	"github.com/silkit/ib/lifecycle"
	"github.com/silkit/ib/pubsub"
	"github.com/silkit/ib/rpc"
	"github.com/silkit/ib/sysstate"
	"github.com/silkit/ib/timesync"
	"github.com/silkit/ib/transport"
	"github.com/silkit/ib/wire"
)

// Participant is one participant's connection into the bus: transport
// manager, discovery controller, pub/sub and RPC internal routers, lifecycle
// state machine, and (for participants tracking it) a system state tracker.
type Participant struct {
	name string

	mgr       *transport.Manager
	discovery *discovery.Discovery
	lifecycle *lifecycle.Lifecycle
	timesync  *timesync.TimeSyncService
	sysstate  *sysstate.Tracker // nil unless this participant tracks system state

	dataSubInternal   *pubsub.DataSubscriberInternal
	rpcServerInternal *rpc.RpcServerInternal

	nextServiceID uint32
	aggregation   transport.AggregationMode
	hardHeartbeat time.Duration
	metrics       *metrics.Registry

	mu         sync.RWMutex
	rpcClients map[string]*rpc.RpcClient // by clientUUID, for inbound response fan-out
}

// Config bundles the construction-time choices for a Participant.
type Config struct {
	Name string
	// RequiredParticipants, if non-empty, makes this Participant also run a
	// system state Tracker over that required set.
	RequiredParticipants []string
	// SystemStateOnChange is forwarded to the Tracker's OnChangeFunc.
	SystemStateOnChange func(wire.ParticipantState)
	// TimeSyncMode and TimeSyncStepDuration configure the time sync
	// service; a zero StepDuration disables time sync entirely.
	TimeSyncMode         timesync.Mode
	TimeSyncStepDuration int64
	// ReplayDirection pins the direction admitted by this participant's
	// internal pub/sub and RPC routers for locally-injected traffic.
	ReplayDirection wire.Direction
	// Aggregation is applied to every Peer this participant connects to,
	// per config.MiddlewareConfig.EnableMessageAggregation.
	Aggregation transport.AggregationMode
	// HardHeartbeatTimeout, if positive, makes Run periodically force any
	// required participant that has gone this long without a fresh
	// ParticipantStatus into Error, per config.HealthCheckConfig.
	HardHeartbeatTimeout time.Duration
}

// New constructs a Participant. The transport manager is wired up but not
// yet listening or connected to anything; call Listen/Join to do that.
func New(cfg Config) (*Participant, error) {
	p := &Participant{
		name:          cfg.Name,
		aggregation:   cfg.Aggregation,
		hardHeartbeat: cfg.HardHeartbeatTimeout,
		metrics:       metrics.New(),
		rpcClients:    make(map[string]*rpc.RpcClient),
	}
	p.lifecycle = lifecycle.New(cfg.Name, len(cfg.RequiredParticipants) > 0, p.broadcastStatus)
	p.discovery = discovery.New(p.broadcastDiscoveryEvent)
	p.dataSubInternal = pubsub.NewDataSubscriberInternal(cfg.Name, cfg.ReplayDirection)
	p.rpcServerInternal = rpc.NewRpcServerInternal(cfg.Name, cfg.ReplayDirection)

	if len(cfg.RequiredParticipants) > 0 {
		p.sysstate = sysstate.New(cfg.RequiredParticipants, cfg.SystemStateOnChange)
	}

	if cfg.TimeSyncStepDuration > 0 {
		ts, err := timesync.New(cfg.Name, cfg.TimeSyncMode, cfg.TimeSyncStepDuration, p.broadcastNextSimTask)
		if err != nil {
			return nil, fmt.Errorf("participant: constructing time sync: %w", err)
		}
		p.timesync = ts
	}

	local := wire.PeerInfo{ParticipantName: cfg.Name, ParticipantID: wire.HashParticipantName(cfg.Name)}
	p.mgr = transport.NewManager(local, wire.CurrentProtocolVersion, p)

	_ = p.lifecycle.EnterServicesCreated()
	return p, nil
}

// Name returns the participant's own name.
func (p *Participant) Name() string { return p.name }

// Discovery returns the participant's ServiceDiscovery controller, for
// pubsub/rpc controller construction.
func (p *Participant) Discovery() *discovery.Discovery { return p.discovery }

// Lifecycle returns the participant's state machine.
func (p *Participant) Lifecycle() *lifecycle.Lifecycle { return p.lifecycle }

// TimeSync returns the participant's time sync service, or nil if disabled.
func (p *Participant) TimeSync() *timesync.TimeSyncService { return p.timesync }

// SystemState returns the participant's system state tracker, or nil if this
// participant doesn't track one.
func (p *Participant) SystemState() *sysstate.Tracker { return p.sysstate }

// Metrics returns the participant's counters registry, for mounting a JSON or
// Prometheus endpoint (see internal/metrics).
func (p *Participant) Metrics() *metrics.Registry { return p.metrics }

// Peers returns a snapshot of every transport peer currently connected,
// for inspection tooling (see cmd/ibctl).
func (p *Participant) Peers() []*transport.Peer {
	return p.mgr.Peers()
}

// NextServiceID hands out a fresh, participant-unique ServiceID for a new
// controller.
func (p *Participant) NextServiceID() uint32 {
	return atomic.AddUint32(&p.nextServiceID, 1)
}

// Listen starts accepting direct peer connections on the given URIs. A
// participant willing to be dialed by others (not just the registry) calls
// this before Join.
func (p *Participant) Listen(uris ...string) error {
	return p.mgr.Listen(uris...)
}

// Join dials the registry at uri, waits for the handshake, and relies on
// the registry's KnownParticipants/PeerAnnouncement broadcasts (handled in
// HandleMessage) to dial every other participant directly, forming the
// full mesh.
func (p *Participant) Join(registryURI string) error {
	_, err := p.mgr.Dial(registryURI)
	if err != nil {
		return fmt.Errorf("participant: joining registry at %q: %w", registryURI, err)
	}
	return nil
}

// NewDataPublisher constructs a DataPublisher announced through this
// participant's discovery controller and addressed via targeted sends.
func (p *Participant) NewDataPublisher(spec wire.PubSubSpec) *pubsub.DataPublisher {
	return pubsub.NewDataPublisher(p.name, p.NextServiceID(), spec, p.discovery, p.sendDataMessage)
}

// NewDataSubscriber constructs a DataSubscriber bound to this participant's
// shared DataSubscriberInternal router.
func (p *Participant) NewDataSubscriber(spec wire.PubSubSpec, handler pubsub.DataMessageHandler) *pubsub.DataSubscriber {
	return pubsub.NewDataSubscriber(p.name, spec, p.discovery, p.dataSubInternal, handler)
}

// NewRpcClient constructs an RpcClient and registers it for inbound response
// fan-out.
func (p *Participant) NewRpcClient(spec wire.RpcSpec) *rpc.RpcClient {
	c := rpc.NewRpcClient(p.name, p.NextServiceID(), spec, p.discovery, p.sendFunctionCall)
	p.mu.Lock()
	p.rpcClients[c.ClientUUID()] = c
	p.mu.Unlock()
	return c
}

// NewRpcServer constructs an RpcServer bound to this participant's shared
// RpcServerInternal table.
func (p *Participant) NewRpcServer(spec wire.RpcSpec, handler rpc.RpcHandler) *rpc.RpcServer {
	return rpc.NewRpcServer(p.name, p.NextServiceID(), spec, p.discovery, p.rpcServerInternal, handler)
}

// Broadcast is the broadcast-by-network/type send mode: it goes to
// every currently connected peer, regardless of whether that peer has
// registered a matching service. Discovery events and status broadcasts use
// this directly; pub/sub and RPC instead address only participants known
// (via discovery) to have a matching service, which is an equivalent,
// narrower realization of the same broadcast-by-network semantics (see
// DESIGN.md).
func (p *Participant) Broadcast(msg any) {
	p.mgr.Broadcast(msg)
}

// SendTo is the targeted send mode.
func (p *Participant) SendTo(participantName string, msg any) error {
	return p.mgr.SendTo(participantName, msg)
}

// InjectDataMessage is the self-inject send mode for pub/sub: it
// delivers locally without touching the wire, for replay/trace injection.
func (p *Participant) InjectDataMessage(msg wire.TypedDataMessage) error {
	p.metrics.IncDataMessageDelivered()
	return p.dataSubInternal.InjectReceive(msg)
}

// InjectFunctionCall is the self-inject send mode for RPC.
func (p *Participant) InjectFunctionCall(call wire.FunctionCall) error {
	p.metrics.IncRpcCallServed()
	return p.rpcServerInternal.InjectReceive(call, p.replyFunctionCall)
}

func (p *Participant) sendDataMessage(participantName string, msg wire.TypedDataMessage) error {
	p.metrics.IncDataMessagePublished()
	return p.mgr.SendTo(participantName, msg)
}

func (p *Participant) sendFunctionCall(participantName string, call wire.FunctionCall) error {
	p.metrics.IncRpcCallSent()
	return p.mgr.SendTo(participantName, call)
}

func (p *Participant) replyFunctionCall(participantName string, resp wire.FunctionCallResponse) error {
	return p.mgr.SendTo(participantName, resp)
}

func (p *Participant) broadcastDiscoveryEvent(ev wire.ServiceDiscoveryEvent) error {
	p.metrics.IncDiscoveryEventSent()
	p.mgr.Broadcast(ev)
	return nil
}

func (p *Participant) broadcastStatus(status wire.ParticipantStatus) error {
	p.mgr.Broadcast(status)
	if p.sysstate != nil {
		p.sysstate.OnParticipantStatus(status)
	}
	return nil
}

func (p *Participant) broadcastNextSimTask(task wire.NextSimTask) error {
	p.metrics.IncBarrierWaitStarted()
	p.mgr.Broadcast(task)
	return nil
}

// Run starts the participant's background workers — currently just the
// health-check ticker, when configured — and blocks until ctx is cancelled.
// Grounded on fbclock/daemon/daemon.go's errgroup.Group-coordinated ticker
// fan-out: each worker is one goroutine reporting into the same group, so a
// worker failure or ctx cancellation tears every other worker down too.
func (p *Participant) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if p.sysstate != nil && p.hardHeartbeat > 0 {
		g.Go(func() error {
			interval := p.hardHeartbeat / 4
			if interval <= 0 {
				interval = p.hardHeartbeat
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					before := p.sysstate.State()
					p.sysstate.CheckHeartbeats(p.hardHeartbeat)
					if p.sysstate.State() == wire.ParticipantStateError && before != wire.ParticipantStateError {
						p.metrics.IncHealthCheckForcedError()
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}

// Shutdown drives the lifecycle's cooperative shutdown and tears down every
// transport connection.
func (p *Participant) Shutdown(reason string) {
	_ = p.lifecycle.Shutdown(reason)
	p.mgr.Shutdown()
}

// PeerConnected implements transport.Handler. Direct mesh connections carry
// no special handshake payload beyond what transport already exchanged.
func (p *Participant) PeerConnected(peer *transport.Peer) {
	log.Infof("participant[%s]: connected to %s", p.name, peer.ParticipantName)
	p.metrics.IncPeerConnect()
	peer.Aggregation = p.aggregation
	if p.timesync != nil {
		p.timesync.AddCoordinatedPeer(peer.ParticipantName)
	}
}

// PeerShutdown implements transport.Handler: purge the peer from every
// component that caches per-peer state (discovery's remote cache, the
// system state tracker, time sync's coordinated-peer set).
func (p *Participant) PeerShutdown(peer *transport.Peer) {
	log.Infof("participant[%s]: %s disconnected", p.name, peer.ParticipantName)
	p.metrics.IncPeerDisconnect()
	p.discovery.PurgePeer(peer.ParticipantName)
	if p.sysstate != nil {
		p.sysstate.OnPeerShutdown(peer.ParticipantName)
	}
	if p.timesync != nil {
		p.timesync.RemoveCoordinatedPeer(peer.ParticipantName)
	}
}

// HandleMessage implements transport.Handler: dispatch by (network,
// serviceId) is realized here as a switch over message kind, delegating
// further routing to whichever component owns that kind's network-name
// scheme (pubsub's pubUUID table, rpc's clientUUID table, discovery's own
// predicate matching).
func (p *Participant) HandleMessage(peer *transport.Peer, kind wire.Kind, msg any) {
	switch kind {
	case wire.KindServiceDiscoveryEvent:
		p.metrics.IncDiscoveryEventReceived()
		p.discovery.OnRemoteEvent(msg.(wire.ServiceDiscoveryEvent))

	case wire.KindTypedDataMessage:
		p.metrics.IncDataMessageDelivered()
		p.dataSubInternal.Dispatch(msg.(wire.TypedDataMessage), peer.ParticipantName)

	case wire.KindFunctionCall:
		p.metrics.IncRpcCallServed()
		p.rpcServerInternal.Dispatch(msg.(wire.FunctionCall), peer.ParticipantName, p.replyFunctionCall)

	case wire.KindFunctionCallResponse:
		p.metrics.IncRpcResponseReceived()
		resp := msg.(wire.FunctionCallResponse)
		p.mu.RLock()
		clients := make([]*rpc.RpcClient, 0, len(p.rpcClients))
		for _, c := range p.rpcClients {
			clients = append(clients, c)
		}
		p.mu.RUnlock()
		for _, c := range clients {
			c.OnResponse(resp)
		}

	case wire.KindNextSimTask:
		if p.timesync != nil {
			p.timesync.OnNextSimTask(peer.ParticipantName, msg.(wire.NextSimTask))
		}

	case wire.KindParticipantStatus:
		if p.sysstate != nil {
			p.sysstate.OnParticipantStatus(msg.(wire.ParticipantStatus))
		}

	case wire.KindKnownParticipants:
		for _, info := range msg.(wire.KnownParticipants).Peers {
			p.dialMeshPeer(info)
		}

	case wire.KindPeerAnnouncement:
		p.dialMeshPeer(msg.(wire.PeerAnnouncement).NewPeer)

	case wire.KindPeerShutdown:
		name := msg.(wire.PeerShutdown).Name
		p.discovery.PurgePeer(name)
		if p.sysstate != nil {
			p.sysstate.OnPeerShutdown(name)
		}
		if p.timesync != nil {
			p.timesync.RemoveCoordinatedPeer(name)
		}

	default:
		log.Warnf("participant[%s]: unexpected message kind %d from %s", p.name, kind, peer.ParticipantName)
	}
}

// dialMeshPeer connects directly to a newly announced peer, completing the
// N-to-N mesh: the registry only brokers introductions, every data-plane
// connection is participant-to-participant.
func (p *Participant) dialMeshPeer(info wire.PeerInfo) {
	if info.ParticipantName == p.name {
		return
	}
	if _, ok := p.mgr.Peer(info.ParticipantName); ok {
		return
	}
	for _, uri := range info.AcceptorURIs {
		if _, err := p.mgr.Dial(uri); err == nil {
			if p.timesync != nil {
				p.timesync.AddCoordinatedPeer(info.ParticipantName)
			}
			return
		}
	}
	log.Warnf("participant[%s]: could not dial any acceptor URI for %s", p.name, info.ParticipantName)
}

// WaitUntilReady blocks until every name in requiredPeers has a connected
// transport peer, polling every 10ms. It returns true once they all do, or
// false if timeout elapses first. Discovery state is not consulted.
func (p *Participant) WaitUntilReady(timeout time.Duration, requiredPeers []string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allConnected := true
		for _, name := range requiredPeers {
			if _, ok := p.mgr.Peer(name); !ok {
				allConnected = false
				break
			}
		}
		if allConnected {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
