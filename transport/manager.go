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

package transport

import (
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/silkit/ib/wire"
)

// Handler receives transport-level events: framed messages from peers, and
// peer lifecycle notifications.
type Handler interface {
	HandleMessage(peer *Peer, kind wire.Kind, msg any)
	PeerConnected(peer *Peer)
	// PeerShutdown fires once per peer, whether it left cleanly or the
	// connection was simply lost.
	PeerShutdown(peer *Peer)
}

// Manager is the per-participant connection manager: it dials or accepts
// peer sockets, runs the handshake, and owns every resulting Peer's
// send/receive pumps.
type Manager struct {
	local   wire.PeerInfo
	version wire.ProtocolVersion
	handler Handler

	mu        sync.RWMutex
	peers     map[string]*Peer
	listeners []net.Listener
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewManager constructs a Manager for the local participant.
func NewManager(local wire.PeerInfo, version wire.ProtocolVersion, handler Handler) *Manager {
	return &Manager{
		local:   local,
		version: version,
		handler: handler,
		peers:   make(map[string]*Peer),
		done:    make(chan struct{}),
	}
}

// Listen starts accepting connections on every given URI. Used by the
// registry and by any participant willing to be dialed directly.
func (m *Manager) Listen(uris ...string) error {
	for _, uri := range uris {
		ln, err := Listen(uri)
		if err != nil {
			return fmt.Errorf("transport: listening on %q: %w", uri, err)
		}
		m.mu.Lock()
		m.listeners = append(m.listeners, ln)
		m.mu.Unlock()
		m.wg.Add(1)
		go m.acceptLoop(ln)
	}
	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.done:
				return
			default:
				log.Errorf("transport: accept on %s failed: %v", ln.Addr(), err)
				return
			}
		}
		go m.handleAccepted(conn)
	}
}

func (m *Manager) handleAccepted(conn net.Conn) {
	peer, err := acceptorHandshake(conn, m.local, m.version, m.nameTaken)
	if err != nil {
		log.Warnf("transport: rejecting inbound connection: %v", err)
		_ = conn.Close()
		return
	}
	if err := m.addPeer(peer); err != nil {
		log.Warnf("transport: dropping peer %s: %v", peer.ParticipantName, err)
		_ = peer.Close()
		return
	}
}

// Dial joins the participant at uri: it connects, performs the dialer side
// of the handshake, and on success registers and starts the resulting Peer.
func (m *Manager) Dial(uri string) (*Peer, error) {
	conn, err := Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %q: %w", uri, err)
	}
	peer, err := dialerHandshake(conn, m.local, m.version)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := m.addPeer(peer); err != nil {
		_ = peer.Close()
		return nil, err
	}
	return peer, nil
}

func (m *Manager) nameTaken(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.peers[name]
	return ok
}

func (m *Manager) addPeer(peer *Peer) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.peers[peer.ParticipantName]; ok {
		m.mu.Unlock()
		return ErrDuplicatePeerName
	}
	m.peers[peer.ParticipantName] = peer
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		peer.runWriter(m.done)
	}()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := peer.runReader(func(kind wire.Kind, msg any) {
			if notif, ok := msg.(wire.ParticipantNotification); ok && notif.NotificationKind == wire.NotificationShutdown {
				m.dropPeer(peer)
				return
			}
			m.handler.HandleMessage(peer, kind, msg)
		})
		if err != nil {
			log.Warnf("transport: lost peer %s: %v", peer.ParticipantName, err)
		}
		m.dropPeer(peer)
	}()

	m.handler.PeerConnected(peer)
	return nil
}

func (m *Manager) dropPeer(peer *Peer) {
	m.mu.Lock()
	existing, ok := m.peers[peer.ParticipantName]
	if !ok || existing != peer {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peer.ParticipantName)
	m.mu.Unlock()
	_ = peer.Close()
	m.handler.PeerShutdown(peer)
}

// Peers returns a snapshot of currently connected peers.
func (m *Manager) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Peer looks up a connected peer by participant name.
func (m *Manager) Peer(name string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[name]
	return p, ok
}

// Broadcast sends msg to every connected peer.
func (m *Manager) Broadcast(msg any) {
	for _, p := range m.Peers() {
		if err := p.Send(msg); err != nil {
			log.Warnf("transport: broadcast to %s failed: %v", p.ParticipantName, err)
		}
	}
}

// SendTo performs a targeted send to a single named peer.
func (m *Manager) SendTo(name string, msg any) error {
	p, ok := m.Peer(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrPeerNotFound, name)
	}
	return p.Send(msg)
}

// Shutdown notifies every peer and tears down all listeners and
// connections. It blocks until every pump goroutine has exited.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	listeners := m.listeners
	m.mu.Unlock()

	var eg errgroup.Group
	for _, p := range peers {
		p := p
		eg.Go(func() error {
			_ = p.Send(wire.ParticipantNotification{NotificationKind: wire.NotificationShutdown})
			_ = p.flush()
			return nil
		})
	}
	_ = eg.Wait()

	close(m.done)
	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, p := range peers {
		_ = p.Close()
	}
	m.wg.Wait()
}
