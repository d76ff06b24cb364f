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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/wire"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []any
	gotPeer  chan *Peer
	lostPeer chan *Peer
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		gotPeer:  make(chan *Peer, 8),
		lostPeer: make(chan *Peer, 8),
	}
}

func (h *recordingHandler) HandleMessage(_ *Peer, _ wire.Kind, msg any) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

func (h *recordingHandler) PeerConnected(p *Peer) { h.gotPeer <- p }
func (h *recordingHandler) PeerShutdown(p *Peer)  { h.lostPeer <- p }

func (h *recordingHandler) snapshot() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.messages))
	copy(out, h.messages)
	return out
}

func testURI(t *testing.T) string {
	dir := t.TempDir()
	return "local://" + filepath.Join(dir, "peer.sock")
}

func newTestManager(name string) (*Manager, *recordingHandler) {
	h := newRecordingHandler()
	info := wire.PeerInfo{ParticipantName: name, ParticipantID: wire.HashParticipantName(name)}
	return NewManager(info, wire.CurrentProtocolVersion, h), h
}

func TestHandshakeAndSend(t *testing.T) {
	uri := testURI(t)

	serverMgr, serverHandler := newTestManager("server")
	require.NoError(t, serverMgr.Listen(uri))
	defer serverMgr.Shutdown()

	clientMgr, clientHandler := newTestManager("client")
	defer clientMgr.Shutdown()

	peer, err := clientMgr.Dial(uri)
	require.NoError(t, err)
	require.Equal(t, "server", peer.ParticipantName)

	select {
	case p := <-serverHandler.gotPeer:
		require.Equal(t, "client", p.ParticipantName)
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the client peer")
	}

	msg := wire.NextSimTask{TimePoint: 42, Duration: 7}
	require.NoError(t, clientMgr.SendTo("server", msg))

	require.Eventually(t, func() bool {
		for _, m := range serverHandler.snapshot() {
			if got, ok := m.(wire.NextSimTask); ok && got == msg {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_ = clientHandler
}

func TestDuplicateParticipantNameRejected(t *testing.T) {
	uri := testURI(t)

	serverMgr, _ := newTestManager("server")
	require.NoError(t, serverMgr.Listen(uri))
	defer serverMgr.Shutdown()

	first, _ := newTestManager("dup")
	defer first.Shutdown()
	_, err := first.Dial(uri)
	require.NoError(t, err)

	second, _ := newTestManager("dup")
	defer second.Shutdown()
	_, err = second.Dial(uri)
	require.Error(t, err)
}

func TestPeerShutdownNotifiesRemote(t *testing.T) {
	uri := testURI(t)

	serverMgr, serverHandler := newTestManager("server")
	require.NoError(t, serverMgr.Listen(uri))

	clientMgr, _ := newTestManager("client")
	_, err := clientMgr.Dial(uri)
	require.NoError(t, err)
	<-serverHandler.gotPeer

	clientMgr.Shutdown()

	select {
	case p := <-serverHandler.lostPeer:
		require.Equal(t, "client", p.ParticipantName)
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed client shutdown")
	}
	serverMgr.Shutdown()
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	uri := testURI(t)
	serverMgr, serverHandler := newTestManager("server")
	require.NoError(t, serverMgr.Listen(uri))
	defer serverMgr.Shutdown()

	const n = 3
	clients := make([]*Manager, n)
	handlers := make([]*recordingHandler, n)
	for i := 0; i < n; i++ {
		cm, h := newTestManager(fmt.Sprintf("client-%d", i))
		clients[i] = cm
		handlers[i] = h
		_, err := cm.Dial(uri)
		require.NoError(t, err)
		defer cm.Shutdown()
	}
	for i := 0; i < n; i++ {
		<-serverHandler.gotPeer
	}

	msg := wire.NextSimTask{TimePoint: 1, Duration: 1}
	serverMgr.Broadcast(msg)

	for i := 0; i < n; i++ {
		h := handlers[i]
		require.Eventually(t, func() bool {
			for _, m := range h.snapshot() {
				if got, ok := m.(wire.NextSimTask); ok && got == msg {
					return true
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	}
}
