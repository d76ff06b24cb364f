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

package participant

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/rpc"
	"github.com/silkit/ib/wire"
)

func testURI(t *testing.T, name string) string {
	return "local://" + filepath.Join(t.TempDir(), name+".sock")
}

func connectDirect(t *testing.T, a, b *Participant) {
	t.Helper()
	uri := testURI(t, b.Name())
	require.NoError(t, b.Listen(uri))
	require.NoError(t, a.Join(uri))
	require.Eventually(t, func() bool {
		_, ok := a.mgr.Peer(b.Name())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := b.mgr.Peer(a.Name())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPubSubAcrossDirectConnection(t *testing.T) {
	pub, err := New(Config{Name: "Pub"})
	require.NoError(t, err)
	sub, err := New(Config{Name: "Sub"})
	require.NoError(t, err)
	defer pub.Shutdown("test done")
	defer sub.Shutdown("test done")

	connectDirect(t, pub, sub)

	received := make(chan []byte, 1)
	sub.NewDataSubscriber(wire.PubSubSpec{Topic: "speed"}, func(from wire.Endpoint, ts int64, data []byte) {
		received <- data
	})
	publisher := pub.NewDataPublisher(wire.PubSubSpec{Topic: "speed"})

	// The subscriber binding announcement has to cross the wire and come
	// back around through discovery before Publish has anyone to address,
	// so retry publishing until the binding has landed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, publisher.Publish(1, []byte("fast")))
		select {
		case data := <-received:
			require.Equal(t, []byte("fast"), data)
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("subscriber never received the published message")
}

func TestRpcCallAcrossDirectConnection(t *testing.T) {
	client, err := New(Config{Name: "Client"})
	require.NoError(t, err)
	server, err := New(Config{Name: "Server"})
	require.NoError(t, err)
	defer client.Shutdown("test done")
	defer server.Shutdown("test done")

	connectDirect(t, client, server)

	server.NewRpcServer(wire.RpcSpec{FunctionName: "Add"}, func(arg []byte) ([]byte, wire.CallStatus) {
		return append(arg, 'X'), wire.CallStatusSuccess
	})
	rpcClient := client.NewRpcClient(wire.RpcSpec{FunctionName: "Add"})

	require.Eventually(t, func() bool {
		status, result, err := rpcClient.Call(200*time.Millisecond, []byte("a"))
		return err == nil && status == wire.CallStatusSuccess && string(result) == "aX"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPeerShutdownPurgesDiscovery(t *testing.T) {
	a, err := New(Config{Name: "A"})
	require.NoError(t, err)
	b, err := New(Config{Name: "B"})
	require.NoError(t, err)
	defer a.Shutdown("test done")

	connectDirect(t, a, b)

	a.NewDataSubscriber(wire.PubSubSpec{Topic: "speed"}, func(wire.Endpoint, int64, []byte) {})
	b.NewDataPublisher(wire.PubSubSpec{Topic: "speed"})

	require.Eventually(t, func() bool {
		return len(a.discovery.RemoteServices("B")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	b.Shutdown("going away")

	require.Eventually(t, func() bool {
		return len(a.discovery.RemoteServices("B")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSelfInjectReplaysOnAnEstablishedBindingAfterTheWireIsGone(t *testing.T) {
	pub, err := New(Config{Name: "Pub", ReplayDirection: wire.DirectionBoth})
	require.NoError(t, err)
	sub, err := New(Config{Name: "Sub", ReplayDirection: wire.DirectionBoth})
	require.NoError(t, err)
	defer sub.Shutdown("test done")

	connectDirect(t, pub, sub)

	received := make(chan []byte, 2)
	sub.NewDataSubscriber(wire.PubSubSpec{Topic: "speed"}, func(from wire.Endpoint, ts int64, data []byte) {
		received <- data
	})
	publisher := pub.NewDataPublisher(wire.PubSubSpec{Topic: "speed"})

	// Drive at least one real publish so the subscriber's binding to this
	// publisher's pubUUID is actually established in Sub's router.
	deadline := time.Now().Add(2 * time.Second)
	established := false
	for time.Now().Before(deadline) && !established {
		require.NoError(t, publisher.Publish(1, []byte("over-the-wire")))
		select {
		case <-received:
			established = true
		case <-time.After(20 * time.Millisecond):
		}
	}
	require.True(t, established, "subscriber binding never established")

	// Now tear the publisher down entirely and replay a message locally on
	// Sub using the same pubUUID: delivery must still occur, purely via
	// InjectDataMessage, with no live connection involved.
	pub.Shutdown("replaying from here on")

	err = sub.InjectDataMessage(wire.TypedDataMessage{NetworkName: publisher.PubUUID(), Data: []byte("replayed")})
	require.NoError(t, err)

	select {
	case data := <-received:
		require.Equal(t, []byte("replayed"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("replayed message was never delivered locally")
	}
}

func TestSelfInjectRejectedWhenDirectionIsSendOnly(t *testing.T) {
	p, err := New(Config{Name: "SendOnly", ReplayDirection: wire.DirectionSend})
	require.NoError(t, err)
	defer p.Shutdown("test done")

	err = p.InjectFunctionCall(wire.FunctionCall{})
	require.ErrorIs(t, err, rpc.ErrReplayDirectionNotAdmitted)
}
