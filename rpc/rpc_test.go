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

package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/discovery"
	"github.com/silkit/ib/wire"
)

type mesh struct {
	discoveries map[string]*discovery.Discovery
	servers     map[string]*RpcServerInternal
	clients     map[string]*RpcClient
}

func newMesh(participants ...string) *mesh {
	m := &mesh{discoveries: map[string]*discovery.Discovery{}, servers: map[string]*RpcServerInternal{}, clients: map[string]*RpcClient{}}
	for _, p := range participants {
		name := p
		m.discoveries[p] = discovery.New(func(ev wire.ServiceDiscoveryEvent) error {
			for other, d := range m.discoveries {
				if other == name {
					continue
				}
				d.OnRemoteEvent(ev)
			}
			return nil
		})
		m.servers[p] = NewRpcServerInternal(p, wire.DirectionBoth)
	}
	return m
}

func (m *mesh) sendFuncFor(from string) SendFunc {
	return func(participant string, call wire.FunctionCall) error {
		go m.servers[participant].Dispatch(call, from, m.replyFunc())
		return nil
	}
}

func (m *mesh) replyFunc() ReplyFunc {
	return func(participant string, resp wire.FunctionCallResponse) error {
		m.clients[participant].OnResponse(resp)
		return nil
	}
}

func TestCallSucceeds(t *testing.T) {
	m := newMesh("Client", "Server")

	NewRpcServer("Server", 1, wire.RpcSpec{FunctionName: "Add"}, m.discoveries["Server"], m.servers["Server"], func(arg []byte) ([]byte, wire.CallStatus) {
		return append(arg, 'X'), wire.CallStatusSuccess
	})

	client := NewRpcClient("Client", 1, wire.RpcSpec{FunctionName: "Add"}, m.discoveries["Client"], m.sendFuncFor("Client"))
	m.clients["Client"] = client

	status, result, err := client.Call(time.Second, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, wire.CallStatusSuccess, status)
	require.Equal(t, []byte("aX"), result)
}

func TestCallNoServerReturnsServerNotReachable(t *testing.T) {
	m := newMesh("Client")
	client := NewRpcClient("Client", 1, wire.RpcSpec{FunctionName: "Add"}, m.discoveries["Client"], m.sendFuncFor("Client"))
	m.clients["Client"] = client

	status, _, err := client.Call(100*time.Millisecond, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, wire.CallStatusServerNotReachable, status)
}

func TestCallTimesOutAndDropsLateResponse(t *testing.T) {
	m := newMesh("Client", "Server")

	release := make(chan struct{})
	NewRpcServer("Server", 1, wire.RpcSpec{FunctionName: "Slow"}, m.discoveries["Server"], m.servers["Server"], func(arg []byte) ([]byte, wire.CallStatus) {
		<-release
		return nil, wire.CallStatusSuccess
	})

	client := NewRpcClient("Client", 1, wire.RpcSpec{FunctionName: "Slow"}, m.discoveries["Client"], m.sendFuncFor("Client"))
	m.clients["Client"] = client

	status, _, err := client.Call(50*time.Millisecond, nil)
	require.NoError(t, err)
	require.Equal(t, wire.CallStatusTimeout, status)

	close(release)
	time.Sleep(50 * time.Millisecond) // let the late OnResponse land and be dropped harmlessly
}

func TestCallRespectsMandatoryLabels(t *testing.T) {
	m := newMesh("Client", "Server")

	NewRpcServer("Server", 1, wire.RpcSpec{FunctionName: "Add", Labels: []wire.MatchingLabel{{Key: "region", Value: "us"}}}, m.discoveries["Server"], m.servers["Server"], func(arg []byte) ([]byte, wire.CallStatus) {
		return arg, wire.CallStatusSuccess
	})

	client := NewRpcClient("Client", 1, wire.RpcSpec{FunctionName: "Add", Labels: []wire.MatchingLabel{{Key: "region", Value: "eu", Kind: wire.LabelMandatory}}}, m.discoveries["Client"], m.sendFuncFor("Client"))
	m.clients["Client"] = client

	status, _, err := client.Call(100*time.Millisecond, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, wire.CallStatusServerNotReachable, status)
}
