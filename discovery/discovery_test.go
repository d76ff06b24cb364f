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

package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silkit/ib/label"
	"github.com/silkit/ib/wire"
)

func descFor(participant, topic string, serviceID uint32, labels []wire.MatchingLabel) wire.ServiceDescriptor {
	return wire.ServiceDescriptor{
		ParticipantName: participant,
		NetworkName:     "N1",
		ServiceName:     topic,
		ServiceType:     wire.ServiceTypeController,
		NetworkType:     wire.NetworkTypeData,
		ServiceID:       serviceID,
		SupplementalData: map[string]string{
			KeyControllerType: "pubsub-publisher",
			KeyTopicOrFunc:    topic,
			KeyLabels:         label.Encode(labels),
		},
	}
}

func TestNotifyServiceCreatedBroadcasts(t *testing.T) {
	var got wire.ServiceDiscoveryEvent
	d := New(func(ev wire.ServiceDiscoveryEvent) error {
		got = ev
		return nil
	})

	desc := descFor("A", "topic1", 1, nil)
	d.NotifyServiceCreated(desc)

	require.Equal(t, wire.DiscoveryEventServiceCreated, got.EventKind)
	require.Equal(t, desc, got.Descriptor)
	require.Len(t, d.LocalServices(), 1)
}

func TestNotifyServiceRemoved(t *testing.T) {
	d := New(func(wire.ServiceDiscoveryEvent) error { return nil })
	desc := descFor("A", "topic1", 1, nil)
	d.NotifyServiceCreated(desc)
	d.NotifyServiceRemoved(desc)
	require.Empty(t, d.LocalServices())
}

func TestSpecificHandlerFiresOnMatchingRemoteEvent(t *testing.T) {
	d := New(func(wire.ServiceDiscoveryEvent) error { return nil })

	var received []wire.ServiceDescriptor
	d.RegisterSpecificHandler("pubsub-publisher", "topic1", nil, func(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
		received = append(received, desc)
	})

	desc := descFor("B", "topic1", 7, nil)
	d.OnRemoteEvent(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: desc})

	require.Len(t, received, 1)
	require.Equal(t, desc, received[0])
	require.Len(t, d.RemoteServices("B"), 1)
}

func TestSpecificHandlerIgnoresNonMatchingTopic(t *testing.T) {
	d := New(func(wire.ServiceDiscoveryEvent) error { return nil })

	fired := false
	d.RegisterSpecificHandler("pubsub-publisher", "topic1", nil, func(wire.DiscoveryEventKind, wire.ServiceDescriptor) {
		fired = true
	})

	d.OnRemoteEvent(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: descFor("B", "topic2", 7, nil)})
	require.False(t, fired)
}

func TestSpecificHandlerRespectsLabelMatch(t *testing.T) {
	d := New(func(wire.ServiceDiscoveryEvent) error { return nil })

	subLabels := []wire.MatchingLabel{{Key: "region", Value: "eu", Kind: wire.LabelMandatory}}
	fired := false
	d.RegisterSpecificHandler("pubsub-publisher", "topic1", subLabels, func(wire.DiscoveryEventKind, wire.ServiceDescriptor) {
		fired = true
	})

	mismatched := descFor("B", "topic1", 7, []wire.MatchingLabel{{Key: "region", Value: "us"}})
	d.OnRemoteEvent(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: mismatched})
	require.False(t, fired)

	matched := descFor("B", "topic1", 8, []wire.MatchingLabel{{Key: "region", Value: "eu"}})
	d.OnRemoteEvent(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: matched})
	require.True(t, fired)
}

func TestRegisterSpecificHandlerReplaysKnownServices(t *testing.T) {
	d := New(func(wire.ServiceDiscoveryEvent) error { return nil })
	desc := descFor("B", "topic1", 7, nil)
	d.OnRemoteEvent(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: desc})

	var replayed []wire.ServiceDescriptor
	d.RegisterSpecificHandler("pubsub-publisher", "topic1", nil, func(kind wire.DiscoveryEventKind, d wire.ServiceDescriptor) {
		replayed = append(replayed, d)
	})

	require.Len(t, replayed, 1)
	require.Equal(t, desc, replayed[0])
}

func TestPurgePeerSynthesizesRemoval(t *testing.T) {
	d := New(func(wire.ServiceDiscoveryEvent) error { return nil })

	var events []wire.DiscoveryEventKind
	d.RegisterSpecificHandler("pubsub-publisher", "topic1", nil, func(kind wire.DiscoveryEventKind, desc wire.ServiceDescriptor) {
		events = append(events, kind)
	})

	desc := descFor("B", "topic1", 7, nil)
	d.OnRemoteEvent(wire.ServiceDiscoveryEvent{EventKind: wire.DiscoveryEventServiceCreated, Descriptor: desc})
	d.PurgePeer("B")

	require.Equal(t, []wire.DiscoveryEventKind{wire.DiscoveryEventServiceCreated, wire.DiscoveryEventServiceRemoved}, events)
	require.Empty(t, d.RemoteServices("B"))
}
