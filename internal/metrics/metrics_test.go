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

package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func gaugeHelp(t *testing.T, e *PrometheusExporter, name string) (float64, bool) {
	t.Helper()
	families, err := e.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		return f.GetMetric()[0].GetGauge().GetValue(), true
	}
	return 0, false
}

func TestCountersIncrementAndSnapshot(t *testing.T) {
	r := New()
	r.IncPeerConnect()
	r.IncPeerConnect()
	r.IncPeerDisconnect()
	r.IncRpcCallSent()
	r.IncBarrierWaitStarted()
	r.IncBarrierWaitCleared()

	// Map reflects the last Snapshot, not the live counters.
	require.Equal(t, int64(0), r.Map()["peer.connects"])

	r.Snapshot()
	m := r.Map()
	require.Equal(t, int64(2), m["peer.connects"])
	require.Equal(t, int64(1), m["peer.disconnects"])
	require.Equal(t, int64(1), m["rpc.calls.sent"])
	require.Equal(t, int64(1), m["timesync.barrier.waits.started"])
	require.Equal(t, int64(1), m["timesync.barrier.waits.cleared"])
	require.Equal(t, int64(0), m["rpc.calls.served"])
}

func TestCountersReset(t *testing.T) {
	r := New()
	r.IncDataMessagePublished()
	r.Snapshot()
	require.Equal(t, int64(1), r.Map()["pubsub.messages.published"])

	r.Reset()
	r.Snapshot()
	require.Equal(t, int64(0), r.Map()["pubsub.messages.published"])
}

func TestHandleRequestServesJSONCounters(t *testing.T) {
	r := New()
	r.IncDiscoveryEventSent()
	r.IncDiscoveryEventReceived()

	req := httptest.NewRequest("GET", "/counters", nil)
	rec := httptest.NewRecorder()
	r.handleRequest(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, int64(1), got["discovery.events.sent"])
	require.Equal(t, int64(1), got["discovery.events.received"])
}

func TestPrometheusExporterScrapesJSONCountersEndpoint(t *testing.T) {
	r := New()
	r.IncRpcCallServed()
	r.IncRpcCallServed()
	r.IncRpcCallServed()

	srv := httptest.NewServer(http.HandlerFunc(r.handleRequest))
	defer srv.Close()

	exporter := NewPrometheusExporter(srv.URL, 0, 0)
	exporter.scrapeMetrics()

	value, ok := gaugeHelp(t, exporter, "rpc_calls_served")
	require.True(t, ok)
	require.Equal(t, float64(3), value)
}

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "rpc_calls_sent", flattenKey("rpc.calls.sent"))
	require.Equal(t, "healthcheck_forced_errors", flattenKey("healthcheck.forced_errors"))
}
