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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter republishes a Registry's JSON counters endpoint as
// Prometheus gauges, grounded directly on ptp/sptp/stats.PrometheusExporter:
// it scrapes the sibling JSON endpoint on an interval rather than reading
// the Registry in-process, so the exporter can run detached from (and even
// on a different host than) the participant it monitors — the same
// separation the teacher relies on between the sptp client and its
// exporter.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	listenPort int
	jsonURL    string
	interval   time.Duration
}

// NewPrometheusExporter builds an exporter that scrapes the JSON counters
// endpoint at jsonURL (as started by Registry.Start) every scrapeInterval
// and serves the result as Prometheus gauges on listenPort.
func NewPrometheusExporter(jsonURL string, listenPort int, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		listenPort: listenPort,
		jsonURL:    jsonURL,
		interval:   scrapeInterval,
	}
}

// Start begins the scrape loop and serves /metrics. Blocks; run it in its
// own goroutine.
func (e *PrometheusExporter) Start() {
	go func() {
		for {
			e.scrapeMetrics()
			time.Sleep(e.interval)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	addr := fmt.Sprintf(":%d", e.listenPort)
	log.Infof("metrics: starting prometheus exporter on %s, scraping %s", addr, e.jsonURL)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics: prometheus exporter stopped: %v", err)
	}
}

func (e *PrometheusExporter) scrapeMetrics() {
	counters, err := fetchCounters(e.jsonURL)
	if err != nil {
		log.Errorf("metrics: failed to scrape %s: %v", e.jsonURL, err)
		return
	}
	for key, val := range counters {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: flattenKey(key),
			Help: key,
		})
		if err := e.registry.Register(gauge); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				gauge = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("metrics: failed to register %s: %v", key, err)
				continue
			}
		}
		gauge.Set(float64(val))
	}
}

// fetchCounters fetches and decodes a Registry's JSON counters endpoint.
func fetchCounters(url string) (map[string]int64, error) {
	c := http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var counters map[string]int64
	if err := json.Unmarshal(b, &counters); err != nil {
		return nil, err
	}
	return counters, nil
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
