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

// Package config loads the participant-configuration document: a
// participant's name, its required-participant set, time sync parameters,
// health-check thresholds, and middleware tuning. ReadConfig mirrors
// sptp/client.ReadConfig's read-file/yaml.Unmarshal/return-pointer shape.
package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// HealthCheckConfig carries the missed-heartbeat thresholds. The hard timeout
// corresponds to participant.Config.HardHeartbeatTimeout, with which
// sysstate.Tracker.CheckHeartbeats forces a required participant's state to
// Error; the soft timeout is only validated, nothing else reads it. Not part of
// spec.md's wire schema for ParticipantStatus; additive plumbing only.
type HealthCheckConfig struct {
	SoftResponseTimeout time.Duration `yaml:"softResponseTimeout"`
	HardResponseTimeout time.Duration `yaml:"hardResponseTimeout"`
}

// Validate checks HealthCheckConfig is sane.
func (c *HealthCheckConfig) Validate() error {
	if c.SoftResponseTimeout < 0 {
		return fmt.Errorf("softResponseTimeout must be 0 or positive")
	}
	if c.HardResponseTimeout < 0 {
		return fmt.Errorf("hardResponseTimeout must be 0 or positive")
	}
	if c.HardResponseTimeout > 0 && c.SoftResponseTimeout > 0 && c.HardResponseTimeout < c.SoftResponseTimeout {
		return fmt.Errorf("hardResponseTimeout must be greater than or equal to softResponseTimeout")
	}
	return nil
}

// AggregationSetting is the string form of transport.AggregationMode as it
// appears in the configuration document.
type AggregationSetting string

// AggregationSetting values.
const (
	AggregationSettingOff  AggregationSetting = "Off"
	AggregationSettingOn   AggregationSetting = "On"
	AggregationSettingAuto AggregationSetting = "Auto"
)

// MiddlewareConfig tunes the transport layer's send path.
type MiddlewareConfig struct {
	EnableMessageAggregation AggregationSetting `yaml:"enableMessageAggregation"`
}

// Validate checks MiddlewareConfig is sane.
func (c *MiddlewareConfig) Validate() error {
	switch c.EnableMessageAggregation {
	case "", AggregationSettingOff, AggregationSettingOn, AggregationSettingAuto:
		return nil
	default:
		return fmt.Errorf("enableMessageAggregation must be %q, %q or %q", AggregationSettingOff, AggregationSettingOn, AggregationSettingAuto)
	}
}

// TimeSyncConfig configures the participant's virtual-time barrier, if any.
type TimeSyncConfig struct {
	Mode         string        `yaml:"mode"` // "ByOwnDuration" or "ByMinimalDuration"
	StepDuration time.Duration `yaml:"stepDuration"`
}

// Validate checks TimeSyncConfig is sane. A zero StepDuration is valid: it
// means this participant doesn't run a time sync service at all.
func (c *TimeSyncConfig) Validate() error {
	if c.StepDuration == 0 {
		return nil
	}
	if c.StepDuration < 0 {
		return fmt.Errorf("stepDuration must be 0 or positive")
	}
	if c.Mode != "" && c.Mode != "ByOwnDuration" && c.Mode != "ByMinimalDuration" {
		return fmt.Errorf("mode must be %q or %q", "ByOwnDuration", "ByMinimalDuration")
	}
	return nil
}

// ParticipantConfig is the top-level participant-configuration document.
type ParticipantConfig struct {
	Name                 string            `yaml:"name"`
	RegistryURI          string            `yaml:"registryUri"`
	ListenURIs           []string          `yaml:"listenUris"`
	RequiredParticipants []string          `yaml:"requiredParticipants"`
	ReplayDirection      string            `yaml:"replayDirection"` // "", "Send", "Receive", or "Both"
	TimeSync             TimeSyncConfig    `yaml:"timeSync"`
	HealthCheck          HealthCheckConfig `yaml:"healthCheck"`
	Middleware           MiddlewareConfig  `yaml:"middleware"`

	// Controllers is a sidecar for per-controller configuration (pub/sub
	// topics, RPC function names, labels) that callers interpret themselves.
	// Its keys are decoded as-is without validation: an unrecognized key here
	// is kept in the map, not rejected and not logged, unlike an unrecognized
	// top-level key.
	Controllers map[string]interface{} `yaml:"controllers"`
}

// knownTopLevelKeys mirrors ParticipantConfig's yaml tags, used to reject an
// unrecognized top-level key while leaving Controllers's contents alone.
var knownTopLevelKeys = map[string]bool{
	"name": true, "registryUri": true, "listenUris": true,
	"requiredParticipants": true, "replayDirection": true, "timeSync": true,
	"healthCheck": true, "middleware": true, "controllers": true,
}

// Validate checks the document is internally sane.
func (c *ParticipantConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must be specified")
	}
	switch c.ReplayDirection {
	case "", "Send", "Receive", "Both":
	default:
		return fmt.Errorf("replayDirection must be %q, %q, %q or empty", "Send", "Receive", "Both")
	}
	if err := c.TimeSync.Validate(); err != nil {
		return fmt.Errorf("invalid timeSync config: %w", err)
	}
	if err := c.HealthCheck.Validate(); err != nil {
		return fmt.Errorf("invalid healthCheck config: %w", err)
	}
	if err := c.Middleware.Validate(); err != nil {
		return fmt.Errorf("invalid middleware config: %w", err)
	}
	return nil
}

// ReadConfig reads and validates a participant-configuration document from
// path. An unrecognized top-level key is rejected outright; keys nested under
// controllers are not checked or logged, and are returned as-is in
// Controllers.
func ReadConfig(path string) (*ParticipantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			return nil, fmt.Errorf("config: unrecognized top-level key %q in %q", key, path)
		}
	}

	c := &ParticipantConfig{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: validating %q: %w", path, err)
	}

	log.Debugf("config: loaded participant %q from %s", c.Name, path)
	return c, nil
}
