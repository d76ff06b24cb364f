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

// Command registry runs the participant-free broker: it flag-parses like
// cmd/ptp4u/main.go (package-level flag.Var/flag.StringVar, explicit exit
// codes, no cobra), since the registry is single-purpose.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/config"
	"github.com/silkit/ib/registry"
)

// exit codes.
const (
	exitOK          = 0
	exitConfigError = 2
	exitBindFailure = 3
)

// listenURIs is a repeatable --listen-uri flag, grounded on
// responder/server.MultiIPs's flag.Value implementation.
type listenURIs []string

func (l *listenURIs) String() string { return strings.Join(*l, ", ") }

func (l *listenURIs) Set(uri string) error {
	if uri == "" {
		return fmt.Errorf("empty --listen-uri")
	}
	*l = append(*l, uri)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		uris           listenURIs
		configFile     string
		name           string
		logLevel       string
		monitoringPort int
	)

	flag.Var(&uris, "listen-uri", "Transport URI to accept peer connections on (silkit://HOST:PORT or local://PATH). Repeat for multiple.")
	flag.StringVar(&configFile, "configuration", "", "Path to a participant-configuration document supplying additional listen URIs")
	flag.StringVar(&name, "name", "Registry", "Name the registry identifies itself as in logs")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.IntVar(&monitoringPort, "monitoringport", 0, "Port to run the JSON counters endpoint on (0 disables it)")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Errorf("registry: unrecognized log level %q", logLevel)
		return exitConfigError
	}

	if configFile != "" {
		cfg, err := config.ReadConfig(configFile)
		if err != nil {
			log.Errorf("registry: %v", err)
			return exitConfigError
		}
		if cfg.Name != "" {
			name = cfg.Name
		}
		uris = append(uris, cfg.ListenURIs...)
	}

	if len(uris) == 0 {
		log.Error("registry: at least one --listen-uri (or a configuration file supplying listenUris) is required")
		return exitConfigError
	}

	r := registry.New(name)

	if err := r.Listen(uris...); err != nil {
		log.Errorf("registry: failed to bind: %v", err)
		return exitBindFailure
	}
	log.Infof("registry[%s]: listening on %s", name, uris.String())

	if monitoringPort > 0 {
		go r.Metrics().Start(monitoringPort)
	}

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGTERM)
	<-sigStop

	log.Info("registry: shutting down")
	r.Shutdown()
	return exitOK
}
