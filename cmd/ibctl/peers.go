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

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/silkit/ib/participant"
	"github.com/silkit/ib/transport"
)

var (
	peersRegistryFlag string
	peersNameFlag     string
	peersWaitFlag     time.Duration
)

func init() {
	RootCmd.AddCommand(peersCmd)
	peersCmd.Flags().StringVar(&peersRegistryFlag, "registry", "", "Registry URI to join as a throwaway participant (silkit://HOST:PORT or local://PATH)")
	peersCmd.Flags().StringVar(&peersNameFlag, "name", "ibctl", "Participant name this throwaway inspector joins under")
	peersCmd.Flags().DurationVar(&peersWaitFlag, "wait", 500*time.Millisecond, "How long to wait for the mesh handshake to settle before listing peers")
	if err := peersCmd.MarkFlagRequired("registry"); err != nil {
		log.Fatal(err)
	}
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List every peer visible from a registry, by joining as a throwaway participant",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := runPeers(); err != nil {
			log.Fatal(err)
		}
	},
}

func aggregationString(mode transport.AggregationMode) string {
	switch mode {
	case transport.AggregationOff:
		return "Off"
	case transport.AggregationOn:
		return "On"
	case transport.AggregationAuto:
		return "Auto"
	default:
		return "Unknown"
	}
}

func runPeers() error {
	p, err := participant.New(participant.Config{Name: peersNameFlag})
	if err != nil {
		return fmt.Errorf("ibctl: constructing inspector participant: %w", err)
	}
	if err := p.Join(peersRegistryFlag); err != nil {
		return fmt.Errorf("ibctl: joining %q: %w", peersRegistryFlag, err)
	}

	time.Sleep(peersWaitFlag)

	peers := p.Peers()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"name", "id", "aggregation", "acceptor uris"})
	for _, peer := range peers {
		table.Append([]string{
			peer.ParticipantName,
			fmt.Sprintf("%d", peer.ParticipantID),
			aggregationString(peer.Aggregation),
			strings.Join(peer.Info.AcceptorURIs, ", "),
		})
	}
	table.Render()

	fmt.Println(color.GreenString("%d peer(s) connected", len(peers)))
	return nil
}
