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
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/silkit/ib/participant"
	"github.com/silkit/ib/wire"
)

var (
	stateRegistryFlag string
	stateNameFlag     string
	stateRequiredFlag []string
	stateWaitFlag     time.Duration
)

func init() {
	RootCmd.AddCommand(stateCmd)
	stateCmd.Flags().StringVar(&stateRegistryFlag, "registry", "", "Registry URI to join as a throwaway participant (silkit://HOST:PORT or local://PATH)")
	stateCmd.Flags().StringVar(&stateNameFlag, "name", "ibctl", "Participant name this throwaway inspector joins under")
	stateCmd.Flags().StringSliceVar(&stateRequiredFlag, "required", nil, "Participant names to aggregate system state over, comma-separated")
	stateCmd.Flags().DurationVar(&stateWaitFlag, "wait", 2*time.Second, "How long to wait for a ParticipantStatus from every required participant")
	if err := stateCmd.MarkFlagRequired("registry"); err != nil {
		log.Fatal(err)
	}
	if err := stateCmd.MarkFlagRequired("required"); err != nil {
		log.Fatal(err)
	}
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Join as a throwaway participant and report the aggregated system state over a required set",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := runState(); err != nil {
			log.Fatal(err)
		}
	},
}

// colorState renders a ParticipantState the way diag.go colors OK/WARN/FAIL:
// Running, ReadyToRun, Stopped and Shutdown are green, Error/Aborting is red,
// every other state is yellow.
func colorState(s wire.ParticipantState) string {
	switch s {
	case wire.ParticipantStateRunning, wire.ParticipantStateReadyToRun, wire.ParticipantStateStopped, wire.ParticipantStateShutdown:
		return color.GreenString(s.String())
	case wire.ParticipantStateError, wire.ParticipantStateAborting:
		return color.RedString(s.String())
	default:
		return color.YellowString(s.String())
	}
}

func runState() error {
	p, err := participant.New(participant.Config{
		Name:                 stateNameFlag,
		RequiredParticipants: stateRequiredFlag,
	})
	if err != nil {
		return fmt.Errorf("ibctl: constructing inspector participant: %w", err)
	}
	if err := p.Join(stateRegistryFlag); err != nil {
		return fmt.Errorf("ibctl: joining %q: %w", stateRegistryFlag, err)
	}

	p.WaitUntilReady(stateWaitFlag, stateRequiredFlag)
	time.Sleep(stateWaitFlag)

	state := p.SystemState().State()
	fmt.Printf("system state: %s\n", colorState(state))
	return nil
}
