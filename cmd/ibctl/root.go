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

// Package main implements ibctl, an inspection CLI for a running bus: it
// joins as a throwaway participant to list connected peers and fetches a
// participant's or registry's JSON counters endpoint. Structured like
// cmd/ptpcheck/cmd (a cobra RootCmd with subcommands registered from their
// own files via init()), not like cmd/registry (which is single-purpose and
// flag-only).
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is ibctl's entry point. Exported so ibctl could be extended with
// additional subcommands without touching the ones defined here.
var RootCmd = &cobra.Command{
	Use:   "ibctl",
	Short: "Inspection CLI for a running Integration Bus mesh",
}

var rootVerboseFlag bool

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Every
// subcommand's Run calls this first.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute is the main entry point for the CLI.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
