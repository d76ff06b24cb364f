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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var countersURLFlag string

func init() {
	RootCmd.AddCommand(countersCmd)
	countersCmd.Flags().StringVar(&countersURLFlag, "url", "", "URL of a running participant's or registry's /counters JSON endpoint (see internal/metrics.Registry.Start)")
	if err := countersCmd.MarkFlagRequired("url"); err != nil {
		log.Fatal(err)
	}
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Fetch and print a participant's or registry's JSON counters endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := runCounters(); err != nil {
			log.Fatal(err)
		}
	},
}

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

func runCounters() error {
	counters, err := fetchCounters(countersURLFlag)
	if err != nil {
		return fmt.Errorf("ibctl: fetching %q: %w", countersURLFlag, err)
	}

	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"counter", "value"})
	for _, k := range keys {
		v := counters[k]
		value := fmt.Sprintf("%d", v)
		if v > 0 {
			value = color.GreenString(value)
		}
		table.Append([]string{k, value})
	}
	table.Render()

	return nil
}
