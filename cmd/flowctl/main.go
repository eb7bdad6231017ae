// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Client for the AleutianFlow workflow engine",
	Long: `flowctl talks to a running flow service over its HTTP API.

Examples:
  flowctl session create --workflow default
  flowctl session send 4f1c… "my answer"
  flowctl session list
  flowctl workflow load ./workflows/support.json
  flowctl chat --workflow default`,
}

func init() {
	defaultServer := os.Getenv("FLOW_SERVER_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:12230"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"Base URL of the flow service (env FLOW_SERVER_URL)")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
