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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/loader"
)

var workflowDataDir string

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflow definitions",
}

// workflowLoadCmd writes straight into the store, bypassing the service.
// Use it for seeding a data directory before first start; a running
// service picks up changes through its own directory watcher instead.
var workflowLoadCmd = &cobra.Command{
	Use:   "load <file.json> [more files...]",
	Short: "Import workflow definition files into the store",
	Args:  cobra.MinimumNArgs(1),
	Run:   runWorkflowLoad,
}

func init() {
	workflowLoadCmd.Flags().StringVar(&workflowDataDir, "data-dir", "./data/flow",
		"Badger data directory of the flow store")
	workflowCmd.AddCommand(workflowLoadCmd)
}

func runWorkflowLoad(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := graph.OpenBadger(graph.DefaultBadgerConfig(workflowDataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	for _, path := range args {
		def, err := loader.Load(ctx, store, path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("loaded %s (%d steps, %d edges)\n", def.ID, len(def.Steps), len(def.Edges))
	}
}
