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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/services/flow/datatypes"
)

var (
	sessionWorkflow string   // Workflow to start a session for
	sessionData     []string // key=value seed data pairs
	sessionJSON     bool     // Raw JSON output
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, drive, and inspect workflow sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and run the workflow to its first pause",
	Run:   runSessionCreate,
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <session-id> <message>",
	Short: "Answer a session that is awaiting input",
	Args:  cobra.ExactArgs(2),
	Run:   runSessionSend,
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show a session's status and conversation",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionGet,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions, newest first",
	Run:   runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its state",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionDelete,
}

func init() {
	sessionCreateCmd.Flags().StringVarP(&sessionWorkflow, "workflow", "w", "default",
		"Workflow id to start")
	sessionCreateCmd.Flags().StringArrayVarP(&sessionData, "data", "d", nil,
		"Seed data as key=value (repeatable)")
	sessionCmd.PersistentFlags().BoolVar(&sessionJSON, "json", false,
		"Output raw JSON for scripting")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionSendCmd)
	sessionCmd.AddCommand(sessionGetCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 120*time.Second)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// parseSeedData splits repeated key=value flags into a seed map.
func parseSeedData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --data %q (want key=value)", pair)
		}
		data[key] = value
	}
	return data, nil
}

func runSessionCreate(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	seed, err := parseSeedData(sessionData)
	if err != nil {
		fatal(err)
	}
	resp, err := newAPIClient().createSession(ctx, sessionWorkflow, seed)
	if err != nil {
		fatal(err)
	}
	printSession(resp)
}

func runSessionSend(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	resp, err := newAPIClient().sendMessage(ctx, args[0], args[1])
	if err != nil {
		fatal(err)
	}
	printSession(resp)
}

func runSessionGet(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	resp, err := newAPIClient().getSession(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	printSession(resp)
}

func runSessionList(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	resp, err := newAPIClient().listSessions(ctx)
	if err != nil {
		fatal(err)
	}
	if sessionJSON {
		printJSON(resp)
		return
	}
	if len(resp.Sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	for _, s := range resp.Sessions {
		fmt.Printf("%s  %s\n", s.SessionID, s.CreatedAt.Format(time.RFC3339))
	}
}

func runSessionDelete(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	if err := newAPIClient().deleteSession(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("deleted %s\n", args[0])
}

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fatal(err)
	}
}

func printSession(resp *datatypes.SessionResponse) {
	if sessionJSON {
		printJSON(resp)
		return
	}
	if resp.SessionID != "" {
		fmt.Printf("session: %s\n", resp.SessionID)
	}
	fmt.Printf("status:  %s\n", resp.Status)
	for _, msg := range resp.Messages {
		fmt.Printf("  [%s] %s\n", msg.Role, msg.Content)
	}
	if resp.AwaitingInput != nil {
		fmt.Printf("awaiting input: %s\n", resp.AwaitingInput.Prompt)
		if resp.AwaitingInput.Options != nil {
			raw, err := json.Marshal(resp.AwaitingInput.Options)
			if err == nil {
				fmt.Printf("options: %s\n", raw)
			}
		}
	}
}
