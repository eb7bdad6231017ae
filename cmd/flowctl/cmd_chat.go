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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

var chatWorkflow string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a workflow interactively on stdin",
	Long: `Creates a session and loops: whenever the workflow pauses for
input, reads a line from stdin and submits it. Ends when the workflow
completes or stdin closes.`,
	Run: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatWorkflow, "workflow", "w", "default",
		"Workflow id to chat with")
}

func runChat(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	client := newAPIClient()

	resp, err := client.createSession(ctx, chatWorkflow, nil)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("session %s\n", resp.SessionID)
	sessionID := resp.SessionID
	printed := printNewMessages(resp.Messages, 0)

	reader := bufio.NewReader(os.Stdin)
	for resp.Status == "awaiting_input" {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
		resp, err = client.sendMessage(sendCtx, sessionID, line)
		cancel()
		if err != nil {
			fatal(err)
		}
		printed = printNewMessages(resp.Messages, printed)
	}
	fmt.Printf("workflow %s\n", resp.Status)
}

// printNewMessages prints messages beyond the already-printed prefix and
// returns the new high-water mark.
func printNewMessages(messages []state.Message, printed int) int {
	for _, msg := range messages[min(printed, len(messages)):] {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
	if len(messages) > printed {
		return len(messages)
	}
	return printed
}
