// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command finamchat is the terminal client for the assistant server.
//
// Usage:
//
//	finamchat ask "какая цена SBER@MISX"
//	finamchat ask --execute "отмени заявку ORD123 на счёте A100"
//	finamchat chat
//	finamchat audit --limit 20
//	finamchat catalog
//	finamchat catalog generate collection.json catalog.yaml
//
// The server address comes from --server or FINAMCHAT_SERVER_URL and
// defaults to http://localhost:8080.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Flag values shared across subcommands.
var (
	serverURL  string
	accountID  string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finamchat",
		Short: "Natural-language terminal client for the Finam TradeAPI assistant",
		Long: "finamchat maps free-text trading questions onto Finam TradeAPI calls\n" +
			"through the assistant server. All execution is dry-run by default;\n" +
			"pass --execute to place real calls (writes still need confirmation).",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Assistant server URL (default FINAMCHAT_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&accountID, "account", "", "Account ID for {account_id} placeholders")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON instead of styled output")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand,
	}
	askCmd.Flags().Bool("execute", false, "Execute for real instead of the default dry run")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with live pipeline stage progress",
		RunE:  runChatCommand,
	}
	chatCmd.Flags().Bool("execute", false, "Execute for real instead of the default dry run")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent safety and execution audit records",
		RunE:  runAuditCommand,
	}
	auditCmd.Flags().Int("limit", 20, "Maximum records to show")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the endpoint catalog",
		RunE:  runCatalogCommand,
	}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "generate [collection.json] [catalog.yaml]",
		Short: "Convert a Postman collection into catalog YAML",
		Args:  cobra.ExactArgs(2),
		RunE:  runCatalogGenerateCommand,
	})

	rootCmd.AddCommand(askCmd, chatCmd, auditCmd, catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
