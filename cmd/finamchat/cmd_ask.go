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
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

func runAskCommand(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	execute, _ := cmd.Flags().GetBool("execute")
	dryRun := !execute

	client := newAPIClient()
	payload := askPayload{Question: question, AccountID: accountID, DryRun: &dryRun}

	res, err := client.ask(cmd.Context(), payload)
	if err != nil {
		return err
	}

	// A write operation stops at the confirm gate; re-send with the user's
	// explicit approval when running interactively.
	if res.Outcome == orchestrate.OutcomeNeedsConfirm {
		approved, err := confirmOperation(res)
		if err != nil {
			return err
		}
		if !approved {
			fmt.Println("Отменено.")
			return nil
		}
		payload.Confirm = true
		res, err = client.ask(cmd.Context(), payload)
		if err != nil {
			return err
		}
	}

	fmt.Print(renderResult(res))
	return nil
}

// confirmOperation asks the user to approve a gated write. Non-interactive
// runs never auto-approve: the caller has to re-run with a TTY.
func confirmOperation(res orchestrate.Result) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Print(renderResult(res))
		return false, fmt.Errorf("confirmation required but stdin is not a terminal")
	}

	var approved bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Подтвердить операцию?").
			Description(res.Method + " " + res.Path + "\n" + res.Message).
			Affirmative("Да, выполнить").
			Negative("Нет").
			Value(&approved),
	))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirmation form: %w", err)
	}
	return approved, nil
}

func runAuditCommand(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	client := newAPIClient()

	records, err := client.audit(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("Журнал пуст.")
		return nil
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-13s %-6s %s",
			rec.Time.Format("2006-01-02 15:04:05"), rec.Decision, rec.Method, rec.Path)
		if len(rec.Reasons) > 0 {
			line += "  [" + strings.Join(rec.Reasons, "; ") + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runCatalogCommand(cmd *cobra.Command, _ []string) error {
	client := newAPIClient()
	resp, err := client.catalog(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%d intents\n", resp.Count)
	for _, e := range resp.Intents {
		line := fmt.Sprintf("%-16s %-6s %s", e.Intent, e.Method, e.Path)
		if len(e.RequiredSlots) > 0 {
			line += "  (" + strings.Join(e.RequiredSlots, ", ") + ")"
		}
		fmt.Println(line)
	}
	return nil
}

// runCatalogGenerateCommand converts a Postman collection locally, without
// a server round-trip.
func runCatalogGenerateCommand(_ *cobra.Command, args []string) error {
	n, err := registry.GenerateCatalogFile(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println("Written " + strconv.Itoa(n) + " definitions to " + args[1])
	return nil
}
