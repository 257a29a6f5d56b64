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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
)

// =============================================================================
// Result Rendering
// =============================================================================

var (
	outcomeStyles = map[orchestrate.Outcome]lipgloss.Style{
		orchestrate.OutcomeExecuted:       lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		orchestrate.OutcomeDryRun:         lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		orchestrate.OutcomeNeedsConfirm:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		orchestrate.OutcomeDisambiguation: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		orchestrate.OutcomeBlocked:        lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		orchestrate.OutcomeError:          lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}

	callStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	suggestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// styled reports whether output should carry ANSI styling.
func styled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

func render(style lipgloss.Style, s string) string {
	if !styled() {
		return s
	}
	return style.Render(s)
}

// renderResult formats a terminal pipeline result for the console.
func renderResult(res orchestrate.Result) string {
	if jsonOutput {
		raw, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Sprintf("encode result: %v", err)
		}
		return string(raw)
	}

	var b strings.Builder
	style, ok := outcomeStyles[res.Outcome]
	if !ok {
		style = lipgloss.NewStyle()
	}
	b.WriteString(render(style, strings.ToUpper(string(res.Outcome))))
	if res.Method != "" {
		b.WriteString("  ")
		b.WriteString(render(callStyle, res.Method+" "+res.Path))
	}
	b.WriteString("\n")

	if res.Message != "" {
		b.WriteString(res.Message)
		b.WriteString("\n")
	}
	if len(res.Data) > 0 {
		raw, err := json.MarshalIndent(res.Data, "", "  ")
		if err == nil {
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	if res.Insights != nil {
		b.WriteString(renderInsights(res))
	}
	if res.Suggestions != "" {
		b.WriteString(render(suggestStyle, "→ "+res.Suggestions))
		b.WriteString("\n")
	}
	return b.String()
}

func renderInsights(res orchestrate.Result) string {
	ins := res.Insights
	var parts []string
	if ins.HasLast {
		parts = append(parts, fmt.Sprintf("last %.4g", ins.LastPrice))
	}
	if ins.HasSpread {
		parts = append(parts, fmt.Sprintf("spread %.4g (%.1f bps)", ins.Spread, ins.SpreadBps))
	}
	if ins.HasImpact {
		parts = append(parts, fmt.Sprintf("impact %.4g", ins.ImpactPrice))
	}
	if len(parts) == 0 {
		return ""
	}
	return render(suggestStyle, ins.Symbol+": "+strings.Join(parts, ", ")) + "\n"
}

// renderStage formats one pipeline stage progress line.
func renderStage(stage string, ms float64) string {
	return render(stageStyle, fmt.Sprintf("  · %s (%.1fms)", stage, ms))
}
