// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import "strings"

// wideSpreadBps is where the spread stops being negotiable noise.
const wideSpreadBps = 20.0

// Suggest turns Insights into execution guidance for the user, in the
// product's language.
//
// Inputs:
//   - side: "buy", "sell", or "" when the intent is not an order.
func Suggest(in Insights, side string) string {
	var suggestions []string
	if in.HasSpread && in.SpreadBps > wideSpreadBps {
		suggestions = append(suggestions, "широкий спрэд → используйте лимит и избегайте рыночных, рассмотрите DAY/GTC")
	}
	if in.HasLast {
		switch side {
		case "buy":
			suggestions = append(suggestions, "для покупки рассмотрите лимит ниже текущей цены или дайте рынку стабилизироваться")
		case "sell":
			suggestions = append(suggestions, "для продажи используйте лимит ближе к лучшему бид для снижения импакта")
		}
	}
	if side == "buy" && in.BestAskSize > 0 {
		suggestions = append(suggestions, "лимит участия ≤ 20% от объёма на лучших ценах")
	}
	if side == "sell" && in.BestBidSize > 0 {
		suggestions = append(suggestions, "лимит участия ≤ 20% от объёма на лучших ценах")
	}
	suggestions = append(suggestions, "TIF: в тонкий рынок — DAY/GTC; при высокой ликвидности — IOC/FOK осторожно")
	return strings.Join(suggestions, "; ")
}

// SlicingProfile is a simplified execution schedule for a parent order.
type SlicingProfile struct {
	Profile  string    `json:"profile"`
	Steps    int       `json:"steps"`
	Schedule []float64 `json:"schedule"`
}

// Slicing splits notional into a 5-minute-step schedule.
//
// Description:
//
//	TWAP and VWAP both degrade to equal weights here; POV front-loads 40%
//	into the first step. Real volume-curve weighting needs intraday volume
//	history the assistant does not keep.
func Slicing(notional float64, durationMin int, profile string) SlicingProfile {
	profile = strings.ToUpper(profile)
	if profile == "" {
		profile = "TWAP"
	}
	steps := durationMin / 5
	if steps < 1 {
		steps = 1
	}

	weights := make([]float64, steps)
	if profile == "POV" && steps > 1 {
		weights[0] = 0.4
		rest := 0.6 / float64(steps-1)
		for i := 1; i < steps; i++ {
			weights[i] = rest
		}
	} else {
		for i := range weights {
			weights[i] = 1.0 / float64(steps)
		}
	}

	schedule := make([]float64, steps)
	for i, w := range weights {
		schedule[i] = w * notional
	}
	return SlicingProfile{Profile: profile, Steps: steps, Schedule: schedule}
}
