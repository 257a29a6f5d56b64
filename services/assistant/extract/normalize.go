// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Normalization
//
// Everything here is pure and clock-injectable via nowFunc so tests can pin
// "today". The broker API speaks TIME_FRAME_* enums and ISO8601 Z timestamps;
// users speak "дневные свечи за август 2025".
// =============================================================================

// nowFunc is swapped in tests.
var nowFunc = func() time.Time { return time.Now().UTC() }

const isoFormat = "2006-01-02T15:04:05Z"

// timeframeCues maps language cues to broker timeframe enums, checked in
// order: the first cue set with a hit wins, so "15 мин" is not swallowed by
// the "1m" check.
var timeframeCues = []struct {
	enum string
	cues []string
}{
	{"TIME_FRAME_M1", []string{"1m", "m1", "минутная", "минутные", "1 мин", "1‑мин"}},
	{"TIME_FRAME_M5", []string{"5m", "m5", "5 мин", "5‑мин"}},
	{"TIME_FRAME_M15", []string{"15m", "m15", "15 мин"}},
	{"TIME_FRAME_M30", []string{"30m", "m30", "30 мин"}},
	{"TIME_FRAME_H1", []string{"1h", "h1", "час", "часовой"}},
	{"TIME_FRAME_H4", []string{"4h", "h4", "4 часа", "4‑час"}},
	{"TIME_FRAME_D", []string{"d", "1d", "day", "днев", "дни"}},
	{"TIME_FRAME_W", []string{"w", "1w", "нед", "недел"}},
	{"TIME_FRAME_MN", []string{"mn", "mon", "месяц", "месячн"}},
}

// NormalizeTimeframe maps a natural timeframe phrase to the broker enum.
// Unrecognized input falls back to daily.
func NormalizeTimeframe(natural string) string {
	s := strings.ToLower(strings.TrimSpace(natural))
	for _, tf := range timeframeCues {
		for _, cue := range tf.cues {
			if cue != "" && strings.Contains(s, cue) {
				return tf.enum
			}
		}
	}
	return "TIME_FRAME_D"
}

var lastNDaysRe = regexp.MustCompile(`последние\s+(\d+)\s+дней`)

// NormalizeISO8601 normalizes common date inputs to ISO8601 Z.
//
// Accepts YYYY-MM-DD, YYYY/MM/DD, optional time suffixes, and the natural
// shortcuts "сегодня"/"today", "вчера"/"yesterday", "за неделю",
// "последние N дней". Unparseable input falls back to the current UTC day
// start, matching the lenient posture of the rest of the extractor.
func NormalizeISO8601(natural string) string {
	now := nowFunc()
	s := strings.TrimSpace(natural)
	nl := strings.ToLower(s)

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch nl {
	case "сегодня", "today":
		return dayStart.Format(isoFormat)
	case "вчера", "yesterday":
		return dayStart.AddDate(0, 0, -1).Format(isoFormat)
	case "неделя", "за неделю", "last week":
		return now.AddDate(0, 0, -7).Format(isoFormat)
	}
	if m := lastNDaysRe.FindStringSubmatch(nl); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return now.AddDate(0, 0, -n).Format(isoFormat)
		}
	}

	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"2006-01-02 15:04",
		"2006/01/02 15:04",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		time.RFC3339,
	}
	for _, f := range formats {
		if dt, err := time.Parse(f, s); err == nil {
			return dt.UTC().Format(isoFormat)
		}
	}
	return dayStart.Format(isoFormat)
}

// InferMarketSymbol attaches the default market when missing:
// SBER -> SBER@MISX. Pure format enrichment; alias resolution is the
// SymbolResolver's job.
func InferMarketSymbol(symbolLike string) string {
	s := strings.TrimSpace(symbolLike)
	if s == "" || strings.Contains(s, "@") {
		return s
	}
	return s + "@MISX"
}

// ruMonths maps Russian month stems to month numbers. Stems, not full words,
// so case endings ("августа", "августе") all match.
var ruMonths = []struct {
	stem  string
	month time.Month
}{
	{"январ", time.January},
	{"феврал", time.February},
	{"март", time.March},
	{"апрел", time.April},
	{"мая", time.May},
	{"май", time.May},
	{"июн", time.June},
	{"июл", time.July},
	{"август", time.August},
	{"сентябр", time.September},
	{"октябр", time.October},
	{"ноябр", time.November},
	{"декабр", time.December},
}

var ruMonthYearRe = regexp.MustCompile(
	`(январ|феврал|март|апрел|мая|май|июн|июл|август|сентябр|октябр|ноябр|декабр)\S*\s+(\d{4})`)

// ParseDateRange parses Russian natural period phrases into an ISO8601
// start/end pair.
//
// Handles "последнюю неделю", "за последний квартал", "за полгода", and
// month-plus-year forms like "август 2025". Returns ok=false when no period
// phrase is present.
func ParseDateRange(naturalText string) (start, end string, ok bool) {
	if naturalText == "" {
		return "", "", false
	}
	text := strings.ToLower(naturalText)
	now := nowFunc()

	if strings.Contains(text, "последн") && strings.Contains(text, "недел") {
		s := now.AddDate(0, 0, -7)
		s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
		return s.Format(isoFormat), now.Format(isoFormat), true
	}

	if strings.Contains(text, "последн") && strings.Contains(text, "квартал") {
		q := (int(now.Month()) - 1) / 3 // previous quarter, 0 wraps to Q4 of last year
		year := now.Year()
		if q == 0 {
			q = 4
			year--
		}
		s, e := quarterBounds(year, q)
		return s.Format(isoFormat), e.Format(isoFormat), true
	}

	if strings.Contains(text, "полгод") || strings.Contains(text, "пол-года") {
		s := now.AddDate(0, 0, -182)
		s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
		return s.Format(isoFormat), now.Format(isoFormat), true
	}

	if m := ruMonthYearRe.FindStringSubmatch(text); m != nil {
		year, err := strconv.Atoi(m[2])
		if err == nil {
			for _, rm := range ruMonths {
				if rm.stem == m[1] {
					s := time.Date(year, rm.month, 1, 0, 0, 0, 0, time.UTC)
					return s.Format(isoFormat), endOfMonth(year, rm.month).Format(isoFormat), true
				}
			}
		}
	}

	return "", "", false
}

func endOfMonth(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, 0).Add(-time.Second)
}

func quarterBounds(year, q int) (time.Time, time.Time) {
	startMonth := time.Month(3*(q-1) + 1)
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	return start, endOfMonth(year, startMonth+2)
}
