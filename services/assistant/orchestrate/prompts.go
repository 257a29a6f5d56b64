// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

// =============================================================================
// Prompt Builders
//
// Every endpoint fact in these prompts is derived from the live registry.
// Hardcoding an endpoint list here would fork the source of truth and rot
// the moment the catalog changes.
// =============================================================================

// MappingSystemPrompt frames the model as a strict NL→endpoint router.
func MappingSystemPrompt() string {
	return "Ты — маршрутизатор Finam TradeAPI. На вход — вопрос на русском. На выход — строго METHOD и PATH.\n" +
		"Используй только перечисленные endpoint’ы. Не выдумывай параметры. Если не хватает данных — укажи плейсхолдер {slot} в пути.\n" +
		"Формат ответа: 'GET /v1/...', 'POST /v1/...' или 'DELETE /v1/...'.\n\n" +
		"Правила маппинга (важно):\n" +
		"- Если в тексте есть шаблон ORD123456 → 'DELETE /v1/accounts/{account_id}/orders/{order_id}'.\n" +
		"- 'опцион'/'цепочка опционов' → '/v1/assets/{symbol}/options'.\n" +
		"- 'расписан'/'клиринг' → '/v1/assets/{symbol}/schedule'.\n" +
		"- 'параметр'/'лот'/'шаг цен'/'ГО'/'ставка риск' → '/v1/assets/{symbol}/params' (+ '?account_id=...' если указан счёт).\n" +
		"- 'когда истекает фьючерс' → '/v1/assets/{symbol}' (информация об инструменте).\n" +
		"- 'история сделок по счёту' → '/v1/accounts/{account_id}/trades' с query 'interval.start_time'/'interval.end_time'.\n" +
		"- 'лента/последние сделки по инструменту' → '/v1/instruments/{symbol}/trades/latest'.\n" +
		"- Свечи '/v1/instruments/{symbol}/bars': timeframe=TIME_FRAME_*, даты только как 'interval.start_time'/'interval.end_time'. Не используйте ключи 'start'/'end'.\n" +
		"- Тикер: используй ровно тот ticker из вопроса (например 'SBER@MISX'). Если в вопросе только имя, возьми из Known symbols. Не подставляй ISIN/синонимы или другие рынки.\n"
}

// EndpointsSpec renders the catalog as model-readable API documentation:
// one line per endpoint plus a slot table where the endpoint has slots.
func EndpointsSpec(reg *registry.Registry) string {
	lines := []string{"API Documentation:"}
	for _, item := range reg.Items() {
		lines = append(lines, fmt.Sprintf("- %s %s", item.Method, item.Path))

		slots := map[string]bool{} // name -> required
		for _, name := range FindPlaceholders(item.Path) {
			slots[strings.TrimSuffix(name, "?")] = true
		}
		for _, pname := range item.Params.Names() {
			tmpl, _ := item.Params.Get(pname)
			for _, name := range FindPlaceholders(strings.ReplaceAll(tmpl, "?}", "}")) {
				required := strings.Contains(tmpl, "{"+name+"}") && !strings.HasSuffix(tmpl, "?}")
				if !slots[name] {
					slots[name] = required
				}
			}
		}
		if len(slots) == 0 {
			continue
		}

		names := make([]string, 0, len(slots))
		for name := range slots {
			names = append(names, name)
		}
		sort.Strings(names)
		lines = append(lines, "    slot | required | type", "    ---- | -------- | ----")
		for _, name := range names {
			required := "no"
			if slots[name] {
				required = "yes"
			}
			stype := item.SlotTypes[name]
			if stype == "" {
				stype = "string"
			}
			lines = append(lines, fmt.Sprintf("    %s | %s | %s", name, required, stype))
		}
	}

	lines = append(lines,
		"\nTimeframes: TIME_FRAME_M1, TIME_FRAME_M5, TIME_FRAME_M15, TIME_FRAME_M30, TIME_FRAME_H1, TIME_FRAME_H4, TIME_FRAME_D, TIME_FRAME_W, TIME_FRAME_MN",
		"\nЕсли символ не указан — выбери из списка известных символов ниже или укажи плейсхолдер {symbol}.",
	)
	return strings.Join(lines, "\n")
}

// symbolsLimit caps the known-symbols block so a large universe cannot
// crowd the rest of the prompt out of the context window.
const symbolsLimit = 100

// SymbolsSpec renders a deduplicated known-symbols block, or "" when there
// is nothing to show.
func SymbolsSpec(symbols []string) string {
	uniq := make([]string, 0, len(symbols))
	seen := map[string]bool{}
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		uniq = append(uniq, s)
		if len(uniq) >= symbolsLimit {
			break
		}
	}
	if len(uniq) == 0 {
		return ""
	}
	return "\nKnown symbols (use if relevant):\n- " + strings.Join(uniq, ", ")
}

// FewShotExample is one question→call pair for the few-shot block.
type FewShotExample struct {
	Question string
	Method   string
	Request  string
}

// FewShot renders examples in the question/answer format the mapping prompt
// declares.
func FewShot(examples []FewShotExample) string {
	var b strings.Builder
	for _, ex := range examples {
		fmt.Fprintf(&b, "Вопрос: %q\n", ex.Question)
		fmt.Fprintf(&b, "Ответ: %s %s\n\n", ex.Method, ex.Request)
	}
	return b.String()
}

// DisambiguationPrompt asks the user for exactly the missing slot values.
func DisambiguationPrompt(missing []string) string {
	return fmt.Sprintf(
		"Не хватает данных для выполнения запроса. Уточните, пожалуйста: %s. Ответьте кратко, только недостающие значения.",
		strings.Join(missing, ", "),
	)
}
