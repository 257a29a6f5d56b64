// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract turns free-form user text (Russian or English) into typed
// structured requests the registry can resolve. The deterministic extractor
// runs first; the model-assisted fallback covers what the heuristics miss.
package extract

import (
	"strconv"

	"github.com/google/uuid"
)

// =============================================================================
// Typed Requests
//
// One type per catalog intent family, each implementing registry.Request.
// Fields() omits absent slots entirely so optional query placeholders are
// dropped rather than sent empty.
// =============================================================================

// QuoteRequest asks for the latest quote of one instrument.
type QuoteRequest struct {
	Symbol string
}

func (r QuoteRequest) Intent() string            { return "quote" }
func (r QuoteRequest) Fields() map[string]string { return map[string]string{"symbol": r.Symbol} }
func (r QuoteRequest) Body() map[string]any      { return nil }

// OrderbookRequest asks for the order book of one instrument.
type OrderbookRequest struct {
	Symbol string
	Depth  int // 0 means server default
}

func (r OrderbookRequest) Intent() string { return "orderbook" }
func (r OrderbookRequest) Fields() map[string]string {
	f := map[string]string{"symbol": r.Symbol}
	if r.Depth > 0 {
		f["depth"] = strconv.Itoa(r.Depth)
	}
	return f
}
func (r OrderbookRequest) Body() map[string]any { return nil }

// BarsRequest asks for historical candles.
type BarsRequest struct {
	Symbol    string
	Timeframe string
	Start     string // ISO8601, empty when unset
	End       string
}

func (r BarsRequest) Intent() string { return "bars" }
func (r BarsRequest) Fields() map[string]string {
	f := map[string]string{"symbol": r.Symbol, "timeframe": r.Timeframe}
	if r.Start != "" {
		f["start"] = r.Start
	}
	if r.End != "" {
		f["end"] = r.End
	}
	return f
}
func (r BarsRequest) Body() map[string]any { return nil }

// TradesLatestRequest asks for the anonymized trade tape of one instrument.
type TradesLatestRequest struct {
	Symbol string
}

func (r TradesLatestRequest) Intent() string { return "trades_latest" }
func (r TradesLatestRequest) Fields() map[string]string {
	return map[string]string{"symbol": r.Symbol}
}
func (r TradesLatestRequest) Body() map[string]any { return nil }

// AccountRequest asks for account state (balance, positions).
type AccountRequest struct {
	AccountID string
}

func (r AccountRequest) Intent() string { return "account" }
func (r AccountRequest) Fields() map[string]string {
	return map[string]string{"account_id": r.AccountID}
}
func (r AccountRequest) Body() map[string]any { return nil }

// OrdersListRequest asks for the account's orders.
type OrdersListRequest struct {
	AccountID string
}

func (r OrdersListRequest) Intent() string { return "orders_list" }
func (r OrdersListRequest) Fields() map[string]string {
	return map[string]string{"account_id": r.AccountID}
}
func (r OrdersListRequest) Body() map[string]any { return nil }

// OrderSpec is the JSON body of an order placement, mirroring the broker's
// order schema. Zero-valued optional fields are omitted from the body.
type OrderSpec struct {
	Symbol      string
	Side        string // SIDE_BUY | SIDE_SELL
	Type        string // ORDER_TYPE_LIMIT | ORDER_TYPE_MARKET | ORDER_TYPE_STOP
	Quantity    int
	LimitPrice  float64
	StopPrice   float64
	TimeInForce string
}

// toBody renders the broker's wire shape. client_order_id is generated fresh
// per spec instance so broker-side dedup never collides across requests.
func (s OrderSpec) toBody() map[string]any {
	body := map[string]any{
		"symbol":          s.Symbol,
		"side":            s.Side,
		"type":            s.Type,
		"quantity":        map[string]any{"value": strconv.Itoa(s.Quantity)},
		"client_order_id": uuid.NewString(),
	}
	if s.LimitPrice != 0 {
		body["limit_price"] = map[string]any{"value": strconv.FormatFloat(s.LimitPrice, 'f', -1, 64)}
	}
	if s.StopPrice != 0 {
		body["stop_price"] = map[string]any{"value": strconv.FormatFloat(s.StopPrice, 'f', -1, 64)}
	}
	if s.TimeInForce != "" {
		body["time_in_force"] = s.TimeInForce
	}
	return body
}

// OrderCreateRequest places a new order.
type OrderCreateRequest struct {
	AccountID string
	Order     OrderSpec
}

func (r OrderCreateRequest) Intent() string { return "order_create" }
func (r OrderCreateRequest) Fields() map[string]string {
	return map[string]string{"account_id": r.AccountID}
}
func (r OrderCreateRequest) Body() map[string]any { return r.Order.toBody() }

// OrderGetRequest asks for one order's status.
type OrderGetRequest struct {
	AccountID string
	OrderID   string
}

func (r OrderGetRequest) Intent() string { return "order_get" }
func (r OrderGetRequest) Fields() map[string]string {
	return map[string]string{"account_id": r.AccountID, "order_id": r.OrderID}
}
func (r OrderGetRequest) Body() map[string]any { return nil }

// OrderCancelRequest cancels one order.
type OrderCancelRequest struct {
	AccountID string
	OrderID   string
}

func (r OrderCancelRequest) Intent() string { return "order_cancel" }
func (r OrderCancelRequest) Fields() map[string]string {
	return map[string]string{"account_id": r.AccountID, "order_id": r.OrderID}
}
func (r OrderCancelRequest) Body() map[string]any { return nil }

// TradesRequest asks for the account's executed trades in an interval.
type TradesRequest struct {
	AccountID string
	Start     string
	End       string
}

func (r TradesRequest) Intent() string { return "trades" }
func (r TradesRequest) Fields() map[string]string {
	f := map[string]string{"account_id": r.AccountID}
	if r.Start != "" {
		f["start"] = r.Start
	}
	if r.End != "" {
		f["end"] = r.End
	}
	return f
}
func (r TradesRequest) Body() map[string]any { return nil }

// TransactionsRequest asks for account money movements.
type TransactionsRequest struct {
	AccountID string
	Start     string
	End       string
	Limit     int
}

func (r TransactionsRequest) Intent() string { return "transactions" }
func (r TransactionsRequest) Fields() map[string]string {
	f := map[string]string{"account_id": r.AccountID}
	if r.Start != "" {
		f["start"] = r.Start
	}
	if r.End != "" {
		f["end"] = r.End
	}
	if r.Limit > 0 {
		f["limit"] = strconv.Itoa(r.Limit)
	}
	return f
}
func (r TransactionsRequest) Body() map[string]any { return nil }

// AssetRequest covers the asset reference intents that take only a symbol
// (asset_info, asset_schedule, asset_options) plus asset_params with its
// optional account.
type AssetRequest struct {
	IntentName string // asset_info | asset_params | asset_schedule | asset_options
	Symbol     string
	AccountID  string // asset_params only
}

func (r AssetRequest) Intent() string { return r.IntentName }
func (r AssetRequest) Fields() map[string]string {
	f := map[string]string{"symbol": r.Symbol}
	if r.AccountID != "" {
		f["account_id"] = r.AccountID
	}
	return f
}
func (r AssetRequest) Body() map[string]any { return nil }

// StaticRequest covers the parameterless intents: assets_list,
// exchanges_list, session_create, session_details, system_time.
type StaticRequest struct {
	IntentName string
}

func (r StaticRequest) Intent() string            { return r.IntentName }
func (r StaticRequest) Fields() map[string]string { return map[string]string{} }
func (r StaticRequest) Body() map[string]any      { return nil }
