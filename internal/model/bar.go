package model

import (
	"strings"
	"time"
)

// Timeframe is a bar interval in exchange notation ("1m", "15m").
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF15m Timeframe = "15m"
)

// Timeframes lists every interval the store keeps a rolling series for.
var Timeframes = []Timeframe{TF1m, TF15m}

func (tf Timeframe) String() string { return string(tf) }

// Valid reports whether tf is one of the stored timeframes.
func (tf Timeframe) Valid() bool {
	return tf == TF1m || tf == TF15m
}

// Bar is an OHLCV record for one interval.
// Timestamp is the interval start in Unix milliseconds.
// A closed bar is immutable; an open bar is a snapshot that gets replaced wholesale.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Closed    bool    `json:"closed"`
}

// Time returns the interval start as a UTC time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// BarEvent is a bar update for one (symbol, timeframe) key.
type BarEvent struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Bar       Bar       `json:"bar"`
}

// Key returns "SYMBOL_tf", the last-update key used by the store.
func (e BarEvent) Key() string {
	return SeriesKey(e.Symbol, e.Timeframe)
}

// NormalizeSymbol upper-cases and trims a symbol. Every boundary that accepts
// a symbol runs it through here.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Pair joins an asset and a quote currency into an exchange pair, e.g. SUI+USDT -> SUIUSDT.
func Pair(asset, quote string) string {
	return NormalizeSymbol(asset) + NormalizeSymbol(quote)
}

// SeriesKey returns the last-update key for a (symbol, timeframe) series.
func SeriesKey(symbol string, tf Timeframe) string {
	return NormalizeSymbol(symbol) + "_" + string(tf)
}

// FundingKey returns the last-update key for a symbol's funding rate.
func FundingKey(symbol string) string {
	return NormalizeSymbol(symbol) + "_funding"
}
