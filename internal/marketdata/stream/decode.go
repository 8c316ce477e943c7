package stream

import (
	"encoding/json"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// envelope is the combined-stream wrapper: {"stream":"btcusdt@kline_1m","data":{...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses one websocket message into a bar event. Messages that are not
// kline events (subscription acks, other event types) return ok=false with a
// nil error. Malformed klines return an error.
func Decode(raw []byte) (model.BarEvent, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.BarEvent{}, false, fmt.Errorf("stream: decode envelope: %w", err)
	}
	payload := raw
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var ev binance.WsKlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.BarEvent{}, false, fmt.Errorf("stream: decode kline: %w", err)
	}
	if ev.Event != "kline" {
		return model.BarEvent{}, false, nil
	}
	return ParseKline(ev.Kline)
}

// ParseKline converts an exchange kline into a bar event.
func ParseKline(k binance.WsKline) (model.BarEvent, bool, error) {
	tf := model.Timeframe(k.Interval)
	if !tf.Valid() {
		return model.BarEvent{}, false, fmt.Errorf("stream: unsupported interval %q", k.Interval)
	}
	symbol := model.NormalizeSymbol(k.Symbol)
	if symbol == "" {
		return model.BarEvent{}, false, fmt.Errorf("stream: kline without symbol")
	}

	var fields [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.BarEvent{}, false, fmt.Errorf("stream: parse %s %s: %w", symbol, tf, err)
		}
		fields[i] = d.InexactFloat64()
	}

	return model.BarEvent{
		Symbol:    symbol,
		Timeframe: tf,
		Bar: model.Bar{
			Timestamp: k.StartTime,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
			Closed:    k.IsFinal,
		},
	}, true, nil
}
