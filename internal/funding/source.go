// Package funding fetches perpetual funding rates as percentages and caches
// them in the candle store on a fixed interval.
package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/willkaufman/scalp-trader-sui/internal/breaker"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Source returns the current funding rate (percent) for an asset such as "SUI".
// A source with nothing to report returns None without error.
type Source interface {
	Name() string
	FundingRate(ctx context.Context, asset string) (mo.Option[float64], error)
}

// DefaultCoinglassURL is the Coinglass public API root.
const DefaultCoinglassURL = "https://open-api.coinglass.com"

// CoinglassSource reads funding rates from Coinglass, preferring the Binance
// exchange row and otherwise the first row returned.
type CoinglassSource struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewCoinglassSource creates a Coinglass source. An empty baseURL uses DefaultCoinglassURL.
func NewCoinglassSource(apiKey, baseURL string) *CoinglassSource {
	if baseURL == "" {
		baseURL = DefaultCoinglassURL
	}
	return &CoinglassSource{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *CoinglassSource) Name() string { return "coinglass" }

type coinglassFundingRow struct {
	ExchangeName string              `json:"exchangeName"`
	FundingRate  decimal.NullDecimal `json:"fundingRate"`
}

type coinglassFundingResponse struct {
	Success bool                  `json:"success"`
	Data    []coinglassFundingRow `json:"data"`
}

func (c *CoinglassSource) FundingRate(ctx context.Context, asset string) (mo.Option[float64], error) {
	none := mo.None[float64]()
	if c.apiKey == "" {
		return none, nil
	}

	u := c.baseURL + "/public/v2/funding?" + url.Values{"symbol": {model.NormalizeSymbol(asset)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return none, fmt.Errorf("coinglass: create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("coinglassSecret", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return none, fmt.Errorf("coinglass: funding %s: %w", asset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return none, fmt.Errorf("coinglass: funding %s: unexpected status %d", asset, resp.StatusCode)
	}

	var body coinglassFundingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return none, fmt.Errorf("coinglass: decode funding %s: %w", asset, err)
	}
	if !body.Success || len(body.Data) == 0 {
		return none, nil
	}

	row, ok := lo.Find(body.Data, func(r coinglassFundingRow) bool {
		return r.ExchangeName == "Binance" && r.FundingRate.Valid
	})
	if !ok {
		row = body.Data[0]
	}
	if !row.FundingRate.Valid {
		return none, nil
	}
	return mo.Some(row.FundingRate.Decimal.InexactFloat64()), nil
}

// BinanceSource reads lastFundingRate from the USD-M futures premium index.
// Binance reports a fraction (0.0001); the source converts it to percent.
type BinanceSource struct {
	cli   *futures.Client
	quote string
}

// NewBinanceSource creates a Binance futures source for asset+quote pairs.
func NewBinanceSource(cli *futures.Client, quote string) *BinanceSource {
	return &BinanceSource{cli: cli, quote: quote}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) FundingRate(ctx context.Context, asset string) (mo.Option[float64], error) {
	none := mo.None[float64]()
	pair := model.Pair(asset, b.quote)

	res, err := b.cli.NewPremiumIndexService().Symbol(pair).Do(ctx)
	if err != nil {
		return none, fmt.Errorf("binance: premium index %s: %w", pair, err)
	}
	idx, ok := lo.Find(res, func(p *futures.PremiumIndex) bool {
		return p != nil && p.Symbol == pair
	})
	if !ok || idx.LastFundingRate == "" {
		return none, nil
	}

	rate, err := decimal.NewFromString(idx.LastFundingRate)
	if err != nil {
		return none, fmt.Errorf("binance: parse funding %s: %w", pair, err)
	}
	return mo.Some(rate.Mul(decimal.NewFromInt(100)).InexactFloat64()), nil
}

// FallbackSource asks the primary first and falls back when it errors,
// returns nothing, or its breaker is open.
type FallbackSource struct {
	primary  Source
	fallback Source
	breaker  *breaker.Breaker
}

// NewFallbackSource pairs two sources. primary may be nil (fallback only);
// br may be nil (no breaker).
func NewFallbackSource(primary, fallback Source, br *breaker.Breaker) *FallbackSource {
	return &FallbackSource{primary: primary, fallback: fallback, breaker: br}
}

func (f *FallbackSource) Name() string {
	if f.primary == nil {
		return f.fallback.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *FallbackSource) FundingRate(ctx context.Context, asset string) (mo.Option[float64], error) {
	if f.primary != nil {
		var rate mo.Option[float64]
		call := func() error {
			var err error
			rate, err = f.primary.FundingRate(ctx, asset)
			return err
		}

		var err error
		if f.breaker != nil {
			err = f.breaker.Execute(call)
		} else {
			err = call()
		}
		if err == nil && rate.IsPresent() {
			return rate, nil
		}
		if ctx.Err() != nil {
			return mo.None[float64](), ctx.Err()
		}
		if err != nil && !errors.Is(err, breaker.ErrCircuitOpen) {
			slog.Debug("funding primary failed, using fallback", "asset", asset, "source", f.primary.Name(), "error", err)
		}
	}
	return f.fallback.FundingRate(ctx, asset)
}
