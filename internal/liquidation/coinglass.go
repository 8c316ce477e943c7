// Package liquidation polls the Coinglass liquidation heatmap and caches the
// latest snapshot per asset. It is optional: without an API key, or after a
// permission-denied response, it stays disabled and the signal pipeline skips
// liquidation annotations.
package liquidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// ErrPermissionDenied is returned when the API key's plan lacks heatmap access.
var ErrPermissionDenied = errors.New("liquidation: permission denied")

// DefaultBaseURL is the Coinglass public API root.
const DefaultBaseURL = "https://open-api.coinglass.com"

// CoinglassSource fetches one heatmap snapshot per call.
type CoinglassSource struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewCoinglassSource creates a source with a 15s request timeout.
func NewCoinglassSource(apiKey, baseURL string) *CoinglassSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &CoinglassSource{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

type heatmapLevel struct {
	Price               decimal.Decimal `json:"price"`
	LongLiquidationUSD  decimal.Decimal `json:"longLiquidationUsd"`
	ShortLiquidationUSD decimal.Decimal `json:"shortLiquidationUsd"`
}

type heatmapData struct {
	Price  decimal.Decimal `json:"price"`
	Levels []heatmapLevel  `json:"levels"`
}

type heatmapResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Fetch returns the asset's current heatmap. An unsuccessful or empty body is
// absence, not an error. HTTP 403 returns ErrPermissionDenied.
func (c *CoinglassSource) Fetch(ctx context.Context, asset string) (mo.Option[model.LiquidationData], error) {
	none := mo.None[model.LiquidationData]()
	asset = model.NormalizeSymbol(asset)

	u := c.baseURL + "/public/v2/liquidation_heatmap?" + url.Values{
		"symbol":   {asset},
		"interval": {"1h"},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return none, fmt.Errorf("liquidation: create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("coinglassSecret", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return none, fmt.Errorf("liquidation: fetch %s: %w", asset, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return none, ErrPermissionDenied
	case resp.StatusCode != http.StatusOK:
		return none, fmt.Errorf("liquidation: fetch %s: unexpected status %d", asset, resp.StatusCode)
	}

	var body heatmapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return none, fmt.Errorf("liquidation: decode %s: %w", asset, err)
	}
	if !body.Success || len(body.Data) == 0 || string(body.Data) == "null" {
		return none, nil
	}

	var data heatmapData
	if err := json.Unmarshal(body.Data, &data); err != nil {
		return none, fmt.Errorf("liquidation: decode %s data: %w", asset, err)
	}
	return parse(asset, data, c.now()), nil
}

// parse splits heatmap levels into short clusters above the current price and
// long clusters below it, each sorted nearest-first. A zero current price
// yields absence.
func parse(asset string, data heatmapData, at time.Time) mo.Option[model.LiquidationData] {
	price := data.Price.InexactFloat64()
	if price == 0 {
		return mo.None[model.LiquidationData]()
	}

	out := model.LiquidationData{Asset: asset, Timestamp: at, Price: price}
	for _, lvl := range data.Levels {
		p := lvl.Price.InexactFloat64()
		if p == 0 {
			continue
		}
		dist := (p - price) / price * 100
		if dist < 0 {
			dist = -dist
		}

		long := lvl.LongLiquidationUSD.InexactFloat64()
		short := lvl.ShortLiquidationUSD.InexactFloat64()
		switch {
		case p > price && short > 0:
			out.Above = append(out.Above, model.LiquidationCluster{Price: p, ValueUSD: short, DistancePct: dist})
		case p < price && long > 0:
			out.Below = append(out.Below, model.LiquidationCluster{Price: p, ValueUSD: long, Long: true, DistancePct: dist})
		}
	}

	byDistance := func(cs []model.LiquidationCluster) func(i, j int) bool {
		return func(i, j int) bool { return cs[i].DistancePct < cs[j].DistancePct }
	}
	sort.SliceStable(out.Above, byDistance(out.Above))
	sort.SliceStable(out.Below, byDistance(out.Below))
	return mo.Some(out)
}
