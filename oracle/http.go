package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// feedDecimals is the fixed-point precision HTTP feeds report prices in,
// matching the 8 decimal places of the reference USD feeds.
const feedDecimals uint8 = 8

// CoinGeckoFeed adapts the public CoinGecko simple price API into a
// PriceOracle. Quoted USD prices are rescaled into 8-decimal fixed point.
type CoinGeckoFeed struct {
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

// NewCoinGeckoFeed constructs a new adapter. idMap allows the caller to map
// collateral symbols to CoinGecko asset identifiers. When the client is nil
// http.DefaultClient is used.
func NewCoinGeckoFeed(client HTTPDoer, endpoint string, idMap map[string]string) *CoinGeckoFeed {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoFeed{client: client, endpoint: ep, idMap: mapped}
}

func (f *CoinGeckoFeed) assetID(symbol string) string {
	if f == nil {
		return ""
	}
	if id, ok := f.idMap[normaliseSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

func (f *CoinGeckoFeed) LatestPrice(symbol string) (PricePoint, error) {
	if f == nil {
		return PricePoint{}, fmt.Errorf("coingecko feed not configured")
	}
	id := f.assetID(symbol)
	if id == "" {
		return PricePoint{}, fmt.Errorf("%w: unmapped symbol %s", ErrUnknownAsset, symbol)
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return PricePoint{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := f.client.Do(req)
	if err != nil {
		return PricePoint{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PricePoint{}, fmt.Errorf("coingecko feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return PricePoint{}, fmt.Errorf("coingecko feed: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return PricePoint{}, fmt.Errorf("%w: quote missing for %s", ErrUnknownAsset, symbol)
	}
	priceStr := numberString(entry["usd"])
	if priceStr == "" {
		return PricePoint{}, fmt.Errorf("coingecko feed: empty price for %s", symbol)
	}
	rat, ok := new(big.Rat).SetString(priceStr)
	if !ok || rat.Sign() <= 0 {
		return PricePoint{}, fmt.Errorf("coingecko feed: invalid price %q", priceStr)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(feedDecimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	price := new(big.Int).Quo(scaled.Num(), scaled.Denom())

	ts := time.Now().UTC()
	if tsStr := numberString(entry["last_updated_at"]); tsStr != "" {
		if parsed, err := strconv.ParseInt(tsStr, 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0).UTC()
		}
	}
	return PricePoint{Price: price, Decimals: feedDecimals, Timestamp: ts, Source: "coingecko"}, nil
}

func numberString(raw interface{}) string {
	switch v := raw.(type) {
	case json.Number:
		return v.String()
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
