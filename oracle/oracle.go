package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownAsset indicates that no feed is registered for the asset.
	ErrUnknownAsset = errors.New("oracle: unknown asset")
	// ErrStalePrice indicates the freshest available observation is older
	// than the configured freshness window.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrUnknownFeed indicates the feed identifier was never registered.
	ErrUnknownFeed = errors.New("oracle: unknown feed")
	// ErrNoFreshQuote indicates that no registered feed produced a usable
	// observation within the freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
)

// PricePoint captures a single USD price observation for an asset. Price is an
// integer in the feed's native fixed-point representation; Decimals reports how
// many decimal places that representation carries.
type PricePoint struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the observation to prevent accidental
// mutations of shared state.
func (p PricePoint) Clone() PricePoint {
	clone := PricePoint{Decimals: p.Decimals, Timestamp: p.Timestamp, Source: p.Source}
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return clone
}

// PriceOracle resolves the latest USD price observation for an asset symbol.
type PriceOracle interface {
	LatestPrice(symbol string) (PricePoint, error)
}

// Aggregator consults registered feeds in priority order until one yields a
// fresh observation. The feed named by the caller is always tried first; the
// remaining priority entries serve as fallbacks, and a shared freshness window
// applies to every read regardless of the upstream feed.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]PriceOracle
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window. When priority is nil a zero-length slice is initialised so
// that Register can safely append identifiers. A non-positive maxAge disables
// staleness enforcement.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		feeds:    make(map[string]PriceOracle),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// SetMaxAge updates the freshness window applied to subsequent reads.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetPriority replaces the fallback ordering used when consulting feeds.
func (a *Aggregator) SetPriority(priority []string) {
	if a == nil {
		return
	}
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	a.mu.Lock()
	a.priority = prio
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier and appends
// it to the priority list when absent. Identifiers are stored in lowercase so
// lookups remain consistent regardless of the configuration casing.
func (a *Aggregator) Register(feedID string, oracle PriceOracle) {
	if a == nil || oracle == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(feedID))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = oracle
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// LatestPrice resolves the freshest observation for the symbol, trying the
// named feed first and then the remaining priority entries until one returns
// a fresh, positive price. The last failure is surfaced when every feed is
// exhausted.
func (a *Aggregator) LatestPrice(feedID, symbol string) (PricePoint, error) {
	if a == nil {
		return PricePoint{}, fmt.Errorf("oracle aggregator not configured")
	}
	sym := normaliseSymbol(symbol)
	if sym == "" {
		return PricePoint{}, fmt.Errorf("%w: empty symbol", ErrUnknownAsset)
	}
	preferred := strings.ToLower(strings.TrimSpace(feedID))

	a.mu.RLock()
	order := make([]string, 0, len(a.priority)+1)
	if preferred != "" {
		order = append(order, preferred)
	}
	for _, name := range a.priority {
		if name != preferred {
			order = append(order, name)
		}
	}
	maxAge := a.maxAge
	now := a.nowFn
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now().Add(-maxAge)
	}

	var lastErr error
	for _, name := range order {
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		if feed == nil {
			lastErr = fmt.Errorf("%w: feed %q", ErrUnknownFeed, name)
			continue
		}
		point, err := feed.LatestPrice(sym)
		if err != nil {
			lastErr = err
			continue
		}
		if point.Price == nil || point.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: feed %s returned invalid price for %s", name, sym)
			continue
		}
		if maxAge > 0 && point.Timestamp.Before(cutoff) {
			lastErr = fmt.Errorf("%w: %s observed at %s", ErrStalePrice, sym, point.Timestamp.UTC().Format(time.RFC3339))
			continue
		}
		result := point.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNoFreshQuote, sym)
	}
	return PricePoint{}, lastErr
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	points map[string]PricePoint
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{points: make(map[string]PricePoint)}
}

// Set stores the provided observation for the asset symbol.
func (m *ManualOracle) Set(symbol string, price *big.Int, decimals uint8, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	key := normaliseSymbol(symbol)
	if key == "" {
		return
	}
	m.mu.Lock()
	m.points[key] = PricePoint{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		Timestamp: ts,
		Source:    "manual",
	}
	m.mu.Unlock()
}

// LatestPrice retrieves the stored observation for the asset symbol.
func (m *ManualOracle) LatestPrice(symbol string) (PricePoint, error) {
	if m == nil {
		return PricePoint{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	stored, ok := m.points[normaliseSymbol(symbol)]
	m.mu.RUnlock()
	if !ok {
		return PricePoint{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return stored.Clone(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
