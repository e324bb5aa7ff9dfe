// Package exchange defines the interfaces the download loop needs from a
// market-data API and provides the Kraken public REST implementation.
//
// The interfaces are deliberately small so the collector can be driven by a
// fake in tests and so alternative exchanges only need to satisfy the pieces
// they support.
package exchange

import (
	"context"
	"sort"
	"strings"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// TradeFetcher retrieves pages of historical trades.
//
// Implementations own the retry policy: a call either returns a decoded page
// or an error that is final for this cursor position.
type TradeFetcher interface {
	// FetchTrades returns trades for pair newer than since, oldest first, at
	// most PageLimit of them. Kraken treats since as an exclusive bound.
	// Callers must not depend on a trade stamped exactly at since being
	// included or left out: the download loop resumes at the last stored
	// trade plus an epsilon and drops anything it already holds.
	//
	// since is fractional unix seconds. since == 0 asks for the earliest
	// trades the exchange has, which is how the download loop discovers the
	// start of a pair's history. When the requested start does not predate
	// that history, the loop keeps the page as its first page.
	//
	// An empty slice with a nil error means there is nothing newer than
	// since. Errors from exhausted retries match errors.ErrRetryExhausted;
	// cancellation is reported as the context's error.
	FetchTrades(ctx context.Context, pair string, since float64) ([]models.Trade, error)

	// PageLimit is the number of trades a full page holds. A shorter page
	// means the end of available history was reached.
	PageLimit() int
}

// PairLister enumerates the tradable pairs of an exchange.
type PairLister interface {
	// ListPairs returns the exchange's pairs, filtered of derivative or
	// otherwise excluded names and sorted ascending.
	ListPairs(ctx context.Context) ([]string, error)
}

// HealthChecker provides health monitoring capabilities for exchange connections.
//
// This method should perform a minimal check to ensure the exchange is
// reachable and responding correctly, using a single attempt.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ExchangeAdapter combines all exchange interfaces.
type ExchangeAdapter interface {
	TradeFetcher
	PairLister
	HealthChecker
}

// FilterPairs drops every name containing marker and returns the rest sorted
// ascending. An empty marker keeps every name.
func FilterPairs(names []string, marker string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if marker != "" && strings.Contains(name, marker) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
