// Package models provides the data structures shared by the fetcher, the
// trade stores and the aggregator: trades, sides and candles.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide decodes a side marker. Both the long form and the single-letter
// wire form are accepted.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b":
		return SideBuy, nil
	case "sell", "s":
		return SideSell, nil
	default:
		return "", &ValidationError{Field: "side", Message: fmt.Sprintf("unknown side %q", s)}
	}
}

// String returns the long form of the side.
func (s Side) String() string {
	return string(s)
}

// OrderType returns the long form of a single-letter order type marker.
// Unknown markers are returned unchanged.
func OrderType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l", "limit":
		return "limit"
	case "m", "market":
		return "market"
	default:
		return s
	}
}

// Trade is a single executed trade. Time is canonical: the calendar date is
// always derived from it.
type Trade struct {
	Time      float64 `json:"time"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      Side    `json:"side"`
	OrderType string  `json:"order_type"`
}

// Date converts the trade time to a UTC timestamp with microsecond precision.
func (t Trade) Date() time.Time {
	return FromUnix(t.Time)
}

// DateString formats the trade date as ISO-8601.
func (t Trade) DateString() string {
	return t.Date().Format("2006-01-02T15:04:05.000000")
}

// Notional returns price times size.
func (t Trade) Notional() float64 {
	return t.Price * t.Size
}

// Validate checks the invariants a stored trade must satisfy.
func (t Trade) Validate() error {
	if t.Time < 0 || math.IsNaN(t.Time) || math.IsInf(t.Time, 0) {
		return &ValidationError{Field: "time", Message: fmt.Sprintf("invalid trade time %v", t.Time)}
	}
	if t.Price <= 0 || math.IsNaN(t.Price) {
		return &ValidationError{Field: "price", Message: "price must be greater than 0"}
	}
	if t.Size <= 0 || math.IsNaN(t.Size) {
		return &ValidationError{Field: "size", Message: "size must be greater than 0"}
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return &ValidationError{Field: "side", Message: fmt.Sprintf("unknown side %q", t.Side)}
	}
	return nil
}

// String returns a compact representation of the trade.
func (t Trade) String() string {
	return fmt.Sprintf("Trade{%s %s %g@%g %s}", t.DateString(), t.Side, t.Size, t.Price, t.OrderType)
}

// CheckOrdered returns the index of the first trade whose time is earlier
// than its predecessor, or -1 when the slice is non-decreasing by time.
func CheckOrdered(trades []Trade) int {
	for i := 1; i < len(trades); i++ {
		if trades[i].Time < trades[i-1].Time {
			return i
		}
	}
	return -1
}

// FromUnix converts fractional unix seconds to a UTC time.
func FromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}

// ToUnix converts a time to fractional unix seconds. Whole seconds and the
// fraction are converted separately so the result rounds once and matches the
// float parsed from the same decimal timestamp.
func ToUnix(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
