package models

import (
	"fmt"
	"time"
)

// Candle summarizes the trades of one interval. Time is the interval end;
// the interval covers (Time-Interval, Time].
type Candle struct {
	Time     time.Time     `json:"time"`
	Pair     string        `json:"pair,omitempty"`
	Interval time.Duration `json:"interval"`

	Open            float64 `json:"open"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Close           float64 `json:"close"`
	Volume          float64 `json:"volume"`
	WeightedAverage float64 `json:"weighted_average"`
	TradeCount      int     `json:"trade_count"`

	BuyVolume          float64 `json:"buy_volume"`
	BuyWeightedAverage float64 `json:"buy_weighted_average"`
	BuyCount           int     `json:"buy_count"`

	SellVolume          float64 `json:"sell_volume"`
	SellWeightedAverage float64 `json:"sell_weighted_average"`
	SellCount           int     `json:"sell_count"`
}

// ValidationError represents a model validation error with specific field context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Empty reports whether no trades fell into the candle's interval.
func (c *Candle) Empty() bool {
	return c.TradeCount == 0
}

// Start returns the exclusive lower bound of the candle's interval.
func (c *Candle) Start() time.Time {
	return c.Time.Add(-c.Interval)
}

// Validate checks the OHLC relationships and count decomposition.
func (c *Candle) Validate() error {
	if c.Time.IsZero() {
		return &ValidationError{Field: "time", Message: "time cannot be zero"}
	}
	if c.Interval <= 0 {
		return &ValidationError{Field: "interval", Message: "interval must be positive"}
	}
	if c.Volume < 0 || c.BuyVolume < 0 || c.SellVolume < 0 {
		return &ValidationError{Field: "volume", Message: "volumes must be non-negative"}
	}
	if c.BuyCount+c.SellCount != c.TradeCount {
		return &ValidationError{
			Field:   "trade_count",
			Message: fmt.Sprintf("buy_count (%d) + sell_count (%d) != trade_count (%d)", c.BuyCount, c.SellCount, c.TradeCount),
		}
	}
	if c.Empty() {
		return nil
	}
	if c.High < c.Low {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("high (%g) below low (%g)", c.High, c.Low)}
	}
	if c.Close > c.High || c.Close < c.Low {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("close (%g) outside [%g, %g]", c.Close, c.Low, c.High)}
	}
	return nil
}

// String returns a string representation of the candle.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Pair: %s, Time: %s, Interval: %s, O: %g, H: %g, L: %g, C: %g, V: %g, N: %d}",
		c.Pair, c.Time.Format(time.RFC3339), c.Interval, c.Open, c.High, c.Low, c.Close, c.Volume, c.TradeCount)
}
