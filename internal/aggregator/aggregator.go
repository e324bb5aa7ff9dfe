// Package aggregator turns an ordered trade sequence into fixed-interval
// candles.
//
// Candles are stamped with the end of their interval and cover
// (end-interval, end]. The first boundary is start+interval and boundaries
// continue while they are before end. An interval without trades repeats the
// previous close (zero before the first trade) with zero volume, so the
// result always has one candle per boundary.
package aggregator

import (
	"fmt"
	"time"

	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// Aggregate builds the candles for [start, end) at the given interval.
// trades must be ordered by time; trades at or before start are ignored.
func Aggregate(trades []models.Trade, start, end time.Time, interval time.Duration) ([]models.Candle, error) {
	if interval <= 0 {
		return nil, &models.ValidationError{Field: "interval", Message: fmt.Sprintf("interval must be positive, got %s", interval)}
	}
	if !end.After(start) {
		return nil, &models.ValidationError{Field: "end", Message: fmt.Sprintf("end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))}
	}
	if idx := models.CheckOrdered(trades); idx >= 0 {
		return nil, fmt.Errorf("trade %d is out of order: %w", idx, apperrors.ErrUnsortedTrades)
	}

	n := int((end.Sub(start) - 1) / interval)
	candles := make([]models.Candle, 0, n)

	lower := models.ToUnix(start)
	i := 0
	for i < len(trades) && trades[i].Time <= lower {
		i++
	}

	var (
		carry    float64
		hasPrior bool
	)
	for boundary := start.Add(interval); boundary.Before(end); boundary = boundary.Add(interval) {
		upper := models.ToUnix(boundary)

		j := i
		for j < len(trades) && trades[j].Time <= upper {
			j++
		}

		var c models.Candle
		if j > i {
			c = summarize(trades[i:j], carry, hasPrior)
		} else {
			c = flat(carry)
		}
		c.Time = boundary
		c.Interval = interval
		candles = append(candles, c)

		carry = c.Close
		hasPrior = true
		i = j
	}

	return candles, nil
}

// summarize computes a candle from a non-empty bucket. The open is the
// previous candle's close when there is one.
func summarize(bucket []models.Trade, prevClose float64, hasPrior bool) models.Candle {
	open := bucket[0].Price
	if hasPrior {
		open = prevClose
	}

	c := models.Candle{
		Open:       open,
		High:       bucket[0].Price,
		Low:        bucket[0].Price,
		Close:      bucket[len(bucket)-1].Price,
		TradeCount: len(bucket),
	}

	var notional, buyNotional, sellNotional float64
	for _, t := range bucket {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Volume += t.Size
		notional += t.Notional()

		switch t.Side {
		case models.SideBuy:
			c.BuyVolume += t.Size
			c.BuyCount++
			buyNotional += t.Notional()
		case models.SideSell:
			c.SellVolume += t.Size
			c.SellCount++
			sellNotional += t.Notional()
		}
	}

	c.WeightedAverage = weightedAverage(notional, c.Volume, open)
	c.BuyWeightedAverage = weightedAverage(buyNotional, c.BuyVolume, open)
	c.SellWeightedAverage = weightedAverage(sellNotional, c.SellVolume, open)
	return c
}

// flat is the candle of an interval without trades.
func flat(price float64) models.Candle {
	return models.Candle{
		Open:                price,
		High:                price,
		Low:                 price,
		Close:               price,
		WeightedAverage:     price,
		BuyWeightedAverage:  price,
		SellWeightedAverage: price,
	}
}

func weightedAverage(notional, volume, fallback float64) float64 {
	if volume == 0 {
		return fallback
	}
	return notional / volume
}
