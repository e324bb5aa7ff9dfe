package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// Output formatting functions

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// writeTrades formats trades as table, json or csv. limit caps the table only.
func writeTrades(w io.Writer, trades []models.Trade, format string, limit int) error {
	switch format {
	case "json":
		return writeJSON(w, trades)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"date", "time", "size", "price", "side", "order_type"})
		for _, t := range trades {
			_ = cw.Write([]string{
				t.DateString(),
				formatFloat(t.Time),
				formatFloat(t.Size),
				formatFloat(t.Price),
				string(t.Side),
				t.OrderType,
			})
		}
		cw.Flush()
		return cw.Error()
	}

	shown := trades
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	fmt.Fprintf(w, "%-27s %-18s %-14s %-5s %-8s\n", "Date", "Price", "Size", "Side", "Type")
	fmt.Fprintln(w, strings.Repeat("-", 76))
	for _, t := range shown {
		fmt.Fprintf(w, "%-27s %-18s %-14s %-5s %-8s\n",
			t.DateString(),
			truncate(formatFloat(t.Price), 18),
			truncate(formatFloat(t.Size), 14),
			t.Side,
			t.OrderType)
	}
	if len(shown) < len(trades) {
		fmt.Fprintf(w, "\n... showing first %d of %d trades (use --limit to see more)\n", len(shown), len(trades))
	} else {
		fmt.Fprintf(w, "\n%d trades\n", len(trades))
	}
	return nil
}

// writeCandles formats candles as table, json or csv. limit caps the table only.
func writeCandles(w io.Writer, candles []models.Candle, format string, limit int) error {
	switch format {
	case "json":
		return writeJSON(w, candles)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"time", "open", "high", "low", "close", "volume", "weighted_average", "trade_count",
			"buy_volume", "buy_weighted_average", "buy_count", "sell_volume", "sell_weighted_average", "sell_count"})
		for _, c := range candles {
			_ = cw.Write([]string{
				c.Time.Format(time.RFC3339),
				formatFloat(c.Open),
				formatFloat(c.High),
				formatFloat(c.Low),
				formatFloat(c.Close),
				formatFloat(c.Volume),
				formatFloat(c.WeightedAverage),
				strconv.Itoa(c.TradeCount),
				formatFloat(c.BuyVolume),
				formatFloat(c.BuyWeightedAverage),
				strconv.Itoa(c.BuyCount),
				formatFloat(c.SellVolume),
				formatFloat(c.SellWeightedAverage),
				strconv.Itoa(c.SellCount),
			})
		}
		cw.Flush()
		return cw.Error()
	}

	shown := candles
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	fmt.Fprintf(w, "%-20s %-12s %-12s %-12s %-12s %-14s %-12s %-6s\n",
		"Time", "Open", "High", "Low", "Close", "Volume", "VWAP", "Trades")
	fmt.Fprintln(w, strings.Repeat("-", 108))
	for _, c := range shown {
		fmt.Fprintf(w, "%-20s %-12s %-12s %-12s %-12s %-14s %-12s %-6d\n",
			c.Time.Format("2006-01-02 15:04:05"),
			truncate(formatFloat(c.Open), 12),
			truncate(formatFloat(c.High), 12),
			truncate(formatFloat(c.Low), 12),
			truncate(formatFloat(c.Close), 12),
			truncate(formatFloat(c.Volume), 14),
			truncate(formatFloat(c.WeightedAverage), 12),
			c.TradeCount)
	}
	if len(shown) < len(candles) {
		fmt.Fprintf(w, "\n... showing first %d of %d candles (use --limit to see more)\n", len(shown), len(candles))
	}
	return nil
}

func writePairs(w io.Writer, pairs []string, format string) error {
	switch format {
	case "json":
		return writeJSON(w, pairs)
	default:
		for _, p := range pairs {
			fmt.Fprintln(w, p)
		}
		return nil
	}
}

// truncate cuts s to at most maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
