package storage

import (
	"context"
	"testing"

	"github.com/johnayoung/go-trade-backfill/internal/config"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const benchPageSize = 1000

func benchStore(b *testing.B, typ string) TradeStore {
	b.Helper()
	path := b.TempDir()
	if typ == "duckdb" || typ == "sqlite" {
		path = ":memory:"
	}
	s, err := New(config.StorageConfig{Type: typ, Path: path}, testLogger())
	if err != nil {
		b.Fatalf("New(%s) failed: %v", typ, err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		b.Fatalf("Initialize(%s) failed: %v", typ, err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

// benchPage returns one page of trades one millisecond apart, starting at first.
func benchPage(first float64) []models.Trade {
	trades := make([]models.Trade, benchPageSize)
	for i := range trades {
		side := models.SideBuy
		if i%2 == 1 {
			side = models.SideSell
		}
		trades[i] = models.Trade{
			Time:      first + float64(i)*0.001,
			Price:     20000 + float64(i%100),
			Size:      0.01,
			Side:      side,
			OrderType: "limit",
		}
	}
	return trades
}

// BenchmarkAppend measures page appends, the write path of a download.
func BenchmarkAppend(b *testing.B) {
	for _, typ := range []string{"memory", "csv", "duckdb", "sqlite"} {
		b.Run(typ, func(b *testing.B) {
			ctx := context.Background()
			s := benchStore(b, typ)

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := s.Append(ctx, "XBTUSD", benchPage(float64(i)*benchPageSize)); err != nil {
					b.Fatalf("Append failed: %v", err)
				}
			}

			b.ReportMetric(float64(b.N*benchPageSize)/b.Elapsed().Seconds(), "trades/sec")
		})
	}
}

// BenchmarkRange measures reading one page worth of trades back.
func BenchmarkRange(b *testing.B) {
	for _, typ := range []string{"memory", "csv", "duckdb", "sqlite"} {
		b.Run(typ, func(b *testing.B) {
			ctx := context.Background()
			s := benchStore(b, typ)
			for p := 0; p < 10; p++ {
				if err := s.Append(ctx, "XBTUSD", benchPage(float64(p)*benchPageSize)); err != nil {
					b.Fatalf("setup Append failed: %v", err)
				}
			}

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				trades, err := s.Range(ctx, "XBTUSD", 5000, 5000+benchPageSize)
				if err != nil {
					b.Fatalf("Range failed: %v", err)
				}
				if len(trades) == 0 {
					b.Fatal("Range returned no trades")
				}
			}
		})
	}
}
