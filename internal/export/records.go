package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go/source"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// TradeRecord is the Parquet row of one trade.
type TradeRecord struct {
	Pair      string  `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Size      float64 `parquet:"name=size, type=DOUBLE"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderType string  `parquet:"name=order_type, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// CandleRecord is the Parquet row of one candle. Timestamp is the end of the
// interval.
type CandleRecord struct {
	Pair                string  `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp           int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	IntervalSeconds     int64   `parquet:"name=interval_seconds, type=INT64"`
	Open                float64 `parquet:"name=open, type=DOUBLE"`
	High                float64 `parquet:"name=high, type=DOUBLE"`
	Low                 float64 `parquet:"name=low, type=DOUBLE"`
	Close               float64 `parquet:"name=close, type=DOUBLE"`
	Volume              float64 `parquet:"name=volume, type=DOUBLE"`
	WeightedAverage     float64 `parquet:"name=weighted_average, type=DOUBLE"`
	TradeCount          int64   `parquet:"name=trade_count, type=INT64"`
	BuyVolume           float64 `parquet:"name=buy_volume, type=DOUBLE"`
	BuyWeightedAverage  float64 `parquet:"name=buy_weighted_average, type=DOUBLE"`
	BuyCount            int64   `parquet:"name=buy_count, type=INT64"`
	SellVolume          float64 `parquet:"name=sell_volume, type=DOUBLE"`
	SellWeightedAverage float64 `parquet:"name=sell_weighted_average, type=DOUBLE"`
	SellCount           int64   `parquet:"name=sell_count, type=INT64"`
}

func tradeRecord(pair string, t models.Trade) TradeRecord {
	return TradeRecord{
		Pair:      pair,
		Timestamp: t.Date().UnixMicro(),
		Price:     t.Price,
		Size:      t.Size,
		Side:      string(t.Side),
		OrderType: t.OrderType,
	}
}

func candleRecord(pair string, c models.Candle) CandleRecord {
	return CandleRecord{
		Pair:                pair,
		Timestamp:           c.Time.UnixMilli(),
		IntervalSeconds:     int64(c.Interval / time.Second),
		Open:                c.Open,
		High:                c.High,
		Low:                 c.Low,
		Close:               c.Close,
		Volume:              c.Volume,
		WeightedAverage:     c.WeightedAverage,
		TradeCount:          int64(c.TradeCount),
		BuyVolume:           c.BuyVolume,
		BuyWeightedAverage:  c.BuyWeightedAverage,
		BuyCount:            int64(c.BuyCount),
		SellVolume:          c.SellVolume,
		SellWeightedAverage: c.SellWeightedAverage,
		SellCount:           int64(c.SellCount),
	}
}

// memFile is a write-only source.ParquetFile backed by a buffer.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }
