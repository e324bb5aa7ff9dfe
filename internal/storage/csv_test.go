package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

func TestCSVStorage_FileFormat(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStorage(dir, testLogger())
	require.NoError(t, s.Initialize(context.Background()))

	trades := []models.Trade{
		{Time: 1700000000.25, Price: 35000.5, Size: 0.01, Side: models.SideBuy, OrderType: "limit"},
		{Time: 1700000001, Price: 35001, Size: 2, Side: models.SideSell, OrderType: "market"},
	}
	require.NoError(t, s.Append(context.Background(), "XBTUSD", trades))

	raw, err := os.ReadFile(filepath.Join(dir, "XBTUSD.csv"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,time,size,price,side,order_type", lines[0])
	assert.Equal(t, "2023-11-14T22:13:20.250000,1700000000.25,0.01,35000.5,buy,limit", lines[1])
	assert.Equal(t, "2023-11-14T22:13:21.000000,1700000001,2,35001,sell,market", lines[2])
}

func TestCSVStorage_LastSpansChunks(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStorage(dir, testLogger())
	require.NoError(t, s.Initialize(context.Background()))

	long := strings.Repeat("x", tailReadSize*2)
	trades := []models.Trade{
		{Time: 1, Price: 1, Size: 1, Side: models.SideBuy, OrderType: long},
		{Time: 2, Price: 2, Size: 1, Side: models.SideSell, OrderType: long},
	}
	require.NoError(t, s.Append(context.Background(), "XBTUSD", trades))

	last, err := s.Last(context.Background(), "XBTUSD")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, trades[1], *last)
}

func TestCSVStorage_HeaderOnlyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "XBTUSD.csv"), []byte("date,time,size,price,side,order_type\n"), 0644))

	s := NewCSVStorage(dir, testLogger())
	last, err := s.Last(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.Nil(t, last)

	pairs, err := s.Pairs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestCSVStorage_CorruptRow(t *testing.T) {
	dir := t.TempDir()
	content := "date,time,size,price,side,order_type\n2023-11-14T22:13:20.000000,abc,1,1,buy,limit\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "XBTUSD.csv"), []byte(content), 0644))

	s := NewCSVStorage(dir, testLogger())
	_, err := s.Range(context.Background(), "XBTUSD", 0, 10)
	assert.Error(t, err)
}

func TestCSVStorage_RejectsPathPairs(t *testing.T) {
	s := NewCSVStorage(t.TempDir(), testLogger())
	_, err := s.Last(context.Background(), "../etc")
	assert.Error(t, err)
}
