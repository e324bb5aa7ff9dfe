package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// MemoryStorage keeps trades in per-pair slices. It is safe for concurrent use
// and loses everything on Close.
type MemoryStorage struct {
	mu     sync.RWMutex
	trades map[string][]models.Trade
	closed bool
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		trades: make(map[string][]models.Trade),
	}
}

// Initialize implements StorageManager.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewStorageError("initialize", "", "", ErrClosed)
	}
	return nil
}

// Close implements StorageManager.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.trades = nil
	return nil
}

// HealthCheck implements StorageManager.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return NewStorageError("health_check", "", "", ErrClosed)
	}
	return nil
}

// Exists implements TradeReader.
func (m *MemoryStorage) Exists(ctx context.Context, pair string) (bool, error) {
	n, err := m.Count(ctx, pair)
	return n > 0, err
}

// Count implements TradeReader.
func (m *MemoryStorage) Count(ctx context.Context, pair string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewQueryError(tradesTable, "", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, NewQueryError(tradesTable, "", ErrClosed)
	}
	return int64(len(m.trades[pair])), nil
}

// Last implements TradeReader.
func (m *MemoryStorage) Last(ctx context.Context, pair string) (*models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError(tradesTable, "", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError(tradesTable, "", ErrClosed)
	}
	return m.lastLocked(pair), nil
}

func (m *MemoryStorage) lastLocked(pair string) *models.Trade {
	trades := m.trades[pair]
	if len(trades) == 0 {
		return nil
	}
	last := trades[len(trades)-1]
	return &last
}

// Range implements TradeReader.
func (m *MemoryStorage) Range(ctx context.Context, pair string, start, end float64) ([]models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError(tradesTable, "", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError(tradesTable, "", ErrClosed)
	}

	out := make([]models.Trade, 0)
	for _, t := range m.trades[pair] {
		if t.Time >= start && t.Time <= end {
			out = append(out, t)
		}
	}
	return out, nil
}

// Pairs implements TradeReader.
func (m *MemoryStorage) Pairs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewQueryError(tradesTable, "", ErrClosed)
	}

	pairs := make([]string, 0, len(m.trades))
	for pair, trades := range m.trades {
		if len(trades) > 0 {
			pairs = append(pairs, pair)
		}
	}
	sort.Strings(pairs)
	return pairs, nil
}

// Append implements TradeAppender.
func (m *MemoryStorage) Append(ctx context.Context, pair string, trades []models.Trade) error {
	if err := ctx.Err(); err != nil {
		return NewInsertError(tradesTable, err)
	}
	if len(trades) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewInsertError(tradesTable, ErrClosed)
	}
	if err := checkAppend(pair, m.lastLocked(pair), trades); err != nil {
		return NewInsertError(tradesTable, err)
	}

	m.trades[pair] = append(m.trades[pair], trades...)
	return nil
}

var _ TradeStore = (*MemoryStorage)(nil)
