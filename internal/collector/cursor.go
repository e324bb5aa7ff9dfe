package collector

import (
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// DefaultEpsilon is added to the last seen trade time to build the next
// since value. It sits below the exchange's 1e-4 s timestamp resolution.
const DefaultEpsilon = 1e-5

// CursorState is the position of a Cursor in the download state machine.
type CursorState int

const (
	// StateResuming means the starting point is not known yet.
	StateResuming CursorState = iota
	// StateFetching means Since holds the next page request.
	StateFetching
	// StateDone means no further page is needed.
	StateDone
)

func (s CursorState) String() string {
	switch s {
	case StateResuming:
		return "resuming"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Cursor walks a pair's trade history page by page. Times are unix seconds.
// It performs no I/O; the caller feeds it the stored last trade, the earliest
// page and every fetched page.
type Cursor struct {
	Start     float64
	End       float64
	Epsilon   float64
	PageLimit int

	Since float64
	State CursorState

	lastStored float64
	hasStored  bool
}

// NewCursor creates a cursor for [start, end].
func NewCursor(start, end float64, pageLimit int, epsilon float64) *Cursor {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Cursor{
		Start:     start,
		End:       end,
		Epsilon:   epsilon,
		PageLimit: pageLimit,
		State:     StateResuming,
	}
}

// Resume positions the cursor after the stored last trade. It reports false
// when nothing is stored and the earliest page is needed.
func (c *Cursor) Resume(last *models.Trade) bool {
	if last == nil {
		return false
	}
	c.lastStored = last.Time
	c.hasStored = true
	c.moveTo(last.Time + c.Epsilon)
	return true
}

// Discover positions the cursor from the first page of the pair's history,
// fetched with since 0. An empty page means the pair has no trades.
// It reports whether that page is also the first page of the download,
// which holds when the requested start does not fall after the earliest trade.
func (c *Cursor) Discover(page []models.Trade) bool {
	if len(page) == 0 {
		c.State = StateDone
		return false
	}
	since := c.Start
	earliest := page[0].Time
	if earliest >= since {
		since = earliest
	}
	c.moveTo(since)
	return c.State == StateFetching && since == earliest
}

func (c *Cursor) moveTo(since float64) {
	c.Since = since
	if since >= c.End {
		c.State = StateDone
		return
	}
	c.State = StateFetching
}

// Advance consumes a fetched page. It returns the trades that are newer than
// everything stored so far and moves the cursor past the page.
func (c *Cursor) Advance(page []models.Trade) []models.Trade {
	if c.State != StateFetching {
		return nil
	}
	if len(page) == 0 {
		c.State = StateDone
		return nil
	}

	fresh := page
	if c.hasStored {
		i := 0
		for i < len(page) && page[i].Time <= c.lastStored {
			i++
		}
		fresh = page[i:]
	}
	if len(fresh) > 0 {
		c.lastStored = fresh[len(fresh)-1].Time
		c.hasStored = true
	}

	newest := page[len(page)-1].Time
	c.Since = newest + c.Epsilon
	if len(page) < c.PageLimit || newest >= c.End {
		c.State = StateDone
	}
	return fresh
}

// Done reports whether the download is finished.
func (c *Cursor) Done() bool {
	return c.State == StateDone
}
