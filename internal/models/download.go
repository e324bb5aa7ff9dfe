package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DownloadStatus represents the current state of a download run.
type DownloadStatus string

const (
	StatusPending   DownloadStatus = "pending"   // queued but not yet started
	StatusRunning   DownloadStatus = "running"   // fetching pages
	StatusCompleted DownloadStatus = "completed" // reached the end of the range or of available history
	StatusFailed    DownloadStatus = "failed"    // stopped on an error; stored pages are kept
)

// Download tracks one run of the download loop for a pair. Cursor is the
// since value of the next page request, in unix seconds.
type Download struct {
	ID           string         `json:"id"`
	Pair         string         `json:"pair"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Status       DownloadStatus `json:"status"`
	Cursor       float64        `json:"cursor"`
	Pages        int            `json:"pages"`
	TradesStored int            `json:"trades_stored"`
	Resumed      bool           `json:"resumed"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewDownload creates a pending download for pair over [start, end].
func NewDownload(id, pair string, start, end time.Time) *Download {
	now := time.Now().UTC()
	return &Download{
		ID:        id,
		Pair:      pair,
		Start:     start.UTC(),
		End:       end.UTC(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the required fields and the time range.
func (d *Download) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "id", Message: "download ID is required"}
	}
	if d.Pair == "" {
		return &ValidationError{Field: "pair", Message: "trading pair is required"}
	}
	if d.End.IsZero() {
		return &ValidationError{Field: "end", Message: "end time is required"}
	}
	if !d.End.After(d.Start) {
		return &ValidationError{Field: "start", Message: "start time must be before end time"}
	}
	return nil
}

// Begin transitions the download from pending to running.
func (d *Download) Begin() error {
	if d.Status != StatusPending {
		return fmt.Errorf("cannot start download: current status is %s, expected %s", d.Status, StatusPending)
	}
	d.Status = StatusRunning
	d.Error = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions the download from running to completed.
func (d *Download) Complete() error {
	if d.Status != StatusRunning {
		return fmt.Errorf("cannot complete download: current status is %s, expected %s", d.Status, StatusRunning)
	}
	d.Status = StatusCompleted
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail transitions the download from running to failed and records the cause.
func (d *Download) Fail(errorMsg string) error {
	if d.Status != StatusRunning {
		return fmt.Errorf("cannot fail download: current status is %s, expected %s", d.Status, StatusRunning)
	}
	d.Status = StatusFailed
	d.Error = errorMsg
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordPage accounts for one stored page and moves the cursor.
func (d *Download) RecordPage(stored int, cursor float64) {
	d.Pages++
	d.TradesStored += stored
	d.Cursor = cursor
	d.UpdatedAt = time.Now().UTC()
}

// IsFinished reports whether the download reached a terminal status.
func (d *Download) IsFinished() bool {
	return d.Status == StatusCompleted || d.Status == StatusFailed
}

// Progress returns how far the cursor has moved through the range, 0 to 100.
func (d *Download) Progress() int {
	if d.Status == StatusCompleted {
		return 100
	}
	start, end := ToUnix(d.Start), ToUnix(d.End)
	if d.Cursor <= start || end <= start {
		return 0
	}
	if d.Cursor >= end {
		return 100
	}
	return int((d.Cursor - start) * 100 / (end - start))
}

// TradesPerSecond is the storage rate since the download was created.
func (d *Download) TradesPerSecond() decimal.Decimal {
	elapsed := d.UpdatedAt.Sub(d.CreatedAt)
	if elapsed <= 0 || d.TradesStored == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(d.TradesStored)).Div(decimal.NewFromFloat(elapsed.Seconds()))
}

// Summary returns a human-readable one-line description.
func (d *Download) Summary() string {
	return fmt.Sprintf("Download %s: %s [%s to %s] - Status: %s (%d%%, %d pages, %d trades)",
		d.ID,
		d.Pair,
		d.Start.Format("2006-01-02 15:04:05"),
		d.End.Format("2006-01-02 15:04:05"),
		d.Status,
		d.Progress(),
		d.Pages,
		d.TradesStored,
	)
}

// Clone returns a copy of the download.
func (d *Download) Clone() *Download {
	c := *d
	return &c
}
