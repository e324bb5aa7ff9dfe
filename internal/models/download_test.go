package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_Lifecycle(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(100 * time.Second)
	d := NewDownload("run-1", "XBTUSD", start, end)

	require.NoError(t, d.Validate())
	assert.Equal(t, StatusPending, d.Status)
	assert.Error(t, d.Complete())

	require.NoError(t, d.Begin())
	assert.Error(t, d.Begin())

	d.RecordPage(1000, ToUnix(start)+25)
	d.RecordPage(500, ToUnix(start)+50)
	assert.Equal(t, 2, d.Pages)
	assert.Equal(t, 1500, d.TradesStored)
	assert.Equal(t, 50, d.Progress())
	assert.False(t, d.IsFinished())

	require.NoError(t, d.Complete())
	assert.Equal(t, 100, d.Progress())
	assert.True(t, d.IsFinished())
	assert.Contains(t, d.Summary(), "XBTUSD")
}

func TestDownload_Fail(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	d := NewDownload("run-2", "ETHUSD", start, start.Add(time.Hour))

	assert.Error(t, d.Fail("too early"))
	require.NoError(t, d.Begin())
	require.NoError(t, d.Fail("gave up"))
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "gave up", d.Error)
	assert.True(t, d.IsFinished())
}

func TestDownload_Validate(t *testing.T) {
	start := time.Unix(100, 0).UTC()

	tests := []struct {
		name  string
		d     *Download
		field string
	}{
		{"missing id", NewDownload("", "XBTUSD", start, start.Add(time.Second)), "id"},
		{"missing pair", NewDownload("id", "", start, start.Add(time.Second)), "pair"},
		{"inverted range", NewDownload("id", "XBTUSD", start, start.Add(-time.Second)), "start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestDownload_ProgressBounds(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	d := NewDownload("id", "XBTUSD", start, start.Add(10*time.Second))

	d.Cursor = 0
	assert.Equal(t, 0, d.Progress())
	d.Cursor = 2000
	assert.Equal(t, 100, d.Progress())
}

func TestDownload_TradesPerSecond(t *testing.T) {
	d := NewDownload("id", "XBTUSD", time.Unix(0, 0), time.Unix(10, 0))
	assert.True(t, d.TradesPerSecond().IsZero())

	d.TradesStored = 100
	d.UpdatedAt = d.CreatedAt.Add(4 * time.Second)
	assert.Equal(t, "25", d.TradesPerSecond().String())

	c := d.Clone()
	c.TradesStored = 1
	assert.Equal(t, 100, d.TradesStored)
}
