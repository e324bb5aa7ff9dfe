package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "1688671200", want: time.Date(2023, 7, 6, 19, 20, 0, 0, time.UTC)},
		{in: "1688671200.5", want: time.Date(2023, 7, 6, 19, 20, 0, 500000000, time.UTC)},
		{in: "2023-07-06", want: time.Date(2023, 7, 6, 0, 0, 0, 0, time.UTC)},
		{in: "2023-07-06T21:20:00+02:00", want: time.Date(2023, 7, 6, 19, 20, 0, 0, time.UTC)},
		{in: " 0 ", want: time.Unix(0, 0).UTC()},
		{in: "", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "yesterday", wantErr: true},
		{in: "2023-13-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseInterval(t *testing.T) {
	tests := map[string]time.Duration{
		"1m":    time.Minute,
		"15m":   15 * time.Minute,
		"4h":    4 * time.Hour,
		"1d":    24 * time.Hour,
		"2w":    14 * 24 * time.Hour,
		"90s":   90 * time.Second,
		"1h30m": 90 * time.Minute,
	}
	for in, want := range tests {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "m", "xd", "10ms", "abc", "-1h"} {
		_, err := ParseInterval(bad)
		assert.Error(t, err, bad)
	}
}
