package api

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePair(t *testing.T) {
	v := GetValidator()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "XBTUSD", want: "XBTUSD"},
		{in: "  ETHUSD\n", want: "ETHUSD"},
		{in: "XBTUSD.d", want: "XBTUSD.d"},
		{in: "XXBTZUSD", want: "XXBTZUSD"},
		{in: "", wantErr: true},
		{in: "X", wantErr: true},
		{in: "..", wantErr: true},
		{in: "XBT/USD", wantErr: true},
		{in: strings.Repeat("A", 40), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := v.ValidatePair(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateExportRequest(t *testing.T) {
	v := GetValidator()

	_, _, _, interval, err := v.ValidateExportRequest(ExportRequest{Pair: "XBTUSD", Start: "2023-07-01", End: "2023-07-02"})
	require.NoError(t, err)
	assert.Zero(t, interval)

	_, start, end, interval, err := v.ValidateExportRequest(ExportRequest{Pair: "XBTUSD", Start: "2023-07-01", End: "2023-07-02", Kind: "Candles"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, interval)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, _, _, err = v.ValidateExportRequest(ExportRequest{Pair: "XBTUSD", Start: "2023-07-01", End: "2023-07-02", Kind: "book"})
	assert.Error(t, err)
}

func TestValidateLimit(t *testing.T) {
	v := GetValidator()

	n, err := v.ValidateLimit("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = v.ValidateLimit("250")
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	for _, bad := range []string{"abc", "-1", "1000001"} {
		_, err := v.ValidateLimit(bad)
		assert.Error(t, err, bad)
	}
}

func TestSanitizeInput(t *testing.T) {
	v := GetValidator()
	assert.Equal(t, "XBTUSD", v.sanitizeInput("\x00XBT\tUSD "))
	assert.Len(t, v.sanitizeInput(strings.Repeat("a", 200)), 100)
}
