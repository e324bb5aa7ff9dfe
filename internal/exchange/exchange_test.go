package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterPairs(t *testing.T) {
	tests := []struct {
		name   string
		names  []string
		marker string
		want   []string
	}{
		{
			name:   "drops marked pairs and sorts",
			names:  []string{"XBTUSD", "XBTUSD.d", "ETHUSD"},
			marker: ".d",
			want:   []string{"ETHUSD", "XBTUSD"},
		},
		{
			name:   "empty marker keeps everything",
			names:  []string{"b", "a.d", "a"},
			marker: "",
			want:   []string{"a", "a.d", "b"},
		},
		{
			name:   "empty input",
			names:  nil,
			marker: ".d",
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterPairs(tt.names, tt.marker))
		})
	}
}
