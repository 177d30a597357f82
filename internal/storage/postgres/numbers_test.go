package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		now    time.Time
		seq    int64
		want   string
	}{
		{"padded", "ORD", time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), 42, "ORD-20260314-000042"},
		{"wide sequence", "ORD", time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), 1234567, "ORD-20260314-1234567"},
		{"custom prefix", "WEB", time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), 1, "WEB-20261231-000001"},
		{"date in UTC", "ORD", time.Date(2026, 1, 1, 2, 0, 0, 0, time.FixedZone("IST", 5*3600+1800)), 7, "ORD-20251231-000007"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.prefix, tt.now, tt.seq))
		})
	}
}

func TestNewNumberSequence_DefaultPrefix(t *testing.T) {
	assert.Equal(t, DefaultNumberPrefix, NewNumberSequence(nil, "").prefix)
	assert.Equal(t, "WEB", NewNumberSequence(nil, "WEB").prefix)
}
