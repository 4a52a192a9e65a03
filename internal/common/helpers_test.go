package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPluralizeTokens(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{1, "токен"},
		{2, "токена"},
		{4, "токена"},
		{5, "токенов"},
		{11, "токенов"},
		{12, "токенов"},
		{14, "токенов"},
		{21, "токен"},
		{22, "токена"},
		{100, "токенов"},
		{101, "токен"},
		{111, "токенов"},
		{0, "токенов"},
		{-3, "токена"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PluralizeTokens(tt.n), "n=%d", tt.n)
	}
}

func TestFormatBalance(t *testing.T) {
	assert.Equal(t, "150 токенов", FormatBalance(150))
	assert.Equal(t, "1 токен", FormatBalance(1))
	assert.Equal(t, "42 токена", FormatBalance(42))
}

func TestWindowMillis(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	start, end := WindowMillis(now, time.Hour)
	assert.Equal(t, now.UnixMilli(), end)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), start)
	assert.Equal(t, int64(3600_000), end-start)

	// Окно полуоткрытое [start, end): соседние окна стыкуются без зазора
	prevStart, prevEnd := WindowMillis(now.Add(-time.Hour), time.Hour)
	assert.Equal(t, start, prevEnd)
	assert.Equal(t, now.Add(-2*time.Hour).UnixMilli(), prevStart)
}

func TestMillisToTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.True(t, MillisToTime(now.UnixMilli()).Equal(now))
}
