package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want Rate
	}{
		{"5/minute", Rate{Limit: 5, Window: time.Minute}},
		{"10 per second", Rate{Limit: 10, Window: time.Second}},
		{" 100/hours ", Rate{Limit: 100, Window: time.Hour}},
		{"1000/Day", Rate{Limit: 1000, Window: 24 * time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRateRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "5", "0/minute", "-1/minute", "five/minute", "5/fortnight"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRate(in)
			assert.Error(t, err)
		})
	}
}

func TestRateString(t *testing.T) {
	assert.Equal(t, "5/minute", Rate{Limit: 5, Window: time.Minute}.String())
	assert.Equal(t, "3/1m30s", Rate{Limit: 3, Window: 90 * time.Second}.String())
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, RetryAfterSeconds(now, now))
	assert.Equal(t, 1, RetryAfterSeconds(now, now.Add(200*time.Millisecond)))
	assert.Equal(t, 31, RetryAfterSeconds(now, now.Add(30*time.Second+time.Millisecond)))
}

func TestNewIdentityKeySanitizes(t *testing.T) {
	assert.Equal(t, "rl:unsubscribe:2001_db8__1", NewIdentityKey("2001:db8::1"))
}
