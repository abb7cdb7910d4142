package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTime(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*60*60)

	testCases := []struct {
		name      string
		raw       string
		loc       *time.Location
		expected  time.Time
		expectErr bool
	}{
		{
			name:     "RFC3339 UTC",
			raw:      "2026-03-01T10:00:00Z",
			loc:      shanghai,
			expected: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "RFC3339 with offset",
			raw:      "2026-03-01T10:00:00+02:00",
			expected: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "Wall clock in location",
			raw:      "2026-03-01 18:00",
			loc:      shanghai,
			expected: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "Wall clock with T and seconds",
			raw:      " 2026-03-01T10:30:15 ",
			expected: time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC),
		},
		{
			name:      "Empty",
			raw:       "  ",
			expectErr: true,
		},
		{
			name:      "Garbage",
			raw:       "tomorrow",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Time(tc.raw, tc.loc)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestDuration(t *testing.T) {
	testCases := []struct {
		raw       string
		expected  time.Duration
		expectErr bool
	}{
		{raw: "2h", expected: 2 * time.Hour},
		{raw: "90m", expected: 90 * time.Minute},
		{raw: "1h30m", expected: 90 * time.Minute},
		{raw: "2 hours", expected: 2 * time.Hour},
		{raw: "1 hour 15 min", expected: 75 * time.Minute},
		{raw: "45 minutes", expected: 45 * time.Minute},
		{raw: "0h", expectErr: true},
		{raw: "", expectErr: true},
		{raw: "-1h", expectErr: true},
		{raw: "1d", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := Duration(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s, e, err := Window("2026-03-01T10:00:00Z", "2026-03-01T12:00:00Z", "5h", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, start, s)
	assert.Equal(t, start.Add(2*time.Hour), e)

	s, e, err = Window("2026-03-01T10:00:00Z", "", "90m", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, start, s)
	assert.Equal(t, start.Add(90*time.Minute), e)

	_, _, err = Window("2026-03-01T10:00:00Z", "", "", time.UTC)
	assert.Error(t, err)

	_, _, err = Window("bad", "2026-03-01T12:00:00Z", "", time.UTC)
	assert.ErrorContains(t, err, "start")
}
