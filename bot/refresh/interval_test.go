package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalMinutes(t *testing.T) {
	iv, err := ParseInterval("60")
	require.NoError(t, err)
	assert.Equal(t, 60, iv.Minutes)
	assert.False(t, iv.Daily)
	assert.False(t, iv.IsZero())
}

func TestParseIntervalDaily(t *testing.T) {
	iv, err := ParseInterval("@03:30")
	require.NoError(t, err)
	assert.True(t, iv.Daily)
	assert.Equal(t, 3, iv.Hour)
	assert.Equal(t, 30, iv.Minute)
}

func TestParseIntervalEmpty(t *testing.T) {
	iv, err := ParseInterval("")
	require.NoError(t, err)
	assert.True(t, iv.IsZero())
}

func TestParseIntervalInvalid(t *testing.T) {
	for _, in := range []string{"0", "-5", "abc", "@25:00", "@12:60", "@1:30", "@12", "@:30"} {
		_, err := ParseInterval(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	for _, minutes := range []int{1, 5, 60, 1440, 99999} {
		iv := Interval{Minutes: minutes}
		parsed, err := ParseInterval(FormatInterval(iv))
		require.NoError(t, err)
		assert.Equal(t, iv, parsed)
	}
	for hh := 0; hh < 24; hh += 3 {
		for mm := 0; mm < 60; mm += 7 {
			iv := Interval{Daily: true, Hour: hh, Minute: mm}
			parsed, err := ParseInterval(FormatInterval(iv))
			require.NoError(t, err, "interval %s", FormatInterval(iv))
			assert.Equal(t, iv, parsed)
		}
	}
}

func TestIntervalNextMinutes(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	iv := Interval{Minutes: 90}
	assert.Equal(t, now.Add(90*time.Minute), iv.Next(now))
}

func TestIntervalNextDaily(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Still ahead today.
	iv := Interval{Daily: true, Hour: 15, Minute: 45}
	assert.Equal(t, time.Date(2024, 6, 1, 15, 45, 0, 0, time.UTC), iv.Next(now))

	// Already passed: tomorrow.
	iv = Interval{Daily: true, Hour: 3, Minute: 30}
	assert.Equal(t, time.Date(2024, 6, 2, 3, 30, 0, 0, time.UTC), iv.Next(now))

	// Exactly now: tomorrow, never immediate.
	iv = Interval{Daily: true, Hour: 12, Minute: 0}
	assert.Equal(t, time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC), iv.Next(now))
}

func TestFormatIntervalZero(t *testing.T) {
	assert.Equal(t, "", FormatInterval(Interval{}))
}

func TestFormatIntervalPadding(t *testing.T) {
	got := FormatInterval(Interval{Daily: true, Hour: 7, Minute: 5})
	assert.Equal(t, "@07:05", got)
	_, err := ParseInterval(got)
	require.NoError(t, err)
}
