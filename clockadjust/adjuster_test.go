package clockadjust

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// runFrames feeds n frames of dur each through a, returning the sum of
// the adjusted durations it returns.
func runFrames(a *Adjuster, dur int32, n int) int64 {
	var sum int64
	for range n {
		sum += int64(a.Adjust(dur))
	}

	return sum
}

func TestAdjusterDisabledForNilDelta(t *testing.T) {
	a := New(nil)
	require.Equal(t, int64(5_400_000), runFrames(&a, 3000, 1800))
}

func TestAdjusterDisabledBelowThreshold(t *testing.T) {
	for _, d := range []int64{-60, 0, 60} {
		delta := d
		a := New(&delta)
		require.Equal(t, int64(5_400_000), runFrames(&a, 3000, 1800), "delta=%d", d)
	}
}

func TestAdjusterTargetsNegativeDeltaOverOneRecording(t *testing.T) {
	delta := int64(-120)
	a := New(&delta)

	total := runFrames(&a, 3000, 1800) // one minute of 3000-tick frames
	require.Equal(t, int64(5_400_000-120), total)
}

func TestAdjusterTargetsPositiveDeltaOverOneRecording(t *testing.T) {
	delta := int64(120)
	a := New(&delta)

	total := runFrames(&a, 3000, 1800)
	require.Equal(t, int64(5_400_000+120), total)
}

func TestAdjusterCapsAtMaxPpm(t *testing.T) {
	delta := int64(-100_000) // far beyond the cap
	a := New(&delta)

	total := runFrames(&a, 3000, 1800)
	require.Equal(t, int64(5_400_000-capTicksPerMinute), total)
}

func TestAdjusterCapsAtMaxPpmPositive(t *testing.T) {
	delta := int64(100_000)
	a := New(&delta)

	total := runFrames(&a, 3000, 1800)
	require.Equal(t, int64(5_400_000+capTicksPerMinute), total)
}
