// Package clockadjust implements ClockAdjuster, which spreads a small
// per-recording timestamp correction uniformly across frame durations
// so a camera's clock-frequency error doesn't visibly speed up or slow
// down playback.
package clockadjust

import "math"

// capTicksPerMinute is the ±500ppm cap: 2700 ticks per minute of 90kHz
// ticks (90000*60*0.0005 = 2700).
const capTicksPerMinute = 2700

// disableThreshold is the delta magnitude below which adjustment is not
// worth doing.
const disableThreshold = 60

// Adjuster spreads a signed correction across the frames of one
// recording. Every every_minus_1+1 ticks of accumulated input duration,
// it subtracts ndir ticks from a frame.
type Adjuster struct {
	everyMinus1 int32 // i32::MAX disables adjustment
	ndir        int32 // +-1, or 0 when disabled
	cur         int32
}

// New picks an adjustment rate that corrects delta90k over the next
// recording (roughly DESIRED_RECORDING_DURATION), capped at ±500ppm.
// A nil delta, or one within [-60, 60], disables adjustment.
func New(delta90k *int64) Adjuster {
	if delta90k == nil {
		return Adjuster{everyMinus1: math.MaxInt32}
	}

	d := *delta90k
	switch {
	case d <= -capTicksPerMinute:
		return Adjuster{everyMinus1: 1999, ndir: 1}
	case d >= capTicksPerMinute:
		return Adjuster{everyMinus1: 1999, ndir: -1}
	case d < -disableThreshold:
		return Adjuster{everyMinus1: int32(60*90000/-d) - 1, ndir: 1}
	case d > disableThreshold:
		return Adjuster{everyMinus1: int32(60*90000/d) - 1, ndir: -1}
	default:
		return Adjuster{everyMinus1: math.MaxInt32}
	}
}

// Adjust accumulates v into the running total and, while the
// accumulator exceeds everyMinus1 and v still has room to absorb a
// correction (v > ndir, which only matters while shrinking durations),
// subtracts ndir from v and everyMinus1+1 from the accumulator. It
// returns the (possibly corrected) duration to record.
func (a *Adjuster) Adjust(v int32) int32 {
	a.cur += v

	for a.cur > a.everyMinus1 && v > a.ndir {
		v -= a.ndir
		a.cur -= a.everyMinus1 + 1
	}

	return v
}
