// Package recerrs defines the sentinel error taxonomy shared by every
// recording-storage-engine package. Call sites wrap a sentinel with
// fmt.Errorf("...: %w", ...) so callers can still classify the failure
// with errors.Is while getting a human-readable detail message.
package recerrs

import "errors"

// Codec errors: malformed on-disk sample-index bytes. Never retried.
var (
	ErrBadVarint            = errors.New("bad varint")
	ErrNegativeDuration     = errors.New("negative duration")
	ErrZeroDurationMidIndex = errors.New("zero duration only allowed at end")
	ErrNonPositiveBytes     = errors.New("non-positive bytes")
)

// Protocol errors: caller-visible misuse, never retried.
var (
	ErrNonMonotonicPts  = errors.New("pts not monotonically increasing")
	ErrRangeOutOfBounds = errors.New("desired range out of bounds")
	ErrNoFrames         = errors.New("no frames")
	ErrNotKeyFrame      = errors.New("doesn't start with key frame")
	ErrCountMismatch    = errors.New("frame count mismatch")

	// ErrCapacityExceeded is returned from the index encoder when a
	// recording's encoded duration would exceed MAX_RECORDING_DURATION.
	ErrCapacityExceeded = errors.New("recording duration would exceed maximum")
)

// Invariant violations: logged as bugs, never expected to occur.
var (
	ErrMissingUnflushedSample = errors.New("writer missing unflushed sample")
)

// Benign I/O: logged as a warning and treated as success by callers.
var ErrNotExist = errors.New("file does not exist")

// Corruption: reported, never repaired, per the non-goal in the design.
var (
	ErrIndexChecksumMismatch = errors.New("sample index checksum mismatch")
	ErrTruncatedRow          = errors.New("truncated recording row")
)
