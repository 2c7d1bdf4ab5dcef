package stage

import (
	"fmt"
	"math"
)

// NumChannels is the number of motor channels on the controller.
const NumChannels = 3

// Channel identifies a motor channel by its front-panel label: 1, 2 or 3.
type Channel int

// index maps the caller-facing label to the zero-based index used on the
// wire.
func (c Channel) index() (int, error) {
	if c < 1 || c > NumChannels {
		return 0, fmt.Errorf("%w: channel %d not available", ErrConfiguration, c)
	}
	return int(c) - 1, nil
}

// AxisConfig binds a stage model to a channel. A channel with an empty
// Stage is left unbound and rejects all motion operations. Reversed flips
// the positive physical direction relative to raw encoder sign (for a focus
// axis, down as positive).
type AxisConfig struct {
	Stage    string `json:"stage,omitempty"`
	Reversed bool   `json:"reversed,omitempty"`
}

// axis is the per-channel mutable state, owned exclusively by the
// Controller. current is only ever set from a confirmed device read, and
// pending is nil exactly when the axis is idle.
type axis struct {
	spec   StageSpec
	bound  bool
	factor float64 // +1, or -1 when the axis direction is reversed

	current int32
	pending *int32

	upperLimitUM float64
	lowerLimitUM float64
	scanLowUM    float64
	scanHighUM   float64
	retractUM    float64
}

func newAxis(cfg AxisConfig) (*axis, error) {
	a := &axis{factor: 1}
	if cfg.Reversed {
		a.factor = -1
	}
	if cfg.Stage == "" {
		return a, nil
	}
	spec, err := StageByName(cfg.Stage)
	if err != nil {
		return nil, err
	}
	a.spec = spec
	a.bound = true
	a.upperLimitUM = spec.TravelLimitUM * a.factor
	a.lowerLimitUM = -spec.TravelLimitUM * a.factor
	a.scanHighUM = a.upperLimitUM
	a.scanLowUM = a.lowerLimitUM
	// Start the retract point one conversion step inside the upper bound.
	a.retractUM = a.scanHighUM - spec.ConversionUMPerCount*a.factor
	return a, nil
}

// umFromEncoder converts a raw encoder value to micrometers in the axis's
// physical direction.
func (a *axis) umFromEncoder(encoder int32) float64 {
	um := float64(encoder) * a.spec.ConversionUMPerCount * a.factor
	if um == 0 {
		return 0 // normalize -0.0
	}
	return um
}

// encoderFromUM converts micrometers to an encoder value, truncating toward
// zero. Round-tripping through umFromEncoder may differ from the input by
// up to one conversion step.
func (a *axis) encoderFromUM(um float64) int32 {
	return int32(um * a.factor / a.spec.ConversionUMPerCount)
}

// encoderRepresentable reports whether a micrometer value converts to an
// encoder value inside the device's signed 32-bit range. Converting a value
// outside it (or NaN) to int32 is platform-dependent, so callers check this
// before converting.
func (a *axis) encoderRepresentable(um float64) bool {
	counts := um * a.factor / a.spec.ConversionUMPerCount
	return !math.IsNaN(counts) && counts >= math.MinInt32 && counts <= math.MaxInt32
}

// within reports whether v lies between lo and hi. For a reversed axis lo
// is numerically the greater bound, so the comparison flips.
func (a *axis) within(lo, hi, v float64) bool {
	if a.factor < 0 {
		return lo >= v && v >= hi
	}
	return lo <= v && v <= hi
}

// reference is the encoder value relative motion is measured from: the
// pending target while a move is outstanding, the confirmed position
// otherwise.
func (a *axis) reference() int32 {
	if a.pending != nil {
		return *a.pending
	}
	return a.current
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
