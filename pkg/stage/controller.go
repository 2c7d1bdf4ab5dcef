package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// minEncoderMotion is the smallest encoder delta the hardware reliably
	// resolves as motion. Smaller non-zero deltas get an intervening nudge.
	minEncoderMotion = 5

	// nudgeUM is the throwaway relative move used to work around the
	// minimum-motion limitation.
	nudgeUM = 10.0

	defaultPollInterval = 100 * time.Millisecond
	// defaultMoveDeadline is the worst observed single-axis traverse time.
	defaultMoveDeadline = 6 * time.Second
)

// Config configures a controller connection.
type Config struct {
	// Port is the serial device, e.g. /dev/ttyUSB0 or COM3.
	Port string `json:"port"`

	// Name labels the controller in log output. Defaults to "MCM3000".
	Name string `json:"name,omitempty"`

	// Axes binds stage models to the three channels, in label order 1..3.
	// Channels with an empty Stage are left unbound.
	Axes [NumChannels]AxisConfig `json:"axes"`

	// Logger receives motion warnings and per-command detail. Defaults to
	// slog.Default().
	Logger *slog.Logger `json:"-"`
}

// MoveOutcome reports how a move resolved.
type MoveOutcome struct {
	// TimedOut is set when the deadline elapsed before the device confirmed
	// the target. The axis is forced back to idle at the last read
	// position; the controller does not retry.
	TimedOut bool

	// ResidualCounts is the encoder error remaining when TimedOut is set.
	ResidualCounts int32

	// EncoderValue is the confirmed encoder value after resolution.
	EncoderValue int32

	// PositionUM is EncoderValue converted to micrometers.
	PositionUM float64
}

// Controller drives a Thorlabs MCM3000/MCM3001 three-axis stage controller
// over its serial link. The link is owned exclusively by the controller
// from Open until Close; commands go out strictly one at a time. Methods
// are safe for concurrent use.
type Controller struct {
	mu   sync.Mutex
	tr   *transport
	name string
	log  *slog.Logger
	axes [NumChannels]*axis

	pollInterval time.Duration
	moveDeadline time.Duration
}

// Open connects to the controller and seeds each bound channel with one
// confirmed encoder read.
func Open(cfg Config) (*Controller, error) {
	tr, err := openTransport(cfg.Port)
	if err != nil {
		return nil, err
	}
	c, err := newController(tr, cfg)
	if err != nil {
		tr.close()
		return nil, err
	}
	return c, nil
}

func newController(tr *transport, cfg Config) (*Controller, error) {
	name := cfg.Name
	if name == "" {
		name = "MCM3000"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		tr:           tr,
		name:         name,
		log:          logger,
		pollInterval: defaultPollInterval,
		moveDeadline: defaultMoveDeadline,
	}
	for i, ac := range cfg.Axes {
		a, err := newAxis(ac)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
		c.axes[i] = a
	}
	for i, a := range c.axes {
		if !a.bound {
			continue
		}
		enc, err := c.readEncoder(i)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
		a.current = enc
		c.log.Debug("axis initialized",
			"controller", c.name, "channel", i+1, "stage", a.spec.Name, "encoder", enc)
	}
	return c, nil
}

// Close releases the serial link. Idempotent. In-flight moves are not
// resolved; call ResolveMove first if the final position matters.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.close()
}

// readEncoder queries the device for a channel's encoder value.
func (c *Controller) readEncoder(index int) (int32, error) {
	resp, err := c.tr.send(encodeQueryPosition(index), positionResponseLen)
	if err != nil {
		return 0, err
	}
	return decodePositionResponse(resp, index)
}

// axisFor validates the channel label and requires a bound stage.
func (c *Controller) axisFor(ch Channel) (int, *axis, error) {
	idx, err := ch.index()
	if err != nil {
		return 0, nil, err
	}
	a := c.axes[idx]
	if !a.bound {
		return 0, nil, fmt.Errorf("%w: channel %d has no stage bound", ErrConfiguration, ch)
	}
	return idx, a, nil
}

// GetPositionUM reads the channel's position from the device. The read does
// not touch axis state; the confirmed position is only updated when a move
// resolves.
func (c *Controller) GetPositionUM(ch Channel) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionUM(ch)
}

func (c *Controller) positionUM(ch Channel) (float64, error) {
	idx, a, err := c.axisFor(ch)
	if err != nil {
		return 0, err
	}
	enc, err := c.readEncoder(idx)
	if err != nil {
		return 0, err
	}
	return a.umFromEncoder(enc), nil
}

// legalMove is a validated, quantized move target.
type legalMove struct {
	idx       int
	a         *axis
	targetEnc int32
	um        float64
}

// legalize converts a requested move to an absolute encoder target,
// applies the minimum-motion guard, and validates the realized micrometer
// value against the active bounds. A nil result with nil error means the
// axis is already on target.
func (c *Controller) legalize(ctx context.Context, ch Channel, valueUM float64, relative bool) (*legalMove, error) {
	idx, a, err := c.axisFor(ch)
	if err != nil {
		return nil, err
	}
	if !a.encoderRepresentable(valueUM) {
		return nil, fmt.Errorf("%w: channel %d: %v um is outside the encoder's range",
			ErrOutOfRange, ch, valueUM)
	}
	targetEnc := a.encoderFromUM(valueUM)
	if relative {
		targetEnc += a.reference()
	}
	needed, err := c.checkMinMotion(ctx, ch, idx, a, targetEnc)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	// The realized value is quantized to a whole encoder step and may
	// differ slightly from the request; it is what gets bounds-checked.
	um := a.umFromEncoder(targetEnc)
	if !a.within(a.scanLowUM, a.scanHighUM, um) {
		return nil, fmt.Errorf("%w: channel %d: move to %.4f um exceeds bounds [%.4f, %.4f]",
			ErrOutOfRange, ch, um, a.scanLowUM, a.scanHighUM)
	}
	return &legalMove{idx: idx, a: a, targetEnc: targetEnc, um: um}, nil
}

// checkMinMotion reports whether motion is needed at all. A target equal to
// the reference encoder value needs none. A non-zero delta below
// minEncoderMotion is too small for the hardware to register, so a
// throwaway nudge-and-settle runs first; the nudge direction flips when the
// default would leave the scan bounds, and the nudge is skipped when
// neither direction fits.
func (c *Controller) checkMinMotion(ctx context.Context, ch Channel, idx int, a *axis, targetEnc int32) (bool, error) {
	ref := a.reference()
	if targetEnc == ref {
		return false, nil
	}
	if abs32(targetEnc-ref) >= minEncoderMotion {
		return true, nil
	}
	nudge := nudgeUM
	if !a.within(a.scanLowUM, a.scanHighUM, a.umFromEncoder(ref+a.encoderFromUM(nudge))) {
		nudge = -nudge
		if !a.within(a.scanLowUM, a.scanHighUM, a.umFromEncoder(ref+a.encoderFromUM(nudge))) {
			c.log.Warn("minimum-motion nudge skipped, no room inside scan bounds",
				"controller", c.name, "channel", int(ch))
			return true, nil
		}
	}
	c.log.Debug("minimum-motion nudge",
		"controller", c.name, "channel", int(ch), "nudge_um", nudge)
	if err := c.issueMove(ctx, ch, idx, a, ref+a.encoderFromUM(nudge)); err != nil {
		return false, err
	}
	if _, err := c.resolve(ctx, ch, idx, a); err != nil {
		return false, err
	}
	return true, nil
}

// issueMove sends a move command and marks the axis moving. An outstanding
// move on the same axis is resolved first; moves are never pipelined per
// axis.
func (c *Controller) issueMove(ctx context.Context, ch Channel, idx int, a *axis, target int32) error {
	if a.pending != nil {
		if _, err := c.resolve(ctx, ch, idx, a); err != nil {
			return err
		}
	}
	if _, err := c.tr.send(encodeMoveTo(idx, target), 0); err != nil {
		return err
	}
	t := target
	a.pending = &t
	c.log.Debug("move issued",
		"controller", c.name, "channel", int(ch), "target_encoder", target)
	return nil
}

// resolve blocks until the device confirms the pending target or the
// deadline elapses. On timeout the axis is forced back to idle at the last
// read position and the residual error is reported in the outcome rather
// than retried.
func (c *Controller) resolve(ctx context.Context, ch Channel, idx int, a *axis) (MoveOutcome, error) {
	if a.pending == nil {
		return MoveOutcome{EncoderValue: a.current, PositionUM: a.umFromEncoder(a.current)}, nil
	}
	target := *a.pending
	deadline := time.Now().Add(c.moveDeadline)
	enc, err := c.readEncoder(idx)
	if err != nil {
		return MoveOutcome{}, err
	}
	var out MoveOutcome
	for enc != target {
		if time.Now().After(deadline) {
			out.TimedOut = true
			out.ResidualCounts = enc - target
			level := slog.LevelWarn
			if abs32(out.ResidualCounts) > 1 {
				level = slog.LevelError
			}
			c.log.Log(ctx, level, "motion timed out",
				"controller", c.name, "channel", int(ch),
				"residual_counts", out.ResidualCounts)
			break
		}
		select {
		case <-ctx.Done():
			a.current = enc
			a.pending = nil
			out.EncoderValue = enc
			out.PositionUM = a.umFromEncoder(enc)
			return out, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if enc, err = c.readEncoder(idx); err != nil {
			return MoveOutcome{}, err
		}
	}
	a.current = enc
	a.pending = nil
	out.EncoderValue = enc
	out.PositionUM = a.umFromEncoder(enc)
	return out, nil
}

// LegalizeMoveUM validates a requested move against the active bounds and
// returns the micrometer value actually achievable, quantized to a whole
// encoder step. A nil result means the axis is already on target. A request
// whose encoder delta is non-zero but below the minimum-motion threshold
// triggers a throwaway nudge move before the check completes.
func (c *Controller) LegalizeMoveUM(ctx context.Context, ch Channel, valueUM float64, relative bool) (*float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lm, err := c.legalize(ctx, ch, valueUM, relative)
	if err != nil || lm == nil {
		return nil, err
	}
	um := lm.um
	return &um, nil
}

// MoveUM moves a channel to the requested micrometer position, or by the
// requested delta when relative is true. It returns the legalized value
// actually targeted; a nil value means the axis was already on target and
// nothing was written. With blocking false the axis is left moving and must
// be resolved later; a conflicting move on the same channel resolves it
// implicitly.
func (c *Controller) MoveUM(ctx context.Context, ch Channel, valueUM float64, relative, blocking bool) (*float64, MoveOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveUM(ctx, ch, valueUM, relative, blocking)
}

func (c *Controller) moveUM(ctx context.Context, ch Channel, valueUM float64, relative, blocking bool) (*float64, MoveOutcome, error) {
	lm, err := c.legalize(ctx, ch, valueUM, relative)
	if err != nil {
		return nil, MoveOutcome{}, err
	}
	if lm == nil {
		_, a, _ := c.axisFor(ch)
		c.log.Debug("already in position",
			"controller", c.name, "channel", int(ch), "requested_um", valueUM)
		return nil, MoveOutcome{EncoderValue: a.current, PositionUM: a.umFromEncoder(a.current)}, nil
	}
	if err := c.issueMove(ctx, ch, lm.idx, lm.a, lm.targetEnc); err != nil {
		return nil, MoveOutcome{}, err
	}
	um := lm.um
	if !blocking {
		return &um, MoveOutcome{}, nil
	}
	out, err := c.resolve(ctx, ch, lm.idx, lm.a)
	return &um, out, err
}

// MoveToZero moves a channel to encoder zero.
func (c *Controller) MoveToZero(ctx context.Context, ch Channel, blocking bool) (*float64, MoveOutcome, error) {
	return c.MoveUM(ctx, ch, 0, false, blocking)
}

// ResolveMove blocks until the channel's outstanding move confirms or times
// out. A no-op when the axis is idle.
func (c *Controller) ResolveMove(ctx context.Context, ch Channel) (MoveOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, a, err := c.axisFor(ch)
	if err != nil {
		return MoveOutcome{}, err
	}
	return c.resolve(ctx, ch, idx, a)
}

// SetScanLimit sets the lower or upper scan bound for a channel. With a nil
// value the current device position becomes the bound. The bound must lie
// within the stage's physical travel limits. When the upper bound tightens
// past the retract point, the retract point is pulled in to match. Returns
// the stored bound.
func (c *Controller) SetScanLimit(ch Channel, lower bool, valueUM *float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, a, err := c.axisFor(ch)
	if err != nil {
		return 0, err
	}
	var target float64
	if valueUM != nil {
		target = *valueUM
	} else {
		if target, err = c.positionUM(ch); err != nil {
			return 0, err
		}
	}
	// A bound must stay inside the physical travel limits and must not
	// cross the opposite scan bound, or the axis would be left with an
	// empty scan range that rejects every move.
	lo, hi := a.lowerLimitUM, a.scanHighUM
	if !lower {
		lo, hi = a.scanLowUM, a.upperLimitUM
	}
	if !a.within(lo, hi, target) {
		return 0, fmt.Errorf("%w: channel %d: limit %.4f um outside [%.4f, %.4f]",
			ErrOutOfRange, ch, target, lo, hi)
	}
	if lower {
		a.scanLowUM = target
		c.log.Debug("lowest scan point set",
			"controller", c.name, "channel", int(ch), "um", target)
		return target, nil
	}
	a.scanHighUM = target
	c.log.Debug("highest scan point set",
		"controller", c.name, "channel", int(ch), "um", target)
	// Keep the retract point inside the new scan range.
	if a.factor < 0 {
		if a.retractUM < a.scanHighUM {
			a.retractUM = a.scanHighUM
		}
	} else if a.retractUM > a.scanHighUM {
		a.retractUM = a.scanHighUM
	}
	return target, nil
}

// ScanLimitsUM returns a channel's scan bounds.
func (c *Controller) ScanLimitsUM(ch Channel) (lowest, highest float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, a, err := c.axisFor(ch)
	if err != nil {
		return 0, 0, err
	}
	return a.scanLowUM, a.scanHighUM, nil
}

// SetRetractPoint sets the safe position a channel retracts to before other
// axes engage. A nil value uses the current device position; with relative
// true the value offsets the current position. The point must lie within
// the scan bounds. Returns the stored point.
func (c *Controller) SetRetractPoint(ch Channel, valueUM *float64, relative bool) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, a, err := c.axisFor(ch)
	if err != nil {
		return 0, err
	}
	var target float64
	switch {
	case valueUM != nil && relative:
		pos, err := c.positionUM(ch)
		if err != nil {
			return 0, err
		}
		target = *valueUM + pos
	case valueUM != nil:
		target = *valueUM
	default:
		if target, err = c.positionUM(ch); err != nil {
			return 0, err
		}
	}
	if !a.within(a.scanLowUM, a.scanHighUM, target) {
		return 0, fmt.Errorf("%w: channel %d: retract point %.4f um exceeds scan bounds [%.4f, %.4f]",
			ErrOutOfRange, ch, target, a.scanLowUM, a.scanHighUM)
	}
	a.retractUM = target
	c.log.Debug("retract point set",
		"controller", c.name, "channel", int(ch), "um", target)
	return target, nil
}

// RetractPointUM returns a channel's stored retract point.
func (c *Controller) RetractPointUM(ch Channel) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, a, err := c.axisFor(ch)
	if err != nil {
		return 0, err
	}
	return a.retractUM, nil
}

// Retract moves a channel to its retract point and blocks to completion.
// Call before engaging a different axis to keep the objective clear of the
// sample.
func (c *Controller) Retract(ctx context.Context, ch Channel) (MoveOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, a, err := c.axisFor(ch)
	if err != nil {
		return MoveOutcome{}, err
	}
	_, out, err := c.moveUM(ctx, ch, a.retractUM*a.factor, false, true)
	return out, err
}

// ZeroEncoder sets the device-resident encoder zero for a channel to its
// current position, blocking until the device confirms the reset. Travel
// and scan limits are not rebased: unless the axis sits at mid-travel,
// re-establish them after zeroing.
func (c *Controller) ZeroEncoder(ctx context.Context, ch Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, a, err := c.axisFor(ch)
	if err != nil {
		return err
	}
	if a.pending != nil {
		if _, err := c.resolve(ctx, ch, idx, a); err != nil {
			return err
		}
	}
	if _, err := c.tr.send(encodeZeroEncoder(idx), 0); err != nil {
		return err
	}
	deadline := time.Now().Add(c.moveDeadline)
	for {
		enc, err := c.readEncoder(idx)
		if err != nil {
			return err
		}
		if enc == 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: channel %d: encoder reset unconfirmed (still at %d)",
				ErrMotionTimeout, ch, enc)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	a.current = 0
	c.log.Debug("encoder zeroed", "controller", c.name, "channel", int(ch))
	return nil
}
