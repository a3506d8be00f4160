// Package gesture turns raw drag input into committed navigation intents.
//
// A gesture starts undetermined. Once either axis has moved past the lock
// distance and one axis dominates the other by the lock ratio, the gesture
// locks to that axis until it ends. Before locking, feedback follows the
// dominant axis 1:1 so the surface never feels sticky.
//
// The classifier is pure state: no clocks, no goroutines. Identical input
// sequences always yield identical results.
package gesture

import "math"

// Vector is a 2-D displacement or velocity in container points.
type Vector struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Axis is a drag axis.
type Axis int

const (
	AxisNone Axis = iota
	AxisHorizontal
	AxisVertical
)

func (a Axis) String() string {
	switch a {
	case AxisHorizontal:
		return "horizontal"
	case AxisVertical:
		return "vertical"
	default:
		return "none"
	}
}

// Direction is a committed swipe, named for the finger's motion.
// Up advances to the next thread, Left advances to the next stitch.
type Direction int

const (
	None Direction = iota
	Up
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "none"
	}
}

// ParseDirection is the inverse of Direction.String. Unknown names map to None.
func ParseDirection(s string) Direction {
	switch s {
	case "up":
		return Up
	case "down":
		return Down
	case "left":
		return Left
	case "right":
		return Right
	default:
		return None
	}
}

// Axis returns the axis the direction moves along.
func (d Direction) Axis() Axis {
	switch d {
	case Up, Down:
		return AxisVertical
	case Left, Right:
		return AxisHorizontal
	default:
		return AxisNone
	}
}

// Thresholds tune classification. All distances are in container points.
type Thresholds struct {
	LockDistance   float64 // either axis must exceed this before locking
	LockRatio      float64 // dominant axis must exceed the other by this factor
	CommitDistance float64 // effective distance required to commit
	VelocityBoost  float64 // release velocity multiplier added to distance
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LockDistance:   3,
		LockRatio:      1.3,
		CommitDistance: 40,
		VelocityBoost:  0.2,
	}
}

// Feedback is what the surface should render while a drag is in progress.
type Feedback struct {
	Axis   Axis   // best-guess axis; the locked axis once Locked
	Locked bool   // direction has locked for the rest of the gesture
	Offset Vector // drag offset projected onto Axis
}

// Classifier tracks one gesture at a time.
type Classifier struct {
	th     Thresholds
	locked Axis
	hint   Axis
}

// New creates a classifier.
func New(th Thresholds) *Classifier {
	return &Classifier{th: th}
}

// Thresholds returns the classifier's tuning.
func (c *Classifier) Thresholds() Thresholds {
	return c.th
}

// DragChanged feeds the current cumulative translation.
// horizontalAllowed is false when the current thread has no stitches; a
// horizontal-dominant drag is then treated as vertical.
func (c *Classifier) DragChanged(translation Vector, horizontalAllowed bool) Feedback {
	c.observe(translation, horizontalAllowed)

	axis := c.hint
	if c.locked != AxisNone {
		axis = c.locked
	}
	return Feedback{
		Axis:   axis,
		Locked: c.locked != AxisNone,
		Offset: project(translation, axis),
	}
}

// DragEnded classifies the release and resets to neutral regardless of the
// outcome.
func (c *Classifier) DragEnded(translation, velocity Vector, horizontalAllowed bool) Direction {
	defer c.Reset()

	c.observe(translation, horizontalAllowed)
	if c.locked == AxisNone {
		return None
	}

	var dist, vel float64
	var dir Direction
	switch c.locked {
	case AxisHorizontal:
		dist, vel = translation.X, velocity.X
		dir = signed(dist, vel, Left, Right)
	case AxisVertical:
		dist, vel = translation.Y, velocity.Y
		dir = signed(dist, vel, Up, Down)
	}

	if dir == None {
		return None
	}
	// Locked horizontally while stitches existed, released after they went away.
	if dir.Axis() == AxisHorizontal && !horizontalAllowed {
		return None
	}

	effective := math.Abs(dist) + math.Abs(vel)*c.th.VelocityBoost
	if effective <= c.th.CommitDistance {
		return None
	}
	return dir
}

// AxisHint returns the current best-guess axis (the locked axis once locked).
func (c *Classifier) AxisHint() Axis {
	if c.locked != AxisNone {
		return c.locked
	}
	return c.hint
}

// Locked returns the locked axis, AxisNone while undetermined.
func (c *Classifier) Locked() Axis {
	return c.locked
}

// Reset returns the classifier to neutral.
func (c *Classifier) Reset() {
	c.locked = AxisNone
	c.hint = AxisNone
}

func (c *Classifier) observe(t Vector, horizontalAllowed bool) {
	if c.locked != AxisNone {
		return
	}

	ax, ay := math.Abs(t.X), math.Abs(t.Y)

	switch {
	case ax == 0 && ay == 0:
		c.hint = AxisNone
	case ax > ay && horizontalAllowed:
		c.hint = AxisHorizontal
	default:
		c.hint = AxisVertical
	}

	if ax <= c.th.LockDistance && ay <= c.th.LockDistance {
		return
	}

	switch {
	case ax > ay*c.th.LockRatio:
		if horizontalAllowed {
			c.locked = AxisHorizontal
		} else {
			c.locked = AxisVertical
		}
	case ay > ax*c.th.LockRatio:
		c.locked = AxisVertical
	}
}

// signed picks neg or pos from the sign of the displacement, falling back to
// the velocity sign for a zero displacement.
func signed(dist, vel float64, neg, pos Direction) Direction {
	v := dist
	if v == 0 {
		v = vel
	}
	switch {
	case v < 0:
		return neg
	case v > 0:
		return pos
	default:
		return None
	}
}

func project(t Vector, axis Axis) Vector {
	switch axis {
	case AxisHorizontal:
		return Vector{X: t.X}
	case AxisVertical:
		return Vector{Y: t.Y}
	default:
		return Vector{}
	}
}
