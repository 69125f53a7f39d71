package core

import (
	"fmt"
	"math"

	"github.com/mosaicnetworks/peernet/src/config"
)

// Schedule describes when a Control or a protocol's periodic step runs:
// every Step time units in [From, Until). A one-shot activation at time t is
// From=t, Until=t+1, Step=1. A Schedule with no Step never fires on its own;
// Fin marks controls that also run once when the experiment finishes.
type Schedule struct {
	From  int64
	Until int64
	Step  int64
	Fin   bool
}

// OneShot returns a Schedule firing once at time at.
func OneShot(at int64) Schedule {
	return Schedule{From: at, Until: at + 1, Step: 1}
}

// Periodic returns a Schedule firing every step from from until until.
func Periodic(from, until, step int64) Schedule {
	return Schedule{From: from, Until: until, Step: step}
}

// Active reports whether the schedule fires during the experiment.
func (s Schedule) Active() bool {
	return s.Step > 0 && s.From < s.Until
}

// InitialDelay returns the time of the first activation, or -1.
func (s Schedule) InitialDelay() int64 {
	if !s.Active() {
		return -1
	}
	return s.From
}

// NextDelay returns the delay from now to the next activation, or -1 when
// the schedule is exhausted.
func (s Schedule) NextDelay(now int64) int64 {
	if !s.Active() {
		return -1
	}
	if now > math.MaxInt64-s.Step || now+s.Step >= s.Until {
		return -1
	}
	return s.Step
}

// String ...
func (s Schedule) String() string {
	return fmt.Sprintf("Schedule{from:%d, until:%d, step:%d, fin:%v}", s.From, s.Until, s.Step, s.Fin)
}

// ScheduleFromSource reads prefix.at, prefix.from, prefix.until, prefix.step
// and prefix.FINAL. "at" takes precedence over the periodic keys.
func ScheduleFromSource(src config.Source, prefix string) (Schedule, error) {
	s := Schedule{
		Fin: src.BoolOr(prefix+".FINAL", false),
	}

	if src.Contains(prefix + ".at") {
		at, err := src.Int64(prefix + ".at")
		if err != nil {
			return s, err
		}
		if at < 0 {
			return s, fmt.Errorf("%s.at: negative time %d", prefix, at)
		}
		s.From, s.Until, s.Step = at, at+1, 1
		return s, nil
	}

	s.From = src.Int64Or(prefix+".from", 0)
	s.Until = src.Int64Or(prefix+".until", math.MaxInt64)
	s.Step = src.Int64Or(prefix+".step", 0)

	if s.Step < 0 {
		return s, fmt.Errorf("%s.step: negative step %d", prefix, s.Step)
	}
	if s.From < 0 {
		return s, fmt.Errorf("%s.from: negative time %d", prefix, s.From)
	}

	return s, nil
}
