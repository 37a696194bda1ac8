package meter

import (
	"time"

	"github.com/xtxerr/histwin/internal/config"
)

// Timer records durations. Values are kept in nanoseconds and exported in
// seconds.
type Timer struct {
	*core
}

var _ Meter = (*Timer)(nil)

// Record adds one duration. Negative durations are ignored.
func (t *Timer) Record(d time.Duration) {
	if d < 0 {
		return
	}
	t.recordLong(int64(d))
}

// Time runs f and records how long it took.
func (t *Timer) Time(f func()) {
	start := t.clock.Now()
	defer func() {
		t.Record(t.clock.Since(start))
	}()
	f()
}

func (t *Timer) Kind() string {
	return config.KindTimer
}

func (t *Timer) Scale() float64 {
	return float64(time.Second)
}
