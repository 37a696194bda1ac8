package distribution

import (
	"math"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// TimeWindowMax is the largest value recorded over the trailing window.
// It rotates on the same schedule as a TimeWindowHistogram with the same
// Config, but every slot is a single atomic so no mutex is needed.
type TimeWindowMax struct {
	clock          clock.Clock
	bucketDuration int64

	ring []atomic.Uint64 // float64 bits

	rotating            atomic.Int32
	lastRotateTimestamp atomic.Int64
	currentBucket       atomic.Int32
}

// NewTimeWindowMax validates cfg and builds a decaying maximum.
func NewTimeWindowMax(clk clock.Clock, cfg Config) (*TimeWindowMax, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	m := &TimeWindowMax{
		clock:          clk,
		bucketDuration: int64(cfg.BucketDuration()),
		ring:           make([]atomic.Uint64, cfg.BufferLength),
	}
	m.lastRotateTimestamp.Store(clk.Now().UnixNano())
	return m, nil
}

// Record raises the maximum of every slot to at least v.
func (m *TimeWindowMax) Record(v float64) {
	if math.IsNaN(v) {
		return
	}
	m.rotate()
	for i := range m.ring {
		updateMax(&m.ring[i], v)
	}
}

// Poll returns the maximum over the window, or 0 if nothing was recorded.
func (m *TimeWindowMax) Poll() float64 {
	m.rotate()
	return math.Float64frombits(m.ring[m.currentBucket.Load()].Load())
}

func updateMax(slot *atomic.Uint64, v float64) {
	bits := math.Float64bits(v)
	for {
		prev := slot.Load()
		if math.Float64frombits(prev) >= v {
			return
		}
		if slot.CompareAndSwap(prev, bits) {
			return
		}
	}
}

func (m *TimeWindowMax) rotate() {
	now := m.clock.Now().UnixNano()
	last := m.lastRotateTimestamp.Load()
	elapsed := now - last
	if elapsed < m.bucketDuration {
		return
	}

	if !m.rotating.CompareAndSwap(rotationIdle, rotationActive) {
		return
	}
	defer m.rotating.Store(rotationIdle)

	last = m.lastRotateTimestamp.Load()
	elapsed = now - last
	if elapsed < m.bucketDuration {
		return
	}

	if elapsed >= m.bucketDuration*int64(len(m.ring)) {
		for i := range m.ring {
			m.ring[i].Store(0)
		}
		m.currentBucket.Store(0)
		m.lastRotateTimestamp.Store(now - elapsed%m.bucketDuration)
		return
	}

	current := m.currentBucket.Load()
	for elapsed >= m.bucketDuration {
		m.ring[current].Store(0)
		current++
		if int(current) >= len(m.ring) {
			current = 0
		}
		elapsed -= m.bucketDuration
		last += m.bucketDuration
	}
	m.currentBucket.Store(current)
	m.lastRotateTimestamp.Store(last)
}
