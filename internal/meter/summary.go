package meter

import (
	"github.com/xtxerr/histwin/internal/config"
)

// Summary records arbitrary amounts such as payload sizes.
type Summary struct {
	*core
}

var _ Meter = (*Summary)(nil)

// Record adds one amount. Negative and NaN amounts are ignored.
func (s *Summary) Record(amount float64) {
	if !(amount >= 0) {
		return
	}
	s.recordDouble(amount)
}

func (s *Summary) Kind() string {
	return config.KindSummary
}

func (s *Summary) Scale() float64 {
	return 1
}
