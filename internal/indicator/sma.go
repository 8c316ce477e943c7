package indicator

// SMA is the arithmetic mean of the most recent period values.
type SMA struct {
	period int
	window []float64 // oldest first, len <= period
	sum    float64
}

// NewSMA returns an SMA over period values.
func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, 0, period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(v float64) {
	if len(s.window) == s.period {
		s.sum -= s.window[0]
		s.window = append(s.window[:0], s.window[1:]...)
	}
	s.window = append(s.window, v)
	s.sum += v
}

// Value is 0 until period values have been seen.
func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.sum / float64(s.period)
}

func (s *SMA) Ready() bool { return s.period > 0 && len(s.window) == s.period }
