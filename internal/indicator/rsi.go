package indicator

// RSI is Wilder's Relative Strength Index. The first period deltas seed the
// averages with a plain mean; later deltas are smoothed.
type RSI struct {
	period  int
	count   int
	prev    float64
	avgGain float64
	avgLoss float64
	current float64
}

// NewRSI returns an RSI over period deltas.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(v float64) {
	r.count++

	if r.count == 1 {
		r.prev = v
		return
	}

	delta := v - r.prev
	r.prev = v

	gain, loss := max(delta, 0), max(-delta, 0)

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFrom(r.avgGain, r.avgLoss)
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFrom(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
