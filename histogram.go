package cmcd

import (
	"math"
)

// estimatedHistogram decodes the bucket arrays Cassandra exposes for
// its EstimatedRowSizeHistogram and EstimatedColumnCountHistogram
// gauges. The last bucket counts values beyond the largest offset.
type estimatedHistogram struct {
	offsets []int64
	buckets []int64
}

// estimatedOffsets returns n bucket offsets: 1, then each offset 1.2
// times the previous one, rounded and always strictly increasing.
func estimatedOffsets(n int) []int64 {
	if n <= 0 {
		return nil
	}

	out := make([]int64, n)
	last := int64(1)
	out[0] = last
	for i := 1; i < n; i++ {
		next := int64(math.Round(float64(last) * 1.2))
		if next == last {
			next++
		}
		out[i] = next
		last = next
	}

	return out
}

func newEstimatedHistogram(buckets []int64) *estimatedHistogram {
	return &estimatedHistogram{
		offsets: estimatedOffsets(len(buckets)),
		buckets: buckets,
	}
}

func (h *estimatedHistogram) overflowed() bool {
	return len(h.buckets) > 0 && h.buckets[len(h.buckets)-1] > 0
}

func (h *estimatedHistogram) count() int64 {
	var sum int64
	for _, b := range h.buckets {
		sum += b
	}
	return sum
}

func (h *estimatedHistogram) percentile(p float64) int64 {
	pcount := int64(math.Ceil(float64(h.count()) * p))
	if pcount == 0 {
		return 0
	}

	var elements int64
	for i := 0; i < len(h.buckets)-1; i++ {
		elements += h.buckets[i]
		if elements >= pcount {
			return h.offsets[i]
		}
	}

	return 0
}

func (h *estimatedHistogram) min() int64 {
	for i, b := range h.buckets {
		if b > 0 {
			if i == 0 {
				return 0
			}
			return 1 + h.offsets[i-1]
		}
	}
	return 0
}

func (h *estimatedHistogram) max() int64 {
	if h.overflowed() {
		return math.MaxInt64
	}

	for i := len(h.buckets) - 2; i >= 0; i-- {
		if h.buckets[i] > 0 {
			return h.offsets[i]
		}
	}
	return 0
}

var estimatedPercentiles = []struct {
	metric string
	p      float64
}{
	{"50percentile", 0.5},
	{"75percentile", 0.75},
	{"95percentile", 0.95},
	{"98percentile", 0.98},
	{"99percentile", 0.99},
}

type namedValue struct {
	metric string
	value  float64
}

// decodeEstimatedHistogram returns the percentiles, min and max of a
// bucket array, in that order. An empty array yields NaN everywhere;
// an overflowed one yields NaN percentiles.
func decodeEstimatedHistogram(buckets []int64) []namedValue {
	out := make([]namedValue, 0, len(estimatedPercentiles)+2)

	if len(buckets) == 0 {
		for _, ep := range estimatedPercentiles {
			out = append(out, namedValue{ep.metric, math.NaN()})
		}
		return append(out, namedValue{"min", math.NaN()}, namedValue{"max", math.NaN()})
	}

	h := newEstimatedHistogram(buckets)
	for _, ep := range estimatedPercentiles {
		if h.overflowed() {
			out = append(out, namedValue{ep.metric, math.NaN()})
			continue
		}
		out = append(out, namedValue{ep.metric, float64(h.percentile(ep.p))})
	}

	return append(out,
		namedValue{"min", float64(h.min())},
		namedValue{"max", float64(h.max())},
	)
}
