package cmcd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricsOf(ms []RawMeasurement) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Metric)
	}
	return out
}

func TestKindOf(t *testing.T) {
	for _, test := range []struct {
		name  string
		attrs map[string]float64
		kind  BeanKind
	}{
		{"Timer", map[string]float64{"50thPercentile": 1, "OneMinuteRate": 1, "Count": 1}, KindTimer},
		{"Meter", map[string]float64{"OneMinuteRate": 1, "Count": 1}, KindMeter},
		{"Histogram", map[string]float64{"50thPercentile": 1, "Count": 1}, KindHistogram},
		{"Counter", map[string]float64{"Count": 1}, KindCounter},
		{"Gauge", map[string]float64{"Value": 1}, KindGauge},
		{"Unknown", map[string]float64{"Other": 1}, KindUnknown},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.kind, KindOf(Bean{Attributes: test.attrs}))
		})
	}
	assert.Equal(t, KindGauge, KindOf(Bean{Buckets: []int64{}}))
	assert.Equal(t, "timer", KindTimer.String())
}

func TestDecodeBean(t *testing.T) {
	res := MustParseResourceID("org.apache.cassandra.metrics:type=ClientRequest,scope=Read,name=Latency")

	t.Run("Timer", func(t *testing.T) {
		attrs := map[string]float64{}
		for _, am := range timerMetrics {
			attrs[am.attr] = 2
		}
		ms := DecodeBean(Bean{Resource: res, Attributes: attrs}, 10)
		assert.Equal(t, []string{
			"50percentile", "75percentile", "95percentile", "98percentile", "99percentile", "999percentile",
			"1MinuteRate", "5MinuteRate", "15MinuteRate", "count", "max", "mean", "meanRate", "min", "stddev",
		}, metricsOf(ms))
		for _, m := range ms {
			assert.Equal(t, DomainApplication, m.Domain)
			assert.EqualValues(t, 10, m.Timestamp)
			assert.EqualValues(t, 2, m.Value)
		}
	})
	t.Run("Meter", func(t *testing.T) {
		ms := DecodeBean(Bean{Resource: res, Attributes: map[string]float64{
			"OneMinuteRate": 1, "FiveMinuteRate": 5, "FifteenMinuteRate": 15, "Count": 3, "MeanRate": 0.5,
		}}, 10)
		assert.Equal(t, []string{"15MinuteRate", "1MinuteRate", "5MinuteRate", "count", "meanRate"}, metricsOf(ms))
		assert.EqualValues(t, 15, ms[0].Value)
	})
	t.Run("Histogram", func(t *testing.T) {
		attrs := map[string]float64{}
		for _, am := range histogramMetrics {
			attrs[am.attr] = 1
		}
		ms := DecodeBean(Bean{Resource: res, Attributes: attrs}, 10)
		assert.Equal(t, []string{
			"50percentile", "75percentile", "95percentile", "98percentile", "99percentile", "999percentile",
			"max", "mean", "min", "stddev",
		}, metricsOf(ms))
	})
	t.Run("Counter", func(t *testing.T) {
		ms := DecodeBean(Bean{Resource: res, Attributes: map[string]float64{"Count": 7}}, 10)
		require.Len(t, ms, 1)
		assert.Equal(t, "count", ms[0].Metric)
		assert.EqualValues(t, 7, ms[0].Value)
	})
	t.Run("Gauge", func(t *testing.T) {
		ms := DecodeBean(Bean{Resource: res, Attributes: map[string]float64{"Value": 0.25}}, 10)
		require.Len(t, ms, 1)
		assert.Equal(t, "value", ms[0].Metric)
	})
	t.Run("NonNumericGauge", func(t *testing.T) {
		assert.Empty(t, DecodeBean(Bean{Resource: res, HasValue: true}, 10))
	})
	t.Run("EstimatedHistogramGauge", func(t *testing.T) {
		ehres := MustParseResourceID("org.apache.cassandra.metrics:type=ColumnFamily,keyspace=ks,scope=t,name=EstimatedRowSizeHistogram")
		ms := DecodeBean(Bean{Resource: ehres, Buckets: []int64{0, 1, 0, 1, 0}}, 10)
		assert.Equal(t, []string{"50percentile", "75percentile", "95percentile", "98percentile", "99percentile", "min", "max"}, metricsOf(ms))
	})
	t.Run("Unknown", func(t *testing.T) {
		assert.Empty(t, DecodeBean(Bean{Resource: res}, 10))
	})
}

func TestEstimatedHistogram(t *testing.T) {
	t.Run("Offsets", func(t *testing.T) {
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12, 14, 17}, estimatedOffsets(12))
		assert.Nil(t, estimatedOffsets(0))
	})
	t.Run("Empty", func(t *testing.T) {
		values := decodeEstimatedHistogram(nil)
		require.Len(t, values, 7)
		for _, v := range values {
			assert.True(t, math.IsNaN(v.value), v.metric)
		}
	})
	t.Run("Percentiles", func(t *testing.T) {
		// ten values in the bucket at offset 2 and ten at offset 4
		values := decodeEstimatedHistogram([]int64{0, 10, 0, 10, 0})
		byName := map[string]float64{}
		for _, v := range values {
			byName[v.metric] = v.value
		}

		assert.EqualValues(t, 2, byName["50percentile"])
		assert.EqualValues(t, 4, byName["75percentile"])
		assert.EqualValues(t, 4, byName["99percentile"])
		assert.EqualValues(t, 2, byName["min"])
		assert.EqualValues(t, 4, byName["max"])
	})
	t.Run("Overflowed", func(t *testing.T) {
		values := decodeEstimatedHistogram([]int64{1, 0, 1})
		byName := map[string]float64{}
		for _, v := range values {
			byName[v.metric] = v.value
		}

		assert.True(t, math.IsNaN(byName["50percentile"]))
		assert.True(t, math.IsNaN(byName["99percentile"]))
		assert.EqualValues(t, 0, byName["min"])
		assert.Equal(t, float64(math.MaxInt64), byName["max"])
	})
	t.Run("AllZero", func(t *testing.T) {
		h := newEstimatedHistogram([]int64{0, 0, 0})
		assert.Zero(t, h.percentile(0.5))
		assert.Zero(t, h.min())
		assert.Zero(t, h.max())
	})
}

func TestInteresting(t *testing.T) {
	for _, name := range []string{
		"org.apache.cassandra.metrics:type=ClientRequest,scope=Read,name=Latency",
		"org.apache.cassandra.metrics:type=ColumnFamily,keyspace=ks,scope=t,name=ReadLatency",
		"org.apache.cassandra.metrics:type=ColumnFamily,name=ReadLatency",
	} {
		assert.True(t, Interesting(MustParseResourceID(name)), name)
	}

	for _, name := range []string{
		"org.apache.cassandra.metrics:type=ColumnFamily,keyspace=system,scope=t,name=ReadLatency",
		"org.apache.cassandra.metrics:type=ColumnFamily,keyspace=system_auth,scope=t,name=ReadLatency",
		"org.apache.cassandra.metrics:type=ColumnFamily,name=SnapshotsSize",
		"org.apache.cassandra.metrics:name=SnapshotsSize,type=ColumnFamily",
		"org.apache.cassandra.metrics:type=ColumnFamily,keyspace=system,scope=compactions_in_progress,name=SnapshotsSize",
		"org.apache.cassandra.metrics:type=HintedHandOffManager,name=Hints",
		"org.apache.cassandra.metrics:name=NoType",
	} {
		assert.False(t, Interesting(MustParseResourceID(name)), name)
	}
}
