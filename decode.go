package cmcd

import "strings"

// BeanKind is the metric type of a Cassandra metrics registry bean.
type BeanKind int

const (
	KindUnknown BeanKind = iota
	KindGauge
	KindCounter
	KindMeter
	KindHistogram
	KindTimer
)

func (k BeanKind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	case KindMeter:
		return "meter"
	case KindHistogram:
		return "histogram"
	case KindTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Bean is the attribute set read from one metrics registry bean.
type Bean struct {
	Resource ResourceID
	// Attributes holds the numeric attributes by their JMX name.
	Attributes map[string]float64
	// Buckets is set when the bean's Value attribute is an array, as
	// it is for the estimated histogram gauges.
	Buckets []int64
	// HasValue records a Value attribute that is present but not
	// numeric. Such gauges produce no measurements.
	HasValue bool
}

func (b Bean) has(attr string) bool {
	_, ok := b.Attributes[attr]
	return ok
}

// KindOf classifies a bean by its attribute shape. Timers carry both
// percentiles and rates, so they are tested before meters and
// histograms.
func KindOf(b Bean) BeanKind {
	percentiles := b.has("50thPercentile")
	rates := b.has("OneMinuteRate")

	switch {
	case percentiles && rates:
		return KindTimer
	case rates:
		return KindMeter
	case percentiles:
		return KindHistogram
	case b.has("Value") || b.Buckets != nil || b.HasValue:
		return KindGauge
	case b.has("Count"):
		return KindCounter
	default:
		return KindUnknown
	}
}

type attrMetric struct {
	attr   string
	metric string
}

var (
	percentileMetrics = []attrMetric{
		{"50thPercentile", "50percentile"},
		{"75thPercentile", "75percentile"},
		{"95thPercentile", "95percentile"},
		{"98thPercentile", "98percentile"},
		{"99thPercentile", "99percentile"},
		{"999thPercentile", "999percentile"},
	}

	timerMetrics = concatMetrics(percentileMetrics, []attrMetric{
		{"OneMinuteRate", "1MinuteRate"},
		{"FiveMinuteRate", "5MinuteRate"},
		{"FifteenMinuteRate", "15MinuteRate"},
		{"Count", "count"},
		{"Max", "max"},
		{"Mean", "mean"},
		{"MeanRate", "meanRate"},
		{"Min", "min"},
		{"StdDev", "stddev"},
	})

	meterMetrics = []attrMetric{
		{"FifteenMinuteRate", "15MinuteRate"},
		{"OneMinuteRate", "1MinuteRate"},
		{"FiveMinuteRate", "5MinuteRate"},
		{"Count", "count"},
		{"MeanRate", "meanRate"},
	}

	histogramMetrics = concatMetrics(percentileMetrics, []attrMetric{
		{"Max", "max"},
		{"Mean", "mean"},
		{"Min", "min"},
		{"StdDev", "stddev"},
	})

	counterMetrics = []attrMetric{{"Count", "count"}}
	gaugeMetrics   = []attrMetric{{"Value", "value"}}
)

func concatMetrics(lists ...[]attrMetric) []attrMetric {
	var out []attrMetric
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// DecodeBean turns a bean into application measurements stamped with
// ts. Attributes missing from the bean are skipped.
func DecodeBean(b Bean, ts int64) []RawMeasurement {
	var list []attrMetric

	switch KindOf(b) {
	case KindTimer:
		list = timerMetrics
	case KindMeter:
		list = meterMetrics
	case KindHistogram:
		list = histogramMetrics
	case KindCounter:
		list = counterMetrics
	case KindGauge:
		if name, _ := b.Resource.Get("name"); isEstimatedHistogram(name) {
			return decodeEstimatedGauge(b, ts)
		}
		list = gaugeMetrics
	default:
		return nil
	}

	out := make([]RawMeasurement, 0, len(list))
	for _, am := range list {
		v, ok := b.Attributes[am.attr]
		if !ok {
			continue
		}
		out = append(out, RawMeasurement{
			Domain:    DomainApplication,
			Resource:  b.Resource,
			Metric:    am.metric,
			Value:     v,
			Timestamp: ts,
		})
	}

	return out
}

func isEstimatedHistogram(name string) bool {
	return name == "EstimatedRowSizeHistogram" || name == "EstimatedColumnCountHistogram"
}

func decodeEstimatedGauge(b Bean, ts int64) []RawMeasurement {
	values := decodeEstimatedHistogram(b.Buckets)

	out := make([]RawMeasurement, 0, len(values))
	for _, nv := range values {
		out = append(out, RawMeasurement{
			Domain:    DomainApplication,
			Resource:  b.Resource,
			Metric:    nv.metric,
			Value:     nv.value,
			Timestamp: ts,
		})
	}
	return out
}

var interestingTypes = map[string]struct{}{
	"Cache":             {},
	"Client":            {},
	"ClientRequest":     {},
	"ColumnFamily":      {},
	"Connection":        {},
	"CQL":               {},
	"DroppedMessage":    {},
	"FileCache":         {},
	"IndexColumnFamily": {},
	"Storage":           {},
	"Keyspace":          {},
	"ThreadPools":       {},
	"Compaction":        {},
	"ReadRepair":        {},
	"CommitLog":         {},
}

var uninterestingResources = []ResourceID{
	MustParseResourceID("org.apache.cassandra.metrics:type=ColumnFamily,name=SnapshotsSize"),
	MustParseResourceID("org.apache.cassandra.metrics:type=ColumnFamily,keyspace=system,scope=compactions_in_progress,name=SnapshotsSize"),
}

// Interesting reports whether an application bean is collected at
// all. Beans of system keyspaces are skipped.
func Interesting(r ResourceID) bool {
	for _, u := range uninterestingResources {
		if sameResource(r, u) {
			return false
		}
	}

	typ, ok := r.Get("type")
	if !ok {
		return false
	}
	if _, ok := interestingTypes[typ]; !ok {
		return false
	}

	ks, ok := r.Get("keyspace")
	return !ok || !strings.HasPrefix(ks, "system")
}

// sameResource compares object names the way JMX does: property order
// does not matter.
func sameResource(a, b ResourceID) bool {
	if a.Domain != b.Domain || len(a.Properties) != len(b.Properties) {
		return false
	}

	for _, p := range a.Properties {
		v, ok := b.Get(p.Key)
		if !ok || v != p.Value {
			return false
		}
	}
	return true
}
