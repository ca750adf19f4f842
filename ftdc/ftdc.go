// Package ftdc writes and reads "full time diagnostic data capture"
// files: a series of BSON documents where each metrics chunk holds one
// reference document and the delta encoded, zlib compressed values of
// every numeric field across the samples that followed it.
//
// cmcd uses it to keep a compact local history of its own collection
// counters.
package ftdc

import (
	"strings"
	"time"

	"github.com/evergreen-ci/birch"
)

// Collector describes the interface for collecting and constructing
// FTDC data series.
type Collector interface {
	// SetMetadata sets the metadata document written ahead of the
	// first chunk. Pass nil to unset it.
	SetMetadata(*birch.Document)

	// Add extracts the metrics from a document and appends them to
	// the current chunk.
	Add(*birch.Document) error

	// Info reports the size of the pending data.
	Info() CollectorInfo

	// Resolve renders the pending documents as FTDC chunks.
	Resolve() ([]byte, error)

	// Reset clears the collector for future use.
	Reset()
}

// CollectorInfo reports on the contents of a collector.
type CollectorInfo struct {
	MetricsCount int
	SampleCount  int
	ChunkCount   int
}

// Metric is one series of a chunk.
type Metric struct {
	// ParentPath holds the names of the documents enclosing the
	// field.
	ParentPath []string
	KeyName    string

	// Values holds the value of every sample of the chunk,
	// starting with the reference document's.
	Values []int64
}

// Key is the dot-delimited path of the metric.
func (m *Metric) Key() string {
	return strings.Join(append(append([]string{}, m.ParentPath...), m.KeyName), ".")
}

// Chunk is one decoded metrics chunk.
type Chunk struct {
	ID        time.Time
	Metadata  *birch.Document
	Reference *birch.Document
	Metrics   []Metric
	NPoints   int
}

// Map indexes the chunk's metrics by key.
func (c *Chunk) Map() map[string]Metric {
	out := make(map[string]Metric, len(c.Metrics))
	for _, m := range c.Metrics {
		out[m.Key()] = m
	}
	return out
}

// Expand returns the value of every metric for each sample.
func (c *Chunk) Expand() []map[string]int64 {
	out := make([]map[string]int64, c.NPoints)
	for idx := range out {
		out[idx] = make(map[string]int64, len(c.Metrics))
		for _, m := range c.Metrics {
			out[idx][m.Key()] = m.Values[idx]
		}
	}
	return out
}
