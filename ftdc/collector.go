package ftdc

import (
	"bytes"
	"time"

	"github.com/evergreen-ci/birch"
	"github.com/pkg/errors"
)

// chunkCollector accumulates samples sharing the schema of its
// reference document and renders them as one metrics chunk.
type chunkCollector struct {
	startedAt time.Time
	reference *birch.Document
	schema    []Metric
	samples   [][]int64
}

func (c *chunkCollector) accepts(metrics []Metric) bool {
	return c.reference == nil || sameSchema(c.schema, metrics)
}

func (c *chunkCollector) add(doc *birch.Document, metrics []Metric) error {
	if c.reference == nil {
		c.startedAt = time.Now()
		c.reference = doc
		c.schema = metrics
	} else if !sameSchema(c.schema, metrics) {
		return errors.Errorf("problem adding metrics sample, reference has %d metrics, sample has %d",
			len(c.schema), len(metrics))
	}

	c.samples = append(c.samples, values(metrics))
	return nil
}

func (c *chunkCollector) resolve() ([]byte, error) {
	if c.reference == nil {
		return nil, errors.New("reference document must not be nil")
	}

	ref, err := c.reference.MarshalBSON()
	if err != nil {
		return nil, errors.Wrap(err, "problem marshaling reference document")
	}

	payload := bytes.NewBuffer(ref)
	_, _ = payload.Write(encodeSizeValue(uint32(len(c.schema))))
	_, _ = payload.Write(encodeSizeValue(uint32(len(c.samples) - 1)))

	enc := newPayloadEncoder()
	for metric := range c.schema {
		for sample := 1; sample < len(c.samples); sample++ {
			enc.Add(c.samples[sample][metric] - c.samples[sample-1][metric])
		}
	}
	_, _ = payload.Write(enc.Resolve())

	data, err := compressBuffer(payload.Bytes())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	out, err := birch.NewDocument(
		birch.EC.Time("_id", c.startedAt),
		birch.EC.Int32("type", 1),
		birch.EC.Binary("data", data),
	).MarshalBSON()

	return out, errors.Wrap(err, "problem writing metric chunk document")
}

type dynamicCollector struct {
	maxSamples int
	metadata   *birch.Document
	chunks     []*chunkCollector
}

// NewDynamicCollector returns a collector that starts a new chunk
// whenever the current one holds maxSamples samples or a sample's
// fields differ from the chunk's reference document.
func NewDynamicCollector(maxSamples int) Collector {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &dynamicCollector{
		maxSamples: maxSamples,
		chunks:     []*chunkCollector{{}},
	}
}

func (c *dynamicCollector) SetMetadata(doc *birch.Document) { c.metadata = doc }

func (c *dynamicCollector) Reset() {
	c.metadata = nil
	c.chunks = []*chunkCollector{{}}
}

func (c *dynamicCollector) Info() CollectorInfo {
	out := CollectorInfo{}
	for _, chunk := range c.chunks {
		if chunk.reference == nil {
			continue
		}
		out.ChunkCount++
		out.SampleCount += len(chunk.samples)
		out.MetricsCount += len(chunk.schema) * len(chunk.samples)
	}
	return out
}

func (c *dynamicCollector) Add(doc *birch.Document) error {
	if doc == nil {
		return errors.New("cannot add nil documents")
	}

	metrics, err := extractMetrics(nil, doc)
	if err != nil {
		return errors.Wrap(err, "problem parsing metrics sample")
	}

	last := c.chunks[len(c.chunks)-1]
	if len(last.samples) >= c.maxSamples || !last.accepts(metrics) {
		last = &chunkCollector{}
		c.chunks = append(c.chunks, last)
	}

	return errors.WithStack(last.add(doc, metrics))
}

func (c *dynamicCollector) Resolve() ([]byte, error) {
	if c.chunks[0].reference == nil {
		return nil, errors.New("cannot resolve a collector without samples")
	}

	buf := &bytes.Buffer{}

	if c.metadata != nil {
		out, err := birch.NewDocument(
			birch.EC.Time("_id", c.chunks[0].startedAt),
			birch.EC.Int32("type", 0),
			birch.EC.SubDocument("doc", c.metadata),
		).MarshalBSON()
		if err != nil {
			return nil, errors.Wrap(err, "problem writing metadata document")
		}
		_, _ = buf.Write(out)
	}

	for _, chunk := range c.chunks {
		out, err := chunk.resolve()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		_, _ = buf.Write(out)
	}

	return buf.Bytes(), nil
}
