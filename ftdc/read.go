package ftdc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/evergreen-ci/birch"
	"github.com/evergreen-ci/birch/bsontype"
	"github.com/klauspost/compress/zlib"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// ChunkIterator reads the metrics chunks of an FTDC stream in order.
type ChunkIterator struct {
	buf      *bufio.Reader
	metadata *birch.Document
	chunk    *Chunk
	err      error
}

// ReadChunks returns an iterator over the chunks in r.
func ReadChunks(r io.Reader) *ChunkIterator {
	return &ChunkIterator{buf: bufio.NewReader(r)}
}

// Next advances to the next metrics chunk, skipping metadata
// documents. It returns false at the end of the stream or on error.
func (iter *ChunkIterator) Next(ctx context.Context) bool {
	for {
		if iter.err != nil {
			return false
		}
		if err := ctx.Err(); err != nil {
			iter.err = errors.WithStack(err)
			return false
		}

		doc, err := readBufBSON(iter.buf)
		if err == io.EOF {
			return false
		} else if err != nil {
			iter.err = errors.Wrap(err, "problem reading document")
			return false
		}

		switch docType(doc) {
		case 0:
			if meta := lookup(doc, "doc"); meta != nil && meta.Type() == bsontype.EmbeddedDocument {
				iter.metadata = meta.MutableDocument()
			}
		case 1:
			chunk, err := readChunk(doc)
			if err != nil {
				iter.err = errors.WithStack(err)
				return false
			}
			chunk.Metadata = iter.metadata
			iter.chunk = chunk
			return true
		}
	}
}

func (iter *ChunkIterator) Chunk() *Chunk { return iter.chunk }
func (iter *ChunkIterator) Err() error    { return iter.err }

func readChunk(doc *birch.Document) (*Chunk, error) {
	data := lookup(doc, "data")
	if data == nil || data.Type() != bsontype.Binary {
		return nil, errors.New("data is not populated")
	}
	_, zBytes := data.Binary()
	if len(zBytes) < 4 {
		return nil, errors.New("data is truncated")
	}

	z, err := zlib.NewReader(bytes.NewReader(zBytes[4:]))
	if err != nil {
		return nil, errors.Wrap(err, "problem building zlib reader")
	}
	defer z.Close()
	buf := bufio.NewReader(z)

	ref, err := readBufBSON(buf)
	if err != nil {
		return nil, errors.Wrap(err, "problem reading reference doc")
	}
	metrics, err := extractMetrics(nil, ref)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	bl := make([]byte, 8)
	if _, err = io.ReadFull(buf, bl); err != nil {
		return nil, errors.Wrap(err, "problem reading chunk sizes")
	}
	nmetrics := int(binary.LittleEndian.Uint32(bl[:4]))
	ndeltas := int(binary.LittleEndian.Uint32(bl[4:]))

	if nmetrics != len(metrics) {
		return nil, errors.Errorf("metrics mismatch, file likely corrupt Expected %d, got %d", nmetrics, len(metrics))
	}

	var nzeroes int64
	for i := range metrics {
		value := metrics[i].Values[0]
		for j := 0; j < ndeltas; j++ {
			var delta int64
			if nzeroes != 0 {
				nzeroes--
			} else {
				delta, err = binary.ReadVarint(buf)
				if err != nil {
					err = errors.Wrap(err, "reached unexpected end of encoded integer")
					grip.Debug(message.WrapError(err, message.Fields{
						"key":        metrics[i].Key(),
						"metric":     i,
						"metric_num": len(metrics),
						"sample":     j,
						"sample_num": ndeltas,
					}))
					return nil, err
				}
				if delta == 0 {
					if nzeroes, err = binary.ReadVarint(buf); err != nil {
						return nil, errors.Wrap(err, "problem reading zero count")
					}
				}
			}
			value += delta
			metrics[i].Values = append(metrics[i].Values, value)
		}
	}

	chunk := &Chunk{
		Reference: ref,
		Metrics:   metrics,
		NPoints:   ndeltas + 1,
	}
	if id := lookup(doc, "_id"); id != nil && id.Type() == bsontype.DateTime {
		chunk.ID = id.Time()
	}

	return chunk, nil
}

func readBufBSON(buf *bufio.Reader) (*birch.Document, error) {
	size, err := buf.Peek(4)
	if err != nil {
		if err == io.EOF && len(size) == 0 {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "problem reading document size")
	}

	raw := make([]byte, int(binary.LittleEndian.Uint32(size)))
	if len(raw) < 5 {
		return nil, errors.Errorf("invalid document size %d", len(raw))
	}
	if _, err := io.ReadFull(buf, raw); err != nil {
		return nil, errors.Wrap(err, "problem reading document")
	}

	doc, err := birch.ReadDocument(raw)
	return doc, errors.WithStack(err)
}

func lookup(doc *birch.Document, key string) *birch.Value {
	iter := doc.Iterator()
	for iter.Next() {
		if iter.Element().Key() == key {
			return iter.Element().Value()
		}
	}
	return nil
}

func docType(doc *birch.Document) int64 {
	val := lookup(doc, "type")
	if val == nil {
		return -1
	}
	switch val.Type() {
	case bsontype.Int32:
		return int64(val.Int32())
	case bsontype.Int64:
		return val.Int64()
	case bsontype.Double:
		return int64(val.Double())
	default:
		return -1
	}
}
