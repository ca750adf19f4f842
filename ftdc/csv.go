package ftdc

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

func (c *Chunk) fieldNames() []string {
	out := make([]string, len(c.Metrics))
	for idx := range c.Metrics {
		out[idx] = c.Metrics[idx].Key()
	}
	return out
}

func (c *Chunk) record(i int) []string {
	out := make([]string, len(c.Metrics))
	for idx := range c.Metrics {
		out[idx] = strconv.FormatInt(c.Metrics[idx].Values[i], 10)
	}
	return out
}

// WriteCSV exports the contents of a stream of chunks as CSV, one
// record per sample. A header row precedes the first chunk and every
// chunk whose fields differ from the previous one.
func WriteCSV(ctx context.Context, iter *ChunkIterator, writer io.Writer) error {
	var header []string
	csvw := csv.NewWriter(writer)

	for iter.Next(ctx) {
		chunk := iter.Chunk()

		if names := chunk.fieldNames(); !sameStrings(header, names) {
			if err := csvw.Write(names); err != nil {
				return errors.Wrap(err, "problem writing field names")
			}
			header = names
		}

		for i := 0; i < chunk.NPoints; i++ {
			if err := csvw.Write(chunk.record(i)); err != nil {
				return errors.Wrapf(err, "problem writing csv record %d of %d", i, chunk.NPoints)
			}
		}
		csvw.Flush()
		if err := csvw.Error(); err != nil {
			return errors.Wrap(err, "problem flushing csv data")
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "problem reading chunks")
	}

	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}
