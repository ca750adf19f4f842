package ftdc

import (
	"github.com/evergreen-ci/birch"
	"github.com/evergreen-ci/birch/bsontype"
	"github.com/pkg/errors"
)

// extractMetrics flattens the numeric fields of doc, in document
// order. Strings, binary data and arrays are not metrics. Doubles are
// truncated, booleans count as 0 or 1, and times as milliseconds.
func extractMetrics(path []string, doc *birch.Document) ([]Metric, error) {
	var out []Metric

	iter := doc.Iterator()
	for iter.Next() {
		elem := iter.Element()
		val := elem.Value()
		key := elem.Key()

		add := func(v int64) {
			out = append(out, Metric{
				ParentPath: path,
				KeyName:    key,
				Values:     []int64{v},
			})
		}

		switch val.Type() {
		case bsontype.Double:
			add(int64(val.Double()))
		case bsontype.Int32:
			add(int64(val.Int32()))
		case bsontype.Int64:
			add(val.Int64())
		case bsontype.Boolean:
			if val.Boolean() {
				add(1)
			} else {
				add(0)
			}
		case bsontype.DateTime:
			add(val.Time().UnixMilli())
		case bsontype.EmbeddedDocument:
			sub, err := extractMetrics(append(append([]string{}, path...), key), val.MutableDocument())
			if err != nil {
				return nil, errors.Wrapf(err, "extracting '%s'", key)
			}
			out = append(out, sub...)
		}
	}

	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "problem parsing sample")
	}

	return out, nil
}

// sameSchema reports whether two samples carry the same series.
func sameSchema(a, b []Metric) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx].Key() != b[idx].Key() {
			return false
		}
	}
	return true
}

func values(metrics []Metric) []int64 {
	out := make([]int64, len(metrics))
	for idx := range metrics {
		out[idx] = metrics[idx].Values[0]
	}
	return out
}
