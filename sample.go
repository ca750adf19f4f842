// Package cmcd collects metrics from running Cassandra instances and
// forwards them to a Graphite/Carbon line-protocol receiver.
//
// The package holds the collection pipeline: translation of raw JMX
// style measurements into flat, dot-delimited metric names, filtering,
// delivery to a Sink, and the scheduler that runs one recurring
// collection job per discovered instance. Transport specific
// collaborators live in the jolokia and discovery sub-packages.
package cmcd

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Sample is a single, already translated data point ready for a Sink.
type Sample struct {
	Name      string
	Value     float64
	Timestamp int64
}

// Validate reports an error if the sample cannot be written as a
// single line of the Carbon plaintext protocol.
func (s Sample) Validate() error {
	if s.Name == "" {
		return errors.New("sample name must not be empty")
	}

	if strings.IndexFunc(s.Name, unicode.IsSpace) >= 0 {
		return errors.Errorf("sample name '%s' contains whitespace", s.Name)
	}

	return nil
}

// Line renders the sample in the Carbon plaintext format, including
// the trailing newline.
func (s Sample) Line() string {
	return fmt.Sprintf("%s %s %d\n", s.Name, FormatValue(s.Value), s.Timestamp)
}

func (s Sample) String() string { return strings.TrimSuffix(s.Line(), "\n") }

// FormatValue renders a metric value using the shortest representation
// that round-trips, so integral values have no decimal point.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
