package cmcd

import (
	"fmt"

	"github.com/pkg/errors"
)

// TranslationError reports a measurement whose resource identifier
// cannot be mapped to a metric name. It affects only that measurement.
type TranslationError struct {
	Resource string
	Metric   string
	Reason   string
}

func newTranslationError(m RawMeasurement, format string, args ...interface{}) *TranslationError {
	return &TranslationError{
		Resource: m.Resource.String(),
		Metric:   m.Metric,
		Reason:   fmt.Sprintf(format, args...),
	}
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate %s [%s]: %s", e.Resource, e.Metric, e.Reason)
}

// ConnectionError reports an unreachable introspection or sink
// endpoint.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Cause() error  { return e.Err }
func (e *ConnectionError) Unwrap() error { return e.Err }

// DiscoveryError reports a discovery candidate that had to be skipped.
type DiscoveryError struct {
	Candidate string
	Reason    string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("cannot use discovered candidate %s: %s", e.Candidate, e.Reason)
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Cause() error  { return e.err }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an error as unrecoverable for the job that observes it:
// the job is descheduled rather than retried.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether any error in the chain was marked with Fatal
// or is a recovered panic.
func IsFatal(err error) bool {
	var fe *fatalError
	if errors.As(err, &fe) {
		return true
	}

	var pe *PanicError
	return errors.As(err, &pe)
}
