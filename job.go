package cmcd

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

// Outcome is the classified result of one job cycle.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is transient; the job runs again on its next
	// trigger.
	OutcomeFailure
	// OutcomeFatal removes the job from the schedule and its instance
	// from the registry.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Report describes a completed job cycle.
type Report struct {
	Instance  Instance
	Outcome   Outcome
	Err       error
	Delivered int
	Filtered  int
	Rejected  int
	Duration  time.Duration
}

// Listener observes every completed job cycle.
type Listener interface {
	JobCompleted(Report)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Report)

func (f ListenerFunc) JobCompleted(r Report) { f(r) }

// DeliveryCounts tallies what Deliver did with the measurements it
// saw.
type DeliveryCounts struct {
	Delivered int
	Filtered  int
	Rejected  int
}

// Deliver collects every measurement from src, translates it under
// prefix, and writes the accepted ones to sink. Untranslatable
// measurements are skipped; if any were, the returned error wraps the
// first *TranslationError. A sink write error aborts the cycle.
func Deliver(ctx context.Context, src Source, sink Sink, prefix string, filter *Filter) (DeliveryCounts, error) {
	var (
		counts   DeliveryCounts
		firstBad error
	)

	err := src.Collect(ctx, func(m RawMeasurement) error {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		name, err := MetricName(m, prefix)
		if err != nil {
			counts.Rejected++
			if firstBad == nil {
				firstBad = err
			}
			grip.Debug(message.WrapError(err, message.Fields{
				"message": "skipping measurement",
				"prefix":  prefix,
			}))
			return nil
		}

		if !filter.Accept(name) {
			counts.Filtered++
			return nil
		}

		if err := sink.Write(Sample{Name: name, Value: m.Value, Timestamp: m.Timestamp}); err != nil {
			return errors.Wrapf(err, "writing sample '%s'", name)
		}
		counts.Delivered++

		return nil
	})
	if err != nil {
		return counts, err
	}

	if firstBad != nil {
		return counts, errors.Wrapf(firstBad, "%d measurements could not be translated", counts.Rejected)
	}

	grip.DebugWhen(counts.Delivered == 0, message.Fields{
		"message": "cycle delivered no samples",
		"prefix":  prefix,
	})

	return counts, nil
}

// JobConfig is the immutable configuration of one CollectionJob.
type JobConfig struct {
	Instance  Instance
	Prefix    string
	Timeout   time.Duration
	Connector Connector
	Sinks     SinkFactory
	Filter    *Filter
	Listener  Listener
}

// Validate reports every problem with the configuration.
func (conf JobConfig) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(conf.Instance.ID == "", "instance id must not be empty")
	catcher.NewWhen(conf.Prefix == "", "metric prefix must not be empty")
	catcher.NewWhen(conf.Timeout <= 0, "timeout must be positive")
	catcher.NewWhen(conf.Connector == nil, "connector must be specified")
	catcher.NewWhen(conf.Sinks == nil, "sink factory must be specified")
	return catcher.Resolve()
}

// CollectionJob collects one instance's measurements once per Run.
type CollectionJob struct {
	conf JobConfig
}

// NewCollectionJob validates conf and builds a job.
func NewCollectionJob(conf JobConfig) (*CollectionJob, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid job configuration for '%s'", conf.Instance.ID)
	}
	return &CollectionJob{conf: conf}, nil
}

func (j *CollectionJob) Instance() Instance { return j.conf.Instance }

// Run executes one cycle and reports its outcome to the listener. The
// returned Report is the one the listener received.
func (j *CollectionJob) Run(ctx context.Context) (report Report) {
	start := time.Now()
	report.Instance = j.conf.Instance

	defer func() {
		if p := recover(); p != nil {
			report.Outcome = OutcomeFatal
			report.Err = recovery.HandlePanicWithError(p, nil, "collection job", j.conf.Instance.ID)
		}
		report.Duration = time.Since(start)
		j.log(report)
		if j.conf.Listener != nil {
			j.conf.Listener.JobCompleted(report)
		}
	}()

	counts, err := j.cycle(ctx)
	if err != nil && ctx.Err() != nil && !IsFatal(err) && !IsInterrupted(err) {
		err = errors.Wrap(ErrInterrupted, err.Error())
	}
	report.Delivered = counts.Delivered
	report.Filtered = counts.Filtered
	report.Rejected = counts.Rejected
	report.Err = err
	report.Outcome = classify(err)

	return report
}

func (j *CollectionJob) cycle(ctx context.Context) (DeliveryCounts, error) {
	var counts DeliveryCounts
	inst := j.conf.Instance

	grip.Debug(message.Fields{
		"message":  "connecting",
		"instance": inst.ID,
		"handle":   inst.Handle,
	})

	task := TimedTask{Timeout: j.conf.Timeout}

	src, err := Submit(ctx, task, func(ctx context.Context) (Source, error) {
		return j.conf.Connector.Connect(ctx, inst)
	})
	if err != nil {
		return counts, errors.Wrapf(err, "connecting to '%s'", inst.ID)
	}
	defer func() {
		grip.Warning(message.WrapError(src.Close(), message.Fields{
			"message":  "problem closing source",
			"instance": inst.ID,
		}))
	}()

	sink, err := j.conf.Sinks.OpenSink(ctx)
	if err != nil {
		return counts, errors.Wrap(err, "opening sink")
	}
	defer func() {
		grip.Warning(message.WrapError(sink.Close(), message.Fields{
			"message":  "problem closing sink",
			"instance": inst.ID,
		}))
	}()

	grip.Debug(message.Fields{
		"message":  "collecting",
		"instance": inst.ID,
	})

	// the result travels by value so that an overrunning delivery
	// never writes to state the job has already returned
	res, err := Submit(ctx, task, func(ctx context.Context) (deliveryResult, error) {
		c, derr := Deliver(ctx, src, sink, j.conf.Prefix, j.conf.Filter)
		return deliveryResult{counts: c, err: derr}, nil
	})
	if err != nil {
		return counts, err
	}
	if res.err != nil {
		return res.counts, &TaskError{Err: res.err}
	}

	return res.counts, nil
}

type deliveryResult struct {
	counts DeliveryCounts
	err    error
}

// classify maps a cycle error to its outcome.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsFatal(err):
		return OutcomeFatal
	default:
		return OutcomeFailure
	}
}

func (j *CollectionJob) log(r Report) {
	fields := message.Fields{
		"instance":  r.Instance.ID,
		"outcome":   r.Outcome.String(),
		"delivered": r.Delivered,
		"filtered":  r.Filtered,
		"rejected":  r.Rejected,
		"duration":  r.Duration.String(),
	}

	switch r.Outcome {
	case OutcomeSuccess:
		fields["message"] = "collection succeeded"
		grip.Info(fields)
	case OutcomeFailure:
		fields["message"] = "collection failed"
		grip.Error(message.WrapError(r.Err, fields))
	default:
		fields["message"] = "collection failed fatally"
		grip.Critical(message.WrapError(r.Err, fields))
	}
}
