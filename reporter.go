package cmcd

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// DefaultStatsPrefix is the root of the self-monitoring metric names.
const DefaultStatsPrefix = "cmcd.instances"

// StatsReporter forwards the success and failure counters of every
// instance through the sink, as "<prefix>.<id>.failure" and
// "<prefix>.<id>.success".
type StatsReporter struct {
	Stats   *Stats
	Sinks   SinkFactory
	Prefix  string
	Timeout time.Duration
	// Clock returns the sample timestamp; time.Now when nil.
	Clock func() time.Time
}

// Run writes one round of counters. Errors are logged and returned,
// but a failed report never affects collection.
func (r *StatsReporter) Run(ctx context.Context) error {
	err := r.report(ctx)
	grip.Error(message.WrapError(err, message.Fields{
		"message": "unable to report internal stats",
	}))
	return err
}

func (r *StatsReporter) report(ctx context.Context) error {
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultStatsPrefix
	}
	now := time.Now
	if r.Clock != nil {
		now = r.Clock
	}

	sink, err := r.Sinks.OpenSink(ctx)
	if err != nil {
		return errors.Wrap(err, "opening sink for internal stats")
	}

	grip.Info("writing internal stats")

	catcher := grip.NewBasicCatcher()
	catcher.Add(TimedTask{Timeout: BoundedTimeout(r.Timeout)}.Run(ctx, func(ctx context.Context) error {
		snap := r.Stats.Snapshot()
		ts := now().Unix()

		for _, id := range snap.Names() {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}

			counts := snap[id]
			base := prefix + "." + id
			if err := sink.Write(Sample{Name: base + ".failure", Value: float64(counts.Failures), Timestamp: ts}); err != nil {
				return err
			}
			if err := sink.Write(Sample{Name: base + ".success", Value: float64(counts.Successes), Timestamp: ts}); err != nil {
				return err
			}
		}
		return nil
	}))
	catcher.Add(sink.Close())

	return catcher.Resolve()
}
