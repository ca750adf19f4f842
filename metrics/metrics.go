// Package metrics exposes cmcd's own collection counters: as FTDC
// diagnostic files on local disk, and in the Prometheus exposition
// format.
package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/evergreen-ci/birch"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/wikimedia/cmcd"
	"github.com/wikimedia/cmcd/ftdc"
)

// StatsSource provides the per-instance outcome counters.
type StatsSource interface {
	Snapshot() cmcd.StatsSnapshot
}

// CollectOptions are the settings to provide the behavior of
// the diagnostic collection process.
type CollectOptions struct {
	OutputFilePrefix   string
	SampleCount        int
	FlushInterval      time.Duration
	CollectionInterval time.Duration
}

// NewCollectOptions creates a valid, populated collection options
// structure, collecting data every ten seconds and rotating files
// every hour, with chunks of up to 360 samples.
func NewCollectOptions(prefix string) CollectOptions {
	return CollectOptions{
		OutputFilePrefix:   prefix,
		SampleCount:        360,
		FlushInterval:      time.Hour,
		CollectionInterval: 10 * time.Second,
	}
}

// Validate checks the Collect option settings and ensures that all
// values are reasonable.
func (opts CollectOptions) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(opts.OutputFilePrefix == "", "output file prefix must be specified")
	catcher.NewWhen(opts.FlushInterval < time.Millisecond,
		"flush interval must be greater than a millisecond")
	catcher.NewWhen(opts.CollectionInterval < time.Millisecond,
		"collection interval must be greater than a millisecond")
	catcher.NewWhen(opts.CollectionInterval > opts.FlushInterval,
		"collection interval must be smaller than flush interval")
	catcher.NewWhen(opts.SampleCount < 10, "sample count must be greater than 10")
	return catcher.Resolve()
}

// CollectDiagnostics starts a blocking process that samples the
// collection counters of stats, along with the state of the go
// runtime and of this process, and writes them to
// "<prefix>.<n>" FTDC files. It flushes and returns when ctx is
// canceled.
func CollectDiagnostics(ctx context.Context, opts CollectOptions, stats StatsSource) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if stats == nil {
		return errors.New("stats source must be specified")
	}

	outputCount := 0
	collectCount := 0
	collector := ftdc.NewDynamicCollector(opts.SampleCount)
	collectTimer := time.NewTimer(0)
	flushTimer := time.NewTimer(opts.FlushInterval)
	defer collectTimer.Stop()
	defer flushTimer.Stop()

	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "process statistics unavailable",
		}))
		self = nil
	}

	flusher := func() error {
		startAt := time.Now()
		fn := fmt.Sprintf("%s.%d", opts.OutputFilePrefix, outputCount)
		info := collector.Info()

		if info.SampleCount == 0 {
			return nil
		}

		output, err := collector.Resolve()
		if err != nil {
			return errors.Wrap(err, "problem resolving ftdc data")
		}

		if err = os.WriteFile(fn, output, 0600); err != nil {
			return errors.Wrapf(err, "problem writing data to file %s", fn)
		}

		grip.Debug(message.Fields{
			"op":            "writing diagnostics",
			"samples":       info.SampleCount,
			"metrics":       info.MetricsCount,
			"chunks":        info.ChunkCount,
			"output_size":   len(output),
			"file":          fn,
			"duration_secs": time.Since(startAt).Seconds(),
		})

		collector.Reset()
		outputCount++
		collectCount = 0
		flushTimer.Reset(opts.FlushInterval)

		return nil
	}

	for {
		select {
		case <-ctx.Done():
			grip.Info("diagnostic collection aborted, flushing results")
			return errors.WithStack(flusher())
		case <-collectTimer.C:
			if err := collector.Add(populateDiagnostics(ctx, collectCount, self, stats.Snapshot())); err != nil {
				return errors.Wrap(err, "problem collecting results")
			}
			collectCount++

			collectTimer.Reset(opts.CollectionInterval)
		case <-flushTimer.C:
			if err := flusher(); err != nil {
				return errors.WithStack(err)
			}
		}
	}
}

func populateDiagnostics(ctx context.Context, id int, self *process.Process, snapshot cmcd.StatsSnapshot) *birch.Document {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	doc := birch.NewDocument(
		birch.EC.Time("ts", time.Now()),
		birch.EC.Int64("id", int64(id)),
		birch.EC.SubDocument("golang", birch.NewDocument(
			birch.EC.Int64("goroutines", int64(runtime.NumGoroutine())),
			birch.EC.Int64("heap_alloc", int64(mem.HeapAlloc)),
			birch.EC.Int64("heap_objects", int64(mem.HeapObjects)),
			birch.EC.Int64("gc_num", int64(mem.NumGC)),
			birch.EC.Int64("gc_pause_total_ns", int64(mem.PauseTotalNs)),
		)),
	)

	if self != nil {
		proc := birch.NewDocument()
		if info, err := self.MemoryInfoWithContext(ctx); err == nil {
			proc.Append(
				birch.EC.Int64("rss", int64(info.RSS)),
				birch.EC.Int64("vms", int64(info.VMS)),
			)
		}
		if threads, err := self.NumThreadsWithContext(ctx); err == nil {
			proc.Append(birch.EC.Int32("threads", threads))
		}
		doc.Append(birch.EC.SubDocument("process", proc))
	}

	instances := birch.NewDocument()
	for _, name := range snapshot.Names() {
		counts := snapshot[name]
		instances.Append(birch.EC.SubDocument(name, birch.NewDocument(
			birch.EC.Int64("success", counts.Successes),
			birch.EC.Int64("failure", counts.Failures),
		)))
	}
	doc.Append(birch.EC.SubDocument("instances", instances))

	return doc
}
