package cmcd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsReporter(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return time.Unix(1500000000, 0) }

	t.Run("WritesCounters", func(t *testing.T) {
		stats := NewStats()
		stats.Success("b")
		stats.Failure("a")
		stats.Failure("a")

		mem := &MemorySink{}
		reporter := &StatsReporter{Stats: stats, Sinks: mem, Timeout: time.Second, Clock: clock}
		require.NoError(t, reporter.Run(ctx))

		assert.Equal(t, []Sample{
			{Name: "cmcd.instances.a.failure", Value: 2, Timestamp: 1500000000},
			{Name: "cmcd.instances.a.success", Value: 0, Timestamp: 1500000000},
			{Name: "cmcd.instances.b.failure", Value: 0, Timestamp: 1500000000},
			{Name: "cmcd.instances.b.success", Value: 1, Timestamp: 1500000000},
		}, mem.Samples())
		assert.Zero(t, mem.Open())
	})
	t.Run("CustomPrefix", func(t *testing.T) {
		stats := NewStats()
		stats.Success("a")

		mem := &MemorySink{}
		reporter := &StatsReporter{Stats: stats, Sinks: mem, Prefix: "agent", Clock: clock}
		require.NoError(t, reporter.Run(ctx))
		require.Len(t, mem.Samples(), 2)
		assert.Equal(t, "agent.a.failure", mem.Samples()[0].Name)
	})
	t.Run("Empty", func(t *testing.T) {
		mem := &MemorySink{}
		reporter := &StatsReporter{Stats: NewStats(), Sinks: mem}
		require.NoError(t, reporter.Run(ctx))
		assert.Empty(t, mem.Samples())
	})
	t.Run("SinkFailure", func(t *testing.T) {
		stats := NewStats()
		stats.Success("a")

		reporter := &StatsReporter{Stats: stats, Sinks: failingSinks{}}
		assert.Error(t, reporter.Run(ctx))
	})
}
