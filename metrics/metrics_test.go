package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wikimedia/cmcd"
	"github.com/wikimedia/cmcd/ftdc"
)

func newStats() *cmcd.Stats {
	stats := cmcd.NewStats()
	stats.Success("db1")
	stats.Success("db1")
	stats.Failure("db2")
	return stats
}

func TestCollectOptions(t *testing.T) {
	assert.NoError(t, NewCollectOptions("cmcd").Validate())
	assert.Error(t, NewCollectOptions("").Validate())

	opts := NewCollectOptions("cmcd")
	opts.CollectionInterval = 2 * opts.FlushInterval
	assert.Error(t, opts.Validate())

	opts = NewCollectOptions("cmcd")
	opts.SampleCount = 1
	assert.Error(t, opts.Validate())
}

func TestCollectDiagnostics(t *testing.T) {
	t.Run("InvalidOptions", func(t *testing.T) {
		assert.Error(t, CollectDiagnostics(context.Background(), CollectOptions{}, newStats()))
	})
	t.Run("NoStats", func(t *testing.T) {
		assert.Error(t, CollectDiagnostics(context.Background(), NewCollectOptions("cmcd"), nil))
	})
	t.Run("WritesFiles", func(t *testing.T) {
		prefix := filepath.Join(t.TempDir(), "diagnostic")
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		opts := CollectOptions{
			OutputFilePrefix:   prefix,
			SampleCount:        10,
			FlushInterval:      time.Hour,
			CollectionInterval: 10 * time.Millisecond,
		}
		require.NoError(t, CollectDiagnostics(ctx, opts, newStats()))

		data, err := os.ReadFile(prefix + ".0")
		require.NoError(t, err)

		iter := ftdc.ReadChunks(bytes.NewReader(data))
		samples := 0
		for iter.Next(context.Background()) {
			chunk := iter.Chunk()
			metrics := chunk.Map()
			require.Contains(t, metrics, "instances.db1.success")
			assert.Equal(t, int64(2), metrics["instances.db1.success"].Values[0])
			assert.Equal(t, int64(1), metrics["instances.db2.failure"].Values[0])
			assert.Contains(t, metrics, "golang.goroutines")
			samples += chunk.NPoints
		}
		require.NoError(t, iter.Err())
		assert.True(t, samples > 1)
	})
}

func TestStatsCollector(t *testing.T) {
	collector := NewStatsCollector(newStats())

	expected := `
# HELP cmcd_collections_failure_total Collection cycles that failed
# TYPE cmcd_collections_failure_total counter
cmcd_collections_failure_total{instance="db1"} 0
cmcd_collections_failure_total{instance="db2"} 1
# HELP cmcd_collections_success_total Collection cycles that delivered every sample
# TYPE cmcd_collections_success_total counter
cmcd_collections_success_total{instance="db1"} 2
cmcd_collections_success_total{instance="db2"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected)))
	assert.Equal(t, 4, testutil.CollectAndCount(collector))
	assert.Zero(t, testutil.CollectAndCount(NewStatsCollector(cmcd.NewStats())))
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler(newStats()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cmcd_collections_success_total{instance="db1"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}
