package ftdc

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/evergreen-ci/birch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument(n int64, instances ...string) *birch.Document {
	counts := birch.NewDocument()
	for idx, name := range instances {
		counts.Append(birch.EC.SubDocument(name, birch.NewDocument(
			birch.EC.Int64("success", n*int64(idx+1)),
			birch.EC.Int64("failure", 0),
		)))
	}

	return birch.NewDocument(
		birch.EC.Time("ts", time.Unix(1500000000+n, 0)),
		birch.EC.String("host", "db1001"),
		birch.EC.Int32("goroutines", int32(10+n%2)),
		birch.EC.Double("heap_mb", 1.5*float64(n)),
		birch.EC.Boolean("running", true),
		birch.EC.SubDocument("instances", counts),
	)
}

func readAll(t *testing.T, data []byte) []*Chunk {
	iter := ReadChunks(bytes.NewReader(data))
	var out []*Chunk
	for iter.Next(context.Background()) {
		out = append(out, iter.Chunk())
	}
	require.NoError(t, iter.Err())
	return out
}

func TestExtractMetrics(t *testing.T) {
	metrics, err := extractMetrics(nil, sampleDocument(3, "a"))
	require.NoError(t, err)

	keys := make([]string, len(metrics))
	for idx := range metrics {
		keys[idx] = metrics[idx].Key()
	}
	assert.Equal(t, []string{"ts", "goroutines", "heap_mb", "running", "instances.a.success", "instances.a.failure"}, keys)
	assert.Equal(t, []int64{1500000003000, 11, 4, 1, 3, 0}, values(metrics))
}

func TestPayloadEncoder(t *testing.T) {
	enc := newPayloadEncoder()
	for _, v := range []int64{0, 0, 0, 5, 0, -1} {
		enc.Add(v)
	}

	expected := append([]byte{}, encodeValue(0)...)
	expected = append(expected, encodeValue(2)...)
	expected = append(expected, encodeValue(5)...)
	expected = append(expected, encodeValue(0)...)
	expected = append(expected, encodeValue(0)...)
	expected = append(expected, encodeValue(-1)...)
	assert.Equal(t, expected, enc.Resolve())
}

func TestDynamicCollector(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		collector := NewDynamicCollector(10)
		assert.Zero(t, collector.Info())

		out, err := collector.Resolve()
		assert.Error(t, err)
		assert.Zero(t, out)
	})
	t.Run("NilDocument", func(t *testing.T) {
		assert.Error(t, NewDynamicCollector(10).Add(nil))
	})
	t.Run("RoundTrip", func(t *testing.T) {
		collector := NewDynamicCollector(100)
		collector.SetMetadata(birch.NewDocument(birch.EC.String("version", "test")))

		for n := int64(0); n < 20; n++ {
			require.NoError(t, collector.Add(sampleDocument(n, "a", "b")))
		}

		info := collector.Info()
		assert.Equal(t, 20, info.SampleCount)
		assert.Equal(t, 1, info.ChunkCount)
		assert.Equal(t, 20*8, info.MetricsCount)

		out, err := collector.Resolve()
		require.NoError(t, err)

		chunks := readAll(t, out)
		require.Len(t, chunks, 1)
		chunk := chunks[0]
		assert.Equal(t, 20, chunk.NPoints)
		require.NotNil(t, chunk.Metadata)

		metrics := chunk.Map()
		assert.Len(t, metrics, 8)
		for n := int64(0); n < 20; n++ {
			assert.Equal(t, 2*n, metrics["instances.b.success"].Values[n])
			assert.Equal(t, int64(0), metrics["instances.b.failure"].Values[n])
			assert.Equal(t, 10+n%2, metrics["goroutines"].Values[n])
			assert.Equal(t, (1500000000+n)*1000, metrics["ts"].Values[n])
		}

		samples := chunk.Expand()
		require.Len(t, samples, 20)
		assert.Equal(t, int64(19), samples[19]["instances.a.success"])

		collector.Reset()
		assert.Zero(t, collector.Info())
	})
	t.Run("SplitsOnSize", func(t *testing.T) {
		collector := NewDynamicCollector(4)
		for n := int64(0); n < 10; n++ {
			require.NoError(t, collector.Add(sampleDocument(n, "a")))
		}
		assert.Equal(t, 3, collector.Info().ChunkCount)

		out, err := collector.Resolve()
		require.NoError(t, err)

		chunks := readAll(t, out)
		require.Len(t, chunks, 3)
		assert.Equal(t, 4, chunks[0].NPoints)
		assert.Equal(t, 2, chunks[2].NPoints)
		assert.Nil(t, chunks[0].Metadata)
		assert.Equal(t, []int64{8, 9}, chunks[2].Map()["instances.a.success"].Values)
	})
	t.Run("SplitsOnSchemaChange", func(t *testing.T) {
		collector := NewDynamicCollector(100)
		require.NoError(t, collector.Add(sampleDocument(1, "a")))
		require.NoError(t, collector.Add(sampleDocument(2, "a")))
		require.NoError(t, collector.Add(sampleDocument(3, "a", "b")))
		require.NoError(t, collector.Add(sampleDocument(4, "b")))

		out, err := collector.Resolve()
		require.NoError(t, err)

		chunks := readAll(t, out)
		require.Len(t, chunks, 3)
		assert.Equal(t, 2, chunks[0].NPoints)
		assert.Contains(t, chunks[1].Map(), "instances.b.success")
		assert.NotContains(t, chunks[2].Map(), "instances.a.success")
	})
}

func TestChunkIterator(t *testing.T) {
	t.Run("EmptyStream", func(t *testing.T) {
		assert.Empty(t, readAll(t, nil))
	})
	t.Run("Truncated", func(t *testing.T) {
		collector := NewDynamicCollector(10)
		require.NoError(t, collector.Add(sampleDocument(1, "a")))
		out, err := collector.Resolve()
		require.NoError(t, err)

		iter := ReadChunks(bytes.NewReader(out[:len(out)-3]))
		assert.False(t, iter.Next(context.Background()))
		assert.Error(t, iter.Err())
	})
	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		iter := ReadChunks(bytes.NewReader([]byte{}))
		assert.False(t, iter.Next(ctx))
		assert.Error(t, iter.Err())
	})
}

func TestWriteCSV(t *testing.T) {
	collector := NewDynamicCollector(2)
	require.NoError(t, collector.Add(sampleDocument(1, "a")))
	require.NoError(t, collector.Add(sampleDocument(2, "a")))
	require.NoError(t, collector.Add(sampleDocument(3, "a")))
	require.NoError(t, collector.Add(sampleDocument(4, "a", "b")))

	data, err := collector.Resolve()
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, WriteCSV(context.Background(), ReadChunks(bytes.NewReader(data)), out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "ts,goroutines,heap_mb,running,instances.a.success,instances.a.failure", lines[0])
	assert.Equal(t, "1500000001000,11,1,1,1,0", lines[1])
	assert.Equal(t, "1500000003000,11,4,1,3,0", lines[3])
	assert.Equal(t, "ts,goroutines,heap_mb,running,instances.a.success,instances.a.failure,instances.b.success,instances.b.failure", lines[4])
	assert.Equal(t, "1500000004000,10,6,1,4,0,8,0", lines[5])
}
