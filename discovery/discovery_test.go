package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wikimedia/cmcd"
)

func TestParseJVM(t *testing.T) {
	for _, test := range []struct {
		name      string
		args      []string
		cassandra bool
		expected  jvmOptions
	}{
		{
			name: "NotJava",
			args: []string{"/usr/sbin/sshd", "-D"},
		},
		{
			name: "OtherJVM",
			args: []string{"java", "-Dcassandra.instance-id=a", "org.example.Main"},
			expected: jvmOptions{
				id: "a",
			},
		},
		{
			name:      "Anonymous",
			args:      []string{"java", "-Xmx1g", MainClass},
			cassandra: true,
		},
		{
			name: "Named",
			args: []string{
				"/usr/bin/java",
				"-Dcassandra.instance-id=restbase1001-a",
				"-javaagent:/usr/share/java/jolokia-jvm-agent.jar=port=8779,host=10.0.0.1",
				"-cp", "/etc/cassandra-a",
				MainClass,
			},
			cassandra: true,
			expected:  jvmOptions{id: "restbase1001-a", host: "10.0.0.1", port: 8779},
		},
		{
			name: "OtherAgent",
			args: []string{
				"java",
				"-Dcassandra.instance-id=b",
				"-javaagent:/usr/share/cassandra/lib/jamm-0.3.0.jar",
				"-javaagent:/opt/prometheus.jar=port=7000",
				MainClass,
			},
			cassandra: true,
			expected:  jvmOptions{id: "b"},
		},
		{
			name: "BadPort",
			args: []string{
				"java",
				"-Dcassandra.instance-id=c",
				"-javaagent:/opt/jolokia.jar=port=http",
				MainClass,
			},
			cassandra: true,
			expected:  jvmOptions{id: "c"},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			opts, ok := parseJVM(test.args)
			assert.Equal(t, test.cassandra, ok)
			assert.Equal(t, test.expected, opts)
		})
	}
}

func TestProcessDiscovery(t *testing.T) {
	ctx := context.Background()

	t.Run("Defaults", func(t *testing.T) {
		opts := ProcessOptions{}
		require.NoError(t, opts.Validate())
		assert.Equal(t, "localhost", opts.Host)
		assert.Equal(t, 8778, opts.Port)

		opts.Port = 70000
		assert.Error(t, opts.Validate())
	})
	t.Run("Discover", func(t *testing.T) {
		d, err := NewProcessDiscovery(ProcessOptions{})
		require.NoError(t, err)
		d.procs = func(context.Context) ([]jvm, error) {
			return []jvm{
				{pid: 1, args: []string{"/sbin/init"}},
				{pid: 20, args: []string{"java", "-Dcassandra.instance-id=b", "-javaagent:/j/jolokia.jar=port=8779,host=0.0.0.0", MainClass}},
				{pid: 10, args: []string{"java", "-Dcassandra.instance-id=a", "-javaagent:/j/jolokia.jar", MainClass}},
				{pid: 30, args: []string{"java", MainClass}},
				{pid: 40, args: []string{"java", "-Dcassandra.instance-id=c", "-javaagent:/j/jolokia.jar=host=::1,port=9000", MainClass}},
			}, nil
		}

		instances, err := d.Discover(ctx)
		require.NoError(t, err)
		assert.Equal(t, []cmcd.Instance{
			{ID: "a", Handle: "http://localhost:8778/jolokia/"},
			{ID: "b", Handle: "http://localhost:8779/jolokia/"},
			{ID: "c", Handle: "http://[::1]:9000/jolokia/"},
		}, instances)
	})
	t.Run("TableError", func(t *testing.T) {
		d, err := NewProcessDiscovery(ProcessOptions{})
		require.NoError(t, err)
		d.procs = func(context.Context) ([]jvm, error) { return nil, errors.New("no procfs") }

		_, err = d.Discover(ctx)
		assert.Error(t, err)
	})
	t.Run("LocalTable", func(t *testing.T) {
		// the test binary is not a cassandra server
		d, err := NewProcessDiscovery(ProcessOptions{})
		require.NoError(t, err)

		instances, err := d.Discover(ctx)
		if err == nil {
			assert.Empty(t, instances)
		}
	})
}

func TestFileDiscovery(t *testing.T) {
	ctx := context.Background()

	t.Run("NoPath", func(t *testing.T) {
		_, err := NewFileDiscovery("")
		assert.Error(t, err)
	})
	t.Run("Follow", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "instances")
		require.NoError(t, os.WriteFile(path, []byte("# id url\na http://a:8778/jolokia/\n\nbroken\nb http://b:8778/jolokia/\n"), 0600))

		d, err := NewFileDiscovery(path)
		require.NoError(t, err)
		defer d.Close()

		assert.Eventually(t, func() bool {
			instances, err := d.Discover(ctx)
			return err == nil && len(instances) == 2
		}, 5*time.Second, 10*time.Millisecond)

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("c http://c:8778/jolokia/\na http://a2:8778/jolokia/\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		expected := []cmcd.Instance{
			{ID: "a", Handle: "http://a2:8778/jolokia/"},
			{ID: "b", Handle: "http://b:8778/jolokia/"},
			{ID: "c", Handle: "http://c:8778/jolokia/"},
		}
		assert.Eventually(t, func() bool {
			instances, err := d.Discover(ctx)
			return err == nil && assert.ObjectsAreEqual(expected, instances)
		}, 5*time.Second, 10*time.Millisecond)
	})
	t.Run("Cancelled", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "instances")
		require.NoError(t, os.WriteFile(path, nil, 0600))

		d, err := NewFileDiscovery(path)
		require.NoError(t, err)
		defer d.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = d.Discover(cctx)
		assert.Error(t, err)
	})
}

func TestStatic(t *testing.T) {
	s := NewStatic(cmcd.Instance{ID: "local", Handle: "http://localhost:8778/jolokia/"})

	instances, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "local", instances[0].ID)

	instances[0].ID = "changed"
	again, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", again[0].ID)
}
