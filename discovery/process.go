// Package discovery provides the ways cmcd finds the database instances
// it collects from: the local process table, a followed instances file,
// or a single configured endpoint.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/wikimedia/cmcd"
	"github.com/wikimedia/cmcd/jolokia"
)

const (
	// MainClass is the entry point of a Cassandra server JVM.
	MainClass = "org.apache.cassandra.service.CassandraDaemon"
	// InstanceProperty is the system property naming an instance.
	InstanceProperty = "cassandra.instance-id"
)

// jvm is one entry of the process table.
type jvm struct {
	pid  int32
	args []string
}

type processTable func(context.Context) ([]jvm, error)

// ProcessOptions configures a ProcessDiscovery.
type ProcessOptions struct {
	// Host is used in agent urls when the agent options do not bind
	// a specific address.
	Host string
	// Port is used when the agent options name no port.
	Port int
}

// Validate fills in defaults.
func (opts *ProcessOptions) Validate() error {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = jolokia.DefaultPort
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return errors.Errorf("jolokia port %d is out of range", opts.Port)
	}
	return nil
}

// ProcessDiscovery finds Cassandra JVMs in the local process table.
// Each must name itself with -Dcassandra.instance-id and carry a
// Jolokia JVM agent.
type ProcessDiscovery struct {
	opts  ProcessOptions
	procs processTable
}

func NewProcessDiscovery(opts ProcessOptions) (*ProcessDiscovery, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	return &ProcessDiscovery{opts: opts, procs: listProcesses}, nil
}

func listProcesses(ctx context.Context) ([]jvm, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing processes")
	}

	out := make([]jvm, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			// exited, or owned by another user
			continue
		}
		out = append(out, jvm{pid: p.Pid, args: args})
	}
	return out, nil
}

func (d *ProcessDiscovery) Discover(ctx context.Context) ([]cmcd.Instance, error) {
	procs, err := d.procs(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var out []cmcd.Instance
	for _, p := range procs {
		opts, ok := parseJVM(p.args)
		if !ok {
			continue
		}
		if opts.id == "" {
			grip.Warning(message.WrapError(&cmcd.DiscoveryError{
				Candidate: "pid " + strconv.Itoa(int(p.pid)),
				Reason:    "cannot determine instance name (missing -D" + InstanceProperty + "=<name>?)",
			}, message.Fields{
				"message": "skipping cassandra process",
				"pid":     p.pid,
			}))
			continue
		}

		host, port := d.opts.Host, d.opts.Port
		if opts.host != "" && opts.host != "0.0.0.0" && opts.host != "*" {
			host = opts.host
		}
		if opts.port != 0 {
			port = opts.port
		}

		out = append(out, cmcd.Instance{ID: opts.id, Handle: agentURL(host, port)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func agentURL(host string, port int) string {
	return fmt.Sprintf("http://%s/jolokia/", net.JoinHostPort(host, strconv.Itoa(port)))
}

type jvmOptions struct {
	id   string
	host string
	port int
}

// parseJVM reports whether args start a Cassandra server, and the
// instance name and agent address they configure.
func parseJVM(args []string) (jvmOptions, bool) {
	var (
		out       jvmOptions
		cassandra bool
	)

	for _, arg := range args {
		switch {
		case arg == MainClass:
			cassandra = true
		case strings.HasPrefix(arg, "-D"+InstanceProperty+"="):
			out.id = strings.TrimPrefix(arg, "-D"+InstanceProperty+"=")
		case strings.HasPrefix(arg, "-javaagent:"):
			agent := strings.TrimPrefix(arg, "-javaagent:")
			jar, options, _ := strings.Cut(agent, "=")
			if !strings.Contains(jar, "jolokia") {
				continue
			}
			for _, kv := range strings.Split(options, ",") {
				key, value, _ := strings.Cut(kv, "=")
				switch key {
				case "host":
					out.host = value
				case "port":
					if port, err := strconv.Atoi(value); err == nil {
						out.port = port
					}
				}
			}
		}
	}

	return out, cassandra
}
