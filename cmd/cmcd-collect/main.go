// Command cmcd-collect collects the metrics of one Jolokia agent once,
// and writes them to carbon or, with --dry-run or DRY_RUN=true, to
// standard output.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/wikimedia/cmcd"
	"github.com/wikimedia/cmcd/jolokia"
)

type options struct {
	url        string
	instanceID string
	prefix     string
	carbonHost string
	carbonPort int
	filter     string
	dryRun     bool
	timeout    time.Duration
	level      string
}

func parseOptions(args []string) (options, error) {
	var opts options

	flags := pflag.NewFlagSet("cmcd-collect", pflag.ContinueOnError)
	flags.StringVar(&opts.url, "jolokia-url", jolokia.DefaultURL, "agent url")
	flags.StringVar(&opts.instanceID, "instance-id", "", "instance name, appended to the prefix")
	flags.StringVar(&opts.prefix, "prefix", cmcd.DefaultPrefix, "metric name prefix")
	flags.StringVarP(&opts.carbonHost, "carbon-host", "H", cmcd.DefaultCarbonHost, "carbon hostname")
	flags.IntVarP(&opts.carbonPort, "carbon-port", "p", cmcd.DefaultCarbonPort, "carbon port number")
	flags.StringVarP(&opts.filter, "filter-config", "f", "", "metric filter configuration (YAML)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "write samples to standard output instead of carbon")
	flags.DurationVar(&opts.timeout, "timeout", cmcd.MaxTaskTimeout, "collection timeout")
	flags.StringVar(&opts.level, "level", "warning", "log level")

	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() > 0 {
		return opts, errors.Errorf("unexpected arguments: %v", flags.Args())
	}
	if ok, _ := strconv.ParseBool(os.Getenv("DRY_RUN")); ok {
		opts.dryRun = true
	}

	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(opts.url == "", "agent url must be specified")
	catcher.NewWhen(opts.timeout <= 0, "timeout must be positive")
	return opts, catcher.Resolve()
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if errors.Cause(err) == pflag.ErrHelp {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	grip.GetSender().SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.FromString(opts.level)})

	report, err := collect(context.Background(), opts, os.Stdout)
	if err != nil {
		grip.EmergencyFatal(err)
	}
	if report.Outcome != cmcd.OutcomeSuccess {
		grip.EmergencyFatal(message.WrapError(report.Err, message.Fields{
			"message":   "collection failed",
			"url":       opts.url,
			"delivered": report.Delivered,
		}))
	}
}

// collect runs one collection cycle and reports its outcome.
func collect(ctx context.Context, opts options, stdout io.Writer) (cmcd.Report, error) {
	var filter *cmcd.Filter
	if opts.filter != "" {
		fconf, err := cmcd.LoadFilterConfig(opts.filter)
		if err != nil {
			return cmcd.Report{}, errors.WithStack(err)
		}
		if filter, err = cmcd.NewFilter(fconf); err != nil {
			return cmcd.Report{}, errors.WithStack(err)
		}
	}

	var sinks cmcd.SinkFactory
	if opts.dryRun {
		out := cmcd.NewWriterSinkFactory(stdout)
		out.TSV = true
		sinks = out
	} else {
		dialer, err := cmcd.NewCarbonDialer(cmcd.CarbonOptions{Host: opts.carbonHost, Port: opts.carbonPort})
		if err != nil {
			return cmcd.Report{}, errors.WithStack(err)
		}
		sinks = dialer
	}

	prefix := opts.prefix
	id := opts.instanceID
	if id != "" {
		prefix = cmcd.InstancePrefix(opts.prefix, id)
	} else {
		id = opts.url
	}

	job, err := cmcd.NewCollectionJob(cmcd.JobConfig{
		Instance:  cmcd.Instance{ID: id, Handle: opts.url},
		Prefix:    prefix,
		Timeout:   cmcd.BoundedTimeout(opts.timeout),
		Connector: jolokia.NewConnector(jolokia.ConnectorOptions{}),
		Sinks:     sinks,
		Filter:    filter,
	})
	if err != nil {
		return cmcd.Report{}, errors.WithStack(err)
	}

	return job.Run(ctx), nil
}
