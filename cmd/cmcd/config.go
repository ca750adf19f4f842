package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wikimedia/cmcd"
	"github.com/wikimedia/cmcd/jolokia"
)

const (
	discoverProcess = "process"
	discoverFile    = "file"
	discoverStatic  = "static"
)

type config struct {
	CarbonHost        string
	CarbonPort        int
	Interval          time.Duration
	DiscoveryInterval time.Duration
	FilterConfig      string
	Prefix            string
	DryRun            bool

	Discovery     string
	JolokiaURL    string
	JolokiaPort   int
	InstanceID    string
	InstancesFile string

	Workers        int
	RefreshHandles bool
	FTDCPrefix     string
	MetricsListen  string
	Level          string
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("cmcd", pflag.ContinueOnError)
	flags.StringP("carbon-host", "H", cmcd.DefaultCarbonHost, "carbon hostname")
	flags.IntP("carbon-port", "p", cmcd.DefaultCarbonPort, "carbon port number")
	flags.IntP("interval", "i", int(cmcd.DefaultInterval/time.Second), "collection interval in seconds")
	flags.Int("discovery-interval", int(cmcd.DefaultDiscoveryInterval/time.Second), "interval to perform (re)discovery in seconds")
	flags.StringP("filter-config", "f", "", "metric filter configuration (YAML)")
	flags.String("prefix", cmcd.DefaultPrefix, "metric name prefix")
	flags.Bool("dry-run", false, "write samples to standard output instead of carbon")
	flags.String("discovery", discoverProcess, "instance discovery: process, file or static")
	flags.String("jolokia-url", jolokia.DefaultURL, "agent url of the static instance")
	flags.Int("jolokia-port", jolokia.DefaultPort, "agent port of discovered processes that do not name one")
	flags.String("instance-id", "", "name of the static instance")
	flags.String("instances-file", "", "file of '<id> <url>' lines to follow")
	flags.Int("workers", cmcd.DefaultWorkers, "maximum number of concurrently running jobs")
	flags.Bool("refresh-handles", false, "reschedule known instances whose agent url changed")
	flags.String("ftdc-prefix", "", "write diagnostic data files with this prefix")
	flags.String("metrics-listen", "", "serve prometheus metrics on this address")
	flags.String("level", "info", "log level")
	flags.String("config", "", "configuration file")
	return flags
}

// parseConfig merges, in increasing precedence, the defaults, the
// configuration file, CMCD_* environment variables and args.
func parseConfig(args []string) (*config, error) {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}

	v := viper.New()
	v.SetEnvPrefix("CMCD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, errors.WithStack(err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file '%s'", file)
		}
	}

	conf := &config{
		CarbonHost:        v.GetString("carbon-host"),
		CarbonPort:        v.GetInt("carbon-port"),
		Interval:          time.Duration(v.GetInt("interval")) * time.Second,
		DiscoveryInterval: time.Duration(v.GetInt("discovery-interval")) * time.Second,
		FilterConfig:      v.GetString("filter-config"),
		Prefix:            v.GetString("prefix"),
		DryRun:            v.GetBool("dry-run") || dryRunEnv(),
		Discovery:         v.GetString("discovery"),
		JolokiaURL:        v.GetString("jolokia-url"),
		JolokiaPort:       v.GetInt("jolokia-port"),
		InstanceID:        v.GetString("instance-id"),
		InstancesFile:     v.GetString("instances-file"),
		Workers:           v.GetInt("workers"),
		RefreshHandles:    v.GetBool("refresh-handles"),
		FTDCPrefix:        v.GetString("ftdc-prefix"),
		MetricsListen:     v.GetString("metrics-listen"),
		Level:             v.GetString("level"),
	}

	return conf, conf.validate()
}

func (conf *config) validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(conf.CarbonPort < 1 || conf.CarbonPort > 65535, "carbon port is out of range")
	catcher.NewWhen(conf.Interval <= 0, "interval must be positive")
	catcher.NewWhen(conf.DiscoveryInterval <= 0, "discovery interval must be positive")
	catcher.NewWhen(conf.Workers < 1, "there must be at least one worker")

	switch conf.Discovery {
	case discoverProcess:
	case discoverFile:
		catcher.NewWhen(conf.InstancesFile == "", "file discovery requires --instances-file")
	case discoverStatic:
		catcher.NewWhen(conf.JolokiaURL == "", "static discovery requires --jolokia-url")
		if conf.InstanceID == "" {
			conf.InstanceID = "local"
		}
	default:
		catcher.Errorf("unknown discovery '%s'", conf.Discovery)
	}

	return catcher.Resolve()
}

// dryRunEnv honors DRY_RUN=true, as the one-shot command does.
func dryRunEnv() bool {
	ok, _ := strconv.ParseBool(os.Getenv("DRY_RUN"))
	return ok
}
