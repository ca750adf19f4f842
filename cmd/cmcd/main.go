// Command cmcd discovers Cassandra instances and periodically ships
// their metrics to carbon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/wikimedia/cmcd"
	"github.com/wikimedia/cmcd/discovery"
	"github.com/wikimedia/cmcd/jolokia"
	"github.com/wikimedia/cmcd/metrics"
)

func signalListener(ctx context.Context, trigger context.CancelFunc) {
	defer recovery.LogStackTraceAndContinue("graceful shutdown")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		grip.Info("received signal, shutting down")
		trigger()
	case <-ctx.Done():
	}
}

func main() {
	conf, err := parseConfig(os.Args[1:])
	if errors.Cause(err) == pflag.ErrHelp {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	grip.GetSender().SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.FromString(conf.Level)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go signalListener(ctx, cancel)
	grip.EmergencyFatal(run(ctx, conf))
}

func run(ctx context.Context, conf *config) error {
	filter, err := loadFilter(conf.FilterConfig)
	if err != nil {
		return errors.WithStack(err)
	}

	sinks, err := newSinks(conf)
	if err != nil {
		return errors.WithStack(err)
	}

	disc, closer, err := newDiscovery(ctx, conf)
	if err != nil {
		return errors.WithStack(err)
	}
	defer closer()

	svc, err := cmcd.NewService(cmcd.ServiceOptions{
		Prefix:            conf.Prefix,
		Interval:          conf.Interval,
		DiscoveryInterval: conf.DiscoveryInterval,
		Workers:           conf.Workers,
		RefreshHandles:    conf.RefreshHandles,
		Filter:            filter,
		Discovery:         disc,
		Connector:         jolokia.NewConnector(jolokia.ConnectorOptions{}),
		Sinks:             sinks,
	})
	if err != nil {
		return errors.Wrap(err, "configuring service")
	}

	if err := svc.Start(ctx); err != nil {
		return errors.Wrap(err, "starting service")
	}
	defer svc.Stop()

	grip.Info(message.Fields{
		"message":   "cmcd started",
		"discovery": conf.Discovery,
		"interval":  conf.Interval.String(),
		"dry_run":   conf.DryRun,
		"workers":   conf.Workers,
	})

	wg := &sync.WaitGroup{}
	if conf.FTDCPrefix != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer recovery.LogStackTraceAndContinue("diagnostic collection")
			grip.Error(message.WrapError(
				metrics.CollectDiagnostics(ctx, metrics.NewCollectOptions(conf.FTDCPrefix), svc.Stats()),
				"diagnostic collection failed"))
		}()
	}

	if conf.MetricsListen != "" {
		serveMetrics(ctx, wg, conf.MetricsListen, svc.Stats())
	}

	<-ctx.Done()
	grip.Info("cmcd stopping")
	wg.Wait()

	return nil
}

func serveMetrics(ctx context.Context, wg *sync.WaitGroup, addr string, stats *cmcd.Stats) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(stats))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer recovery.LogStackTraceAndContinue("metrics server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "metrics server failed",
				"addr":    addr,
			}))
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grip.Warning(srv.Shutdown(sctx))
	}()
}

func loadFilter(path string) (*cmcd.Filter, error) {
	if path == "" {
		return nil, nil
	}
	fconf, err := cmcd.LoadFilterConfig(path)
	if err != nil {
		return nil, err
	}
	return cmcd.NewFilter(fconf)
}

func newSinks(conf *config) (cmcd.SinkFactory, error) {
	if conf.DryRun {
		out := cmcd.NewWriterSinkFactory(os.Stdout)
		out.TSV = true
		return out, nil
	}
	dialer, err := cmcd.NewCarbonDialer(cmcd.CarbonOptions{Host: conf.CarbonHost, Port: conf.CarbonPort})
	if err != nil {
		return nil, err
	}
	return dialer, nil
}

func newDiscovery(ctx context.Context, conf *config) (cmcd.DiscoveryService, func(), error) {
	noop := func() {}

	switch conf.Discovery {
	case discoverStatic:
		return discovery.NewStatic(cmcd.Instance{ID: conf.InstanceID, Handle: conf.JolokiaURL}), noop, nil
	case discoverFile:
		d, err := discovery.NewFileDiscovery(conf.InstancesFile)
		if err != nil {
			return nil, noop, err
		}
		return d, func() { grip.Warning(d.Close()) }, nil
	default:
		d, err := discovery.NewProcessDiscovery(discovery.ProcessOptions{Port: conf.JolokiaPort})
		if err != nil {
			return nil, noop, err
		}
		// fail at startup when the process table cannot be read at all
		if _, err := d.Discover(ctx); err != nil {
			return nil, noop, errors.Wrap(err, "process discovery is unavailable")
		}
		return d, noop, nil
	}
}
