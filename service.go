package cmcd

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	DefaultPrefix            = "cassandra"
	DefaultInterval          = time.Minute
	DefaultDiscoveryInterval = 5 * time.Minute

	// DiscoveryJobName and ReportJobName are the scheduler keys of the
	// service's own jobs.
	DiscoveryJobName = "discovery"
	ReportJobName    = "report"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Prefix is the root of every collected metric name; each instance
	// collects under "<Prefix>.<id>".
	Prefix            string
	StatsPrefix       string
	Interval          time.Duration
	DiscoveryInterval time.Duration
	Workers           int
	RefreshHandles    bool

	Filter    *Filter
	Discovery DiscoveryService
	Connector Connector
	Sinks     SinkFactory
}

// Validate fills in defaults and reports every invalid setting.
func (opts *ServiceOptions) Validate() error {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.StatsPrefix == "" {
		opts.StatsPrefix = DefaultStatsPrefix
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.DiscoveryInterval == 0 {
		opts.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}

	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(opts.Interval < 0, "collection interval must not be negative")
	catcher.NewWhen(opts.DiscoveryInterval < 0, "discovery interval must not be negative")
	catcher.NewWhen(opts.Workers < 1, "must have at least one worker")
	catcher.NewWhen(opts.Discovery == nil, "discovery service must be specified")
	catcher.NewWhen(opts.Connector == nil, "connector must be specified")
	catcher.NewWhen(opts.Sinks == nil, "sink must be specified")

	return catcher.Resolve()
}

// Service wires discovery, the per-instance collection jobs, and the
// stats reporter onto one scheduler.
type Service struct {
	opts      ServiceOptions
	stats     *Stats
	registry  *InstanceRegistry
	scheduler *Scheduler
	discovery *DiscoveryJob
	reporter  *StatsReporter
}

// NewService validates opts and builds a stopped service.
func NewService(opts ServiceOptions) (*Service, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid service options")
	}

	s := &Service{
		opts:      opts,
		stats:     NewStats(),
		registry:  NewInstanceRegistry(),
		scheduler: NewScheduler(opts.Workers),
	}

	timeout := BoundedTimeout(opts.Interval)

	var err error
	s.discovery, err = NewDiscoveryJob(DiscoveryConfig{
		Discovery:      opts.Discovery,
		Connector:      opts.Connector,
		Registry:       s.registry,
		Scheduler:      s.scheduler,
		Interval:       opts.Interval,
		Timeout:        BoundedTimeout(opts.DiscoveryInterval),
		RefreshHandles: opts.RefreshHandles,
		NewJob:         s.newJob,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	s.reporter = &StatsReporter{
		Stats:   s.stats,
		Sinks:   opts.Sinks,
		Prefix:  opts.StatsPrefix,
		Timeout: timeout,
	}

	return s, nil
}

func (s *Service) newJob(inst Instance) (*CollectionJob, error) {
	return NewCollectionJob(JobConfig{
		Instance:  inst,
		Prefix:    InstancePrefix(s.opts.Prefix, inst.ID),
		Timeout:   BoundedTimeout(s.opts.Interval),
		Connector: s.opts.Connector,
		Sinks:     s.opts.Sinks,
		Filter:    s.opts.Filter,
		Listener:  ListenerFunc(s.jobCompleted),
	})
}

// jobCompleted records every outcome except an interruption by
// shutdown or deschedule. A fatal one also retires the instance so that
// a later discovery cycle may pick it up afresh.
func (s *Service) jobCompleted(r Report) {
	if r.Outcome != OutcomeFatal && IsInterrupted(r.Err) {
		return
	}
	s.stats.Record(r.Instance.ID, r.Outcome)

	if r.Outcome != OutcomeFatal {
		return
	}

	s.scheduler.Deschedule(CollectionJobName(r.Instance.ID))
	s.registry.Remove(r.Instance.ID)

	grip.Alert(message.WrapError(r.Err, message.Fields{
		"message":  "descheduled collection after fatal error",
		"instance": r.Instance.ID,
	}))
}

// Start schedules the discovery and report jobs and starts the
// scheduler. Collection jobs are added as discovery finds instances.
func (s *Service) Start(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()

	catcher.Add(s.scheduler.Schedule(DiscoveryJobName, s.opts.DiscoveryInterval, func(ctx context.Context) {
		grip.Error(message.WrapError(s.discovery.Run(ctx), message.Fields{
			"message": "discovery failed",
		}))
	}))
	catcher.Add(s.scheduler.Schedule(ReportJobName, s.opts.Interval, func(ctx context.Context) {
		_ = s.reporter.Run(ctx)
	}))
	if catcher.HasErrors() {
		return errors.Wrap(catcher.Resolve(), "scheduling service jobs")
	}

	if err := s.scheduler.Start(ctx); err != nil {
		return errors.Wrap(err, "starting scheduler")
	}

	grip.Info(message.Fields{
		"message":            "service started",
		"prefix":             s.opts.Prefix,
		"interval":           s.opts.Interval.String(),
		"discovery_interval": s.opts.DiscoveryInterval.String(),
		"workers":            s.opts.Workers,
	})

	return nil
}

// Stop halts every job and waits for running ones to return.
func (s *Service) Stop() {
	s.scheduler.Stop()
	grip.Info("service stopped")
}

func (s *Service) Stats() *Stats               { return s.stats }
func (s *Service) Registry() *InstanceRegistry { return s.registry }
func (s *Service) Scheduler() *Scheduler       { return s.scheduler }
func (s *Service) Options() ServiceOptions     { return s.opts }
