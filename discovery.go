package cmcd

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// CollectionJobName is the scheduler key of an instance's collection
// job.
func CollectionJobName(id string) string { return "collection/" + id }

// DiscoveryConfig configures a DiscoveryJob.
type DiscoveryConfig struct {
	Discovery DiscoveryService
	Connector Connector
	Registry  *InstanceRegistry
	Scheduler *Scheduler
	// Interval is the collection interval of the jobs this job
	// schedules.
	Interval time.Duration
	// Timeout bounds discovery itself and each can-connect probe.
	Timeout time.Duration
	// RefreshHandles reschedules a known instance whose handle has
	// changed. By default known ids are left alone.
	RefreshHandles bool
	// NewJob builds the collection job of a newly found instance.
	NewJob func(Instance) (*CollectionJob, error)
}

func (conf DiscoveryConfig) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(conf.Discovery == nil, "discovery service must be specified")
	catcher.NewWhen(conf.Connector == nil, "connector must be specified")
	catcher.NewWhen(conf.Registry == nil, "registry must be specified")
	catcher.NewWhen(conf.Scheduler == nil, "scheduler must be specified")
	catcher.NewWhen(conf.NewJob == nil, "job constructor must be specified")
	catcher.NewWhen(conf.Interval <= 0, "collection interval must be positive")
	catcher.NewWhen(conf.Timeout <= 0, "timeout must be positive")
	return catcher.Resolve()
}

// DiscoveryJob finds instances and schedules a collection job for each
// one that is not yet registered.
type DiscoveryJob struct {
	conf DiscoveryConfig
}

func NewDiscoveryJob(conf DiscoveryConfig) (*DiscoveryJob, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid discovery configuration")
	}
	return &DiscoveryJob{conf: conf}, nil
}

// Run performs one discovery cycle. Problems with individual
// candidates are logged and skipped; only a failure of discovery
// itself is returned.
func (d *DiscoveryJob) Run(ctx context.Context) error {
	task := TimedTask{Timeout: d.conf.Timeout}

	candidates, err := Submit(ctx, task, d.conf.Discovery.Discover)
	if err != nil {
		return errors.Wrap(err, "discovering instances")
	}

	if d.conf.RefreshHandles {
		for _, inst := range d.conf.Registry.Changed(candidates) {
			d.conf.Scheduler.Deschedule(CollectionJobName(inst.ID))
			d.conf.Registry.Remove(inst.ID)
			grip.Info(message.Fields{
				"message":  "instance handle changed",
				"instance": inst.ID,
				"handle":   inst.Handle,
			})
		}
	}

	added := 0
	for _, inst := range d.conf.Registry.Delta(candidates) {
		if d.register(ctx, inst) {
			added++
		}
	}

	grip.Debug(message.Fields{
		"message":    "discovery cycle complete",
		"candidates": len(candidates),
		"added":      added,
		"registered": d.conf.Registry.Len(),
	})

	return nil
}

func (d *DiscoveryJob) register(ctx context.Context, inst Instance) bool {
	if err := d.probe(ctx, inst); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message":  "cannot connect to discovered instance, skipping",
			"instance": inst.ID,
			"handle":   inst.Handle,
		}))
		return false
	}

	name := CollectionJobName(inst.ID)
	if d.conf.Scheduler.Has(name) {
		grip.Warning(message.Fields{
			"message":  "collection job already scheduled",
			"instance": inst.ID,
			"job":      name,
		})
		d.conf.Registry.Add(inst)
		return false
	}

	job, err := d.conf.NewJob(inst)
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message":  "cannot build collection job",
			"instance": inst.ID,
		}))
		return false
	}

	if err := d.conf.Scheduler.Schedule(name, d.conf.Interval, func(ctx context.Context) { job.Run(ctx) }); err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message":  "cannot schedule collection job",
			"instance": inst.ID,
		}))
		return false
	}

	d.conf.Registry.Add(inst)
	grip.Info(message.Fields{
		"message":  "registered instance",
		"instance": inst.ID,
		"handle":   inst.Handle,
		"interval": d.conf.Interval.String(),
	})

	return true
}

// probe checks that an instance accepts connections.
func (d *DiscoveryJob) probe(ctx context.Context, inst Instance) error {
	return TimedTask{Timeout: d.conf.Timeout}.Run(ctx, func(ctx context.Context) error {
		src, err := d.conf.Connector.Connect(ctx, inst)
		if err != nil {
			return err
		}
		return src.Close()
	})
}
