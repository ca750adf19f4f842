package cmcd

import (
	"context"
)

// Instance is one monitored server process.
type Instance struct {
	// ID is the stable name the process reports for itself.
	ID string
	// Handle is how to reach the instance's introspection endpoint;
	// for Jolokia it is the agent URL.
	Handle string
}

func (i Instance) String() string { return i.ID + "@" + i.Handle }

// Source produces raw measurements from a connected instance.
type Source interface {
	// Collect calls fn once per measurement. It stops and returns the
	// error if fn returns one.
	Collect(ctx context.Context, fn func(RawMeasurement) error) error
	Close() error
}

// Connector opens Sources. A successful Connect is the can-connect
// probe used by discovery.
type Connector interface {
	Connect(ctx context.Context, instance Instance) (Source, error)
}

// DiscoveryService enumerates the instances that can currently be
// monitored. Implementations skip candidates whose identity cannot be
// determined rather than failing the whole call.
type DiscoveryService interface {
	Discover(ctx context.Context) ([]Instance, error)
}
