package cmcd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type mockSource struct {
	measurements []RawMeasurement
	collectErr   error
	panics       bool
	block        chan struct{}
	closed       atomic.Bool
}

func (s *mockSource) Collect(ctx context.Context, fn func(RawMeasurement) error) error {
	if s.panics {
		panic("collector exploded")
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, m := range s.measurements {
		if err := fn(m); err != nil {
			return err
		}
	}
	return s.collectErr
}

func (s *mockSource) Close() error {
	s.closed.Store(true)
	return nil
}

type mockConnector struct {
	mu         sync.Mutex
	sources    map[string]*mockSource
	fail       map[string]bool
	connects   map[string]int
	defaultSrc func() *mockSource
}

func newMockConnector() *mockConnector {
	return &mockConnector{
		sources:  map[string]*mockSource{},
		fail:     map[string]bool{},
		connects: map[string]int{},
	}
}

func (c *mockConnector) Connect(_ context.Context, inst Instance) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects[inst.ID]++
	if c.fail[inst.ID] {
		return nil, &ConnectionError{Endpoint: inst.Handle, Err: errors.New("connection refused")}
	}
	if src, ok := c.sources[inst.ID]; ok {
		return src, nil
	}
	if c.defaultSrc != nil {
		return c.defaultSrc(), nil
	}
	return &mockSource{}, nil
}

func (c *mockConnector) setFail(id string, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[id] = fail
}

func (c *mockConnector) connectCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[id]
}

// slowConnector returns src after delay regardless of its context.
type slowConnector struct {
	delay time.Duration
	src   *mockSource
}

func (c slowConnector) Connect(context.Context, Instance) (Source, error) {
	time.Sleep(c.delay)
	return c.src, nil
}

type mockDiscovery struct {
	mu        sync.Mutex
	instances []Instance
	err       error
}

func (d *mockDiscovery) Discover(context.Context) ([]Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Instance(nil), d.instances...), d.err
}

func (d *mockDiscovery) set(instances ...Instance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instances = instances
}

type failingSinks struct{}

func (failingSinks) OpenSink(context.Context) (Sink, error) {
	return nil, &ConnectionError{Endpoint: "localhost:2003", Err: errors.New("connection refused")}
}

func uptime(v float64) RawMeasurement {
	return RawMeasurement{
		Domain:    DomainJVM,
		Resource:  MustParseResourceID("java.lang:type=Runtime"),
		Metric:    "uptime",
		Value:     v,
		Timestamp: 1,
	}
}
