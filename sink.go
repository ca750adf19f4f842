package cmcd

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// Sink accepts samples for delivery. A Sink is used by one job cycle
// at a time and closed at the end of it.
type Sink interface {
	Write(Sample) error
	Close() error
}

// SinkFactory opens a fresh Sink for each job cycle.
type SinkFactory interface {
	OpenSink(ctx context.Context) (Sink, error)
}

const (
	DefaultCarbonHost = "localhost"
	DefaultCarbonPort = 2003
)

// CarbonOptions configures a CarbonDialer.
type CarbonOptions struct {
	Host         string
	Port         int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// BreakerFailures is the number of consecutive dial failures after
	// which further dials fail immediately for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Validate checks the options and fills in defaults.
func (opts *CarbonOptions) Validate() error {
	catcher := grip.NewBasicCatcher()

	if opts.Host == "" {
		opts.Host = DefaultCarbonHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultCarbonPort
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = MaxTaskTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown == 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	catcher.NewWhen(opts.Port < 0 || opts.Port > 65535, "carbon port out of range")
	catcher.NewWhen(opts.DialTimeout < 0, "dial timeout must not be negative")
	catcher.NewWhen(opts.WriteTimeout < 0, "write timeout must not be negative")

	return catcher.Resolve()
}

func (opts CarbonOptions) address() string {
	return net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
}

// CarbonDialer opens plaintext-protocol connections to a Carbon
// receiver. Dials share one circuit breaker, so an unreachable
// receiver fails every job fast until the cooldown ends.
type CarbonDialer struct {
	opts    CarbonOptions
	breaker *gobreaker.CircuitBreaker
}

// NewCarbonDialer validates opts and builds a dialer.
func NewCarbonDialer(opts CarbonOptions) (*CarbonDialer, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid carbon options")
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "carbon " + opts.address(),
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			grip.Warning(message.Fields{
				"message": "carbon circuit breaker changed state",
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &CarbonDialer{opts: opts, breaker: breaker}, nil
}

func (d *CarbonDialer) Address() string { return d.opts.address() }

// OpenSink dials the receiver. Failures, including an open breaker,
// are returned as *ConnectionError.
func (d *CarbonDialer) OpenSink(ctx context.Context) (Sink, error) {
	addr := d.opts.address()

	conn, err := d.breaker.Execute(func() (interface{}, error) {
		dialer := net.Dialer{Timeout: d.opts.DialTimeout}
		return dialer.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		return nil, &ConnectionError{Endpoint: addr, Err: err}
	}

	c := conn.(net.Conn)
	deadline := time.Now().Add(d.opts.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.SetWriteDeadline(deadline); err != nil {
		_ = c.Close()
		return nil, &ConnectionError{Endpoint: addr, Err: err}
	}

	return &carbonSink{conn: c, addr: addr}, nil
}

type carbonSink struct {
	conn net.Conn
	addr string
}

func (s *carbonSink) Write(sample Sample) error {
	if err := sample.Validate(); err != nil {
		return errors.WithStack(err)
	}

	if _, err := io.WriteString(s.conn, sample.Line()); err != nil {
		return errors.Wrapf(err, "writing to carbon at %s", s.addr)
	}
	return nil
}

func (s *carbonSink) Close() error {
	return errors.Wrapf(s.conn.Close(), "closing connection to %s", s.addr)
}

// WriterSinkFactory writes sample lines to a shared writer, as the
// dry-run mode does with standard output. Lines from concurrent jobs
// never interleave.
type WriterSinkFactory struct {
	mu sync.Mutex
	w  io.Writer
	// TSV writes "name\tvalue\ttimestamp" instead of the Carbon form.
	TSV bool
}

func NewWriterSinkFactory(w io.Writer) *WriterSinkFactory {
	return &WriterSinkFactory{w: w}
}

func (f *WriterSinkFactory) OpenSink(_ context.Context) (Sink, error) {
	return &writerSink{factory: f}, nil
}

type writerSink struct {
	factory *WriterSinkFactory
}

func (s *writerSink) Write(sample Sample) error {
	if err := sample.Validate(); err != nil {
		return errors.WithStack(err)
	}

	line := sample.Line()
	if s.factory.TSV {
		line = sample.Name + "\t" + FormatValue(sample.Value) + "\t" + strconv.FormatInt(sample.Timestamp, 10) + "\n"
	}

	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	_, err := io.WriteString(s.factory.w, line)
	return errors.WithStack(err)
}

func (s *writerSink) Close() error { return nil }

// MemorySink keeps every written sample. It is its own factory; all
// sinks it opens append to the same slice.
type MemorySink struct {
	mu      sync.Mutex
	samples []Sample
	opened  int
	closed  int
}

func (m *MemorySink) OpenSink(_ context.Context) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	return &memorySink{parent: m}, nil
}

// Samples returns a copy of everything written so far.
func (m *MemorySink) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.samples...)
}

// Open reports how many sinks are currently open.
func (m *MemorySink) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened - m.closed
}

type memorySink struct {
	parent *MemorySink
	closed bool
}

func (s *memorySink) Write(sample Sample) error {
	if err := sample.Validate(); err != nil {
		return errors.WithStack(err)
	}

	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if s.closed {
		return errors.New("write to closed sink")
	}
	s.parent.samples = append(s.parent.samples, sample)
	return nil
}

func (s *memorySink) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.parent.closed++
	}
	return nil
}
