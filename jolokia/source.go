package jolokia

import (
	"context"
	"net/http"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
	"github.com/wikimedia/cmcd"
)

// DefaultBatchSize is the number of beans read per bulk request.
const DefaultBatchSize = 256

const metricsPattern = cmcd.ApplicationDomain + ":*"

var jvmRequests = []Request{
	{Type: "read", MBean: "java.lang:type=Runtime", Attribute: []string{"Uptime"}},
	{Type: "read", MBean: "java.lang:type=Memory", Attribute: []string{"HeapMemoryUsage", "NonHeapMemoryUsage"}},
	{Type: "read", MBean: "java.lang:type=GarbageCollector,name=*", Attribute: []string{"CollectionCount", "CollectionTime"}},
	{Type: "read", MBean: "java.lang:type=MemoryPool,name=*", Attribute: []string{"Name", "Usage"}},
}

// ConnectorOptions configures a Connector.
type ConnectorOptions struct {
	// HTTPClient is shared by every source the connector opens.
	HTTPClient *http.Client
	BatchSize  int
}

// Connector opens Jolokia sources. The instance handle is the agent
// URL.
type Connector struct {
	http      *http.Client
	batchSize int
}

func NewConnector(opts ConnectorOptions) *Connector {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cmcd.MaxTaskTimeout}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Connector{http: opts.HTTPClient, batchSize: opts.BatchSize}
}

// Connect checks that the agent answers and returns a source for it.
func (c *Connector) Connect(ctx context.Context, inst cmcd.Instance) (cmcd.Source, error) {
	if inst.Handle == "" {
		return nil, &cmcd.ConnectionError{Endpoint: inst.ID, Err: errors.New("no agent url")}
	}

	client := NewClient(inst.Handle, c.http)
	version, err := client.Version(ctx)
	if err != nil {
		return nil, &cmcd.ConnectionError{Endpoint: inst.Handle, Err: err}
	}

	grip.Debug(message.Fields{
		"message":  "connected to jolokia agent",
		"instance": inst.ID,
		"url":      inst.Handle,
		"version":  version,
	})

	return &Source{client: client, batchSize: c.batchSize}, nil
}

// Source collects JVM and Cassandra metrics from one agent.
type Source struct {
	client    *Client
	batchSize int
}

// NewSource returns a source for client without checking that the
// agent is reachable.
func NewSource(client *Client) *Source {
	return &Source{client: client, batchSize: DefaultBatchSize}
}

func (s *Source) Close() error { return nil }

// Collect reads the platform beans and every interesting metrics
// registry bean.
func (s *Source) Collect(ctx context.Context, fn func(cmcd.RawMeasurement) error) error {
	if err := s.collectJVM(ctx, fn); err != nil {
		return errors.Wrap(err, "collecting jvm metrics")
	}

	return errors.Wrap(s.collectApplication(ctx, fn), "collecting cassandra metrics")
}

func (s *Source) collectJVM(ctx context.Context, fn func(cmcd.RawMeasurement) error) error {
	var out []cmcd.RawMeasurement

	err := s.client.Do(ctx, jvmRequests, func(req Request, resp Response) error {
		if err := resp.err(req); err != nil {
			return err
		}
		ts := timestamp(resp)

		switch req.MBean {
		case "java.lang:type=Runtime":
			if v, ok := number(resp.Value.Get("Uptime")); ok {
				out = append(out, jvm("java.lang:type=Runtime", "uptime", v, ts))
			}
		case "java.lang:type=Memory":
			heap := resp.Value.Get("HeapMemoryUsage")
			nonHeap := resp.Value.Get("NonHeapMemoryUsage")
			if v, ok := ratio(nonHeap); ok {
				out = append(out, jvm("java.lang:type=Memory", "non_heap_usage", v, ts))
			}
			if v, ok := field(nonHeap, "used"); ok {
				out = append(out, jvm("java.lang:type=Memory", "non_heap_usage_bytes", v, ts))
			}
			if v, ok := ratio(heap); ok {
				out = append(out, jvm("java.lang:type=Memory", "heap_usage", v, ts))
			}
		default:
			return eachBean(resp.Value, func(name string, attrs *fastjson.Value) error {
				id, err := cmcd.ParseResourceID(name)
				if err != nil {
					return errors.WithStack(err)
				}

				if req.MBean == "java.lang:type=GarbageCollector,name=*" {
					if v, ok := field(attrs, "CollectionCount"); ok {
						out = append(out, cmcd.RawMeasurement{Domain: cmcd.DomainJVM, Resource: id, Metric: "runs", Value: v, Timestamp: ts})
					}
					if v, ok := field(attrs, "CollectionTime"); ok {
						out = append(out, cmcd.RawMeasurement{Domain: cmcd.DomainJVM, Resource: id, Metric: "time", Value: v, Timestamp: ts})
					}
					return nil
				}

				pool := string(attrs.GetStringBytes("Name"))
				used, ok := field(attrs.Get("Usage"), "used")
				if pool == "" || !ok {
					return nil
				}
				out = append(out, cmcd.RawMeasurement{
					Domain:    cmcd.DomainJVM,
					Resource:  id,
					Metric:    pool,
					Value:     used,
					Timestamp: ts,
				})
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range out {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) collectApplication(ctx context.Context, fn func(cmcd.RawMeasurement) error) error {
	names, err := s.client.Search(ctx, metricsPattern)
	if err != nil {
		return err
	}

	var reqs []Request
	for _, name := range names {
		id, err := cmcd.ParseResourceID(name)
		if err != nil {
			grip.Debug(message.WrapError(err, message.Fields{
				"message": "skipping unparseable bean name",
				"bean":    name,
			}))
			continue
		}
		if cmcd.Interesting(id) {
			reqs = append(reqs, Request{Type: "read", MBean: name})
		}
	}

	for start := 0; start < len(reqs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		beans, err := s.readBeans(ctx, reqs[start:end])
		if err != nil {
			return err
		}

		for _, b := range beans {
			for _, m := range cmcd.DecodeBean(b.bean, b.ts) {
				if err := fn(m); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

type timedBean struct {
	bean cmcd.Bean
	ts   int64
}

func (s *Source) readBeans(ctx context.Context, reqs []Request) ([]timedBean, error) {
	out := make([]timedBean, 0, len(reqs))

	err := s.client.Do(ctx, reqs, func(req Request, resp Response) error {
		// beans come and go with tables and connections
		if err := resp.err(req); err != nil {
			grip.Debug(message.WrapError(err, message.Fields{
				"message": "skipping unreadable bean",
				"bean":    req.MBean,
			}))
			return nil
		}

		id, err := cmcd.ParseResourceID(req.MBean)
		if err != nil {
			return errors.WithStack(err)
		}

		bean, err := decodeAttributes(id, resp.Value)
		if err != nil {
			return errors.Wrapf(err, "decoding '%s'", req.MBean)
		}
		out = append(out, timedBean{bean: bean, ts: timestamp(resp)})
		return nil
	})

	return out, err
}

func decodeAttributes(id cmcd.ResourceID, attrs *fastjson.Value) (cmcd.Bean, error) {
	obj, err := attrs.Object()
	if err != nil {
		return cmcd.Bean{}, err
	}

	bean := cmcd.Bean{Resource: id, Attributes: map[string]float64{}}
	obj.Visit(func(key []byte, v *fastjson.Value) {
		name := string(key)
		if f, ok := number(v); ok {
			bean.Attributes[name] = f
			return
		}
		if name != "Value" {
			return
		}

		bean.HasValue = true
		if v.Type() != fastjson.TypeArray {
			return
		}
		items, _ := v.Array()
		bean.Buckets = make([]int64, 0, len(items))
		for _, item := range items {
			bean.Buckets = append(bean.Buckets, item.GetInt64())
		}
	})

	return bean, nil
}

// eachBean calls fn for every entry of a pattern read result.
func eachBean(v *fastjson.Value, fn func(name string, attrs *fastjson.Value) error) error {
	obj, err := v.Object()
	if err != nil {
		return errors.Wrap(err, "pattern read result")
	}

	var (
		names []string
		vals  []*fastjson.Value
	)
	obj.Visit(func(key []byte, v *fastjson.Value) {
		names = append(names, string(key))
		vals = append(vals, v)
	})

	for idx := range names {
		if err := fn(names[idx], vals[idx]); err != nil {
			return err
		}
	}
	return nil
}

func jvm(name, metric string, v float64, ts int64) cmcd.RawMeasurement {
	return cmcd.RawMeasurement{
		Domain:    cmcd.DomainJVM,
		Resource:  cmcd.MustParseResourceID(name),
		Metric:    metric,
		Value:     v,
		Timestamp: ts,
	}
}

// field reads a numeric attribute; absent or non-numeric attributes
// are reported as missing.
func field(v *fastjson.Value, key string) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return number(v.Get(key))
}

// ratio is used over committed for a memory usage composite. There is
// no ratio without a positive committed size.
func ratio(usage *fastjson.Value) (float64, bool) {
	used, ok := field(usage, "used")
	if !ok {
		return 0, false
	}
	committed, ok := field(usage, "committed")
	if !ok || committed <= 0 {
		return 0, false
	}
	return used / committed, true
}

func timestamp(resp Response) int64 {
	if resp.Timestamp > 0 {
		return resp.Timestamp
	}
	return time.Now().Unix()
}
