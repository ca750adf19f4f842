// Package jolokia reads JMX metrics over HTTP from a Jolokia agent
// attached to a Cassandra JVM, and adapts them to the collection
// pipeline.
package jolokia

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

const (
	// DefaultPort is the port the Jolokia JVM agent listens on unless
	// configured otherwise.
	DefaultPort = 8778
	// DefaultURL is the agent endpoint of a local instance.
	DefaultURL = "http://localhost:8778/jolokia/"

	maxResponseSize = 64 << 20
)

// Request is one operation of a bulk Jolokia request.
type Request struct {
	Type      string
	MBean     string
	Attribute []string
}

// Response is the decoded result of one Request. Value holds the
// operation result and is only valid within the callback that
// received it.
type Response struct {
	Status    int
	Error     string
	ErrorType string
	Timestamp int64
	Value     *fastjson.Value
}

// Error is a non-200 status reported by the agent for one request.
type Error struct {
	Status int
	Type   string
	Msg    string
	MBean  string
}

func (e *Error) Error() string {
	return "jolokia " + strconv.Itoa(e.Status) + " for '" + e.MBean + "': " + e.Type + ": " + e.Msg
}

// Client talks to one Jolokia agent.
type Client struct {
	url     string
	http    *http.Client
	parsers fastjson.ParserPool
}

// NewClient returns a client for the agent at url. A nil httpClient
// selects one with a 30 second timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{url: url, http: httpClient}
}

func (c *Client) URL() string { return c.url }

// Do posts the requests as one bulk request and passes every response,
// in request order, to fn. Object names in responses keep their
// declared key order.
func (c *Client) Do(ctx context.Context, reqs []Request, fn func(Request, Response) error) error {
	if len(reqs) == 0 {
		return nil
	}

	var arena fastjson.Arena
	body := arena.NewArray()
	for idx, r := range reqs {
		obj := arena.NewObject()
		obj.Set("type", arena.NewString(r.Type))
		if r.MBean != "" {
			obj.Set("mbean", arena.NewString(r.MBean))
		}
		if len(r.Attribute) > 0 {
			attrs := arena.NewArray()
			for i, a := range r.Attribute {
				attrs.SetArrayItem(i, arena.NewString(a))
			}
			obj.Set("attribute", attrs)
		}
		config := arena.NewObject()
		config.Set("canonicalNaming", arena.NewFalse())
		config.Set("ignoreErrors", arena.NewTrue())
		obj.Set("config", config)
		body.SetArrayItem(idx, obj)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body.MarshalTo(nil)))
	if err != nil {
		return errors.Wrapf(err, "building request for %s", c.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "posting to %s", c.url)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrapf(err, "reading response from %s", c.url)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("agent at %s returned HTTP %d", c.url, resp.StatusCode)
	}

	parser := c.parsers.Get()
	defer c.parsers.Put(parser)

	doc, err := parser.ParseBytes(payload)
	if err != nil {
		return errors.Wrapf(err, "parsing response from %s", c.url)
	}

	items, err := doc.Array()
	if err != nil {
		return errors.Wrapf(err, "response from %s is not a bulk response", c.url)
	}
	if len(items) != len(reqs) {
		return errors.Errorf("agent at %s answered %d of %d requests", c.url, len(items), len(reqs))
	}

	for idx, item := range items {
		r := Response{
			Status:    item.GetInt("status"),
			Error:     string(item.GetStringBytes("error")),
			ErrorType: string(item.GetStringBytes("error_type")),
			Timestamp: item.GetInt64("timestamp"),
			Value:     item.Get("value"),
		}
		if err := fn(reqs[idx], r); err != nil {
			return err
		}
	}

	return nil
}

func (r Response) err(req Request) error {
	if r.Status == http.StatusOK {
		return nil
	}
	return &Error{Status: r.Status, Type: r.ErrorType, Msg: r.Error, MBean: req.MBean}
}

// Version asks the agent for its version. It is the cheapest request
// the agent answers and serves as a reachability check.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	err := c.Do(ctx, []Request{{Type: "version"}}, func(req Request, resp Response) error {
		if err := resp.err(req); err != nil {
			return err
		}
		version = string(resp.Value.GetStringBytes("agent"))
		return nil
	})
	return version, err
}

// Search returns the names of the beans matching pattern.
func (c *Client) Search(ctx context.Context, pattern string) ([]string, error) {
	var names []string
	err := c.Do(ctx, []Request{{Type: "search", MBean: pattern}}, func(req Request, resp Response) error {
		if err := resp.err(req); err != nil {
			return err
		}
		values, err := resp.Value.Array()
		if err != nil {
			return errors.Wrapf(err, "search result for '%s'", pattern)
		}
		for _, v := range values {
			names = append(names, string(v.GetStringBytes()))
		}
		return nil
	})
	return names, err
}

// number reads a JSON number. Jolokia renders non-finite doubles as
// strings such as "NaN".
func number(v *fastjson.Value) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch v.Type() {
	case fastjson.TypeNumber:
		f, err := v.Float64()
		return f, err == nil
	case fastjson.TypeString:
		f, err := strconv.ParseFloat(string(v.GetStringBytes()), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
