package cmcd

import (
	"strings"

	"github.com/pkg/errors"
)

// Domain identifies which naming scheme applies to a measurement.
type Domain int

const (
	DomainJVM Domain = iota
	DomainApplication
)

const (
	// JVMDomain is the JMX domain of the platform MXBeans.
	JVMDomain = "java.lang"
	// ApplicationDomain is the JMX domain of the Cassandra metrics
	// registry.
	ApplicationDomain = "org.apache.cassandra.metrics"
)

func (d Domain) String() string {
	switch d {
	case DomainJVM:
		return "jvm"
	case DomainApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Property is one key=value pair of a resource identifier.
type Property struct {
	Key   string
	Value string
}

// ResourceID mirrors a JMX object name: a domain and the key
// properties in the order they were declared.
type ResourceID struct {
	Domain     string
	Properties []Property
}

// ParseResourceID parses an object name of the form
// "domain:key=value,key=value". Quoted values may contain commas and
// are kept verbatim, quotes included.
func ParseResourceID(name string) (ResourceID, error) {
	idx := strings.Index(name, ":")
	if idx <= 0 {
		return ResourceID{}, errors.Errorf("object name '%s' has no domain", name)
	}

	out := ResourceID{Domain: name[:idx]}
	list := name[idx+1:]
	if list == "" {
		return ResourceID{}, errors.Errorf("object name '%s' has no key properties", name)
	}

	for _, pair := range splitProperties(list) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return ResourceID{}, errors.Errorf("malformed key property '%s' in '%s'", pair, name)
		}
		out.Properties = append(out.Properties, Property{
			Key:   strings.TrimSpace(kv[0]),
			Value: strings.TrimSpace(kv[1]),
		})
	}

	return out, nil
}

// MustParseResourceID is ParseResourceID for constant names; it panics
// on malformed input.
func MustParseResourceID(name string) ResourceID {
	id, err := ParseResourceID(name)
	if err != nil {
		panic(err)
	}
	return id
}

func splitProperties(list string) []string {
	var (
		out    []string
		quoted bool
		start  int
	)

	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				out = append(out, list[start:i])
				start = i + 1
			}
		}
	}

	return append(out, list[start:])
}

// Get returns the value of the named property.
func (r ResourceID) Get(key string) (string, bool) {
	for _, p := range r.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// String renders the resource in object name form, preserving
// property order.
func (r ResourceID) String() string {
	pairs := make([]string, len(r.Properties))
	for idx, p := range r.Properties {
		pairs[idx] = p.Key + "=" + p.Value
	}
	return r.Domain + ":" + strings.Join(pairs, ",")
}

// RawMeasurement is one reading taken from an instance before its name
// has been flattened.
type RawMeasurement struct {
	Domain    Domain
	Resource  ResourceID
	Metric    string
	Value     float64
	Timestamp int64
}
