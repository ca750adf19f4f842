package cmcd

import (
	"fmt"
	"strings"
)

// There is no deterministic way to map these resources to Graphite
// names in the abstract, hence the special cases below. Existing
// dashboards depend on the exact output.

// MetricName translates a raw measurement into its flat Graphite name
// under the given prefix. Malformed or unrecognized resources produce
// a *TranslationError.
func MetricName(m RawMeasurement, prefix string) (string, error) {
	switch m.Domain {
	case DomainJVM:
		return metricNameJVM(m, prefix)
	case DomainApplication:
		return metricNameApplication(m, prefix)
	default:
		return "", newTranslationError(m, "unknown measurement domain %d", m.Domain)
	}
}

func metricNameJVM(m RawMeasurement, prefix string) (string, error) {
	typ, err := validateResource(m, JVMDomain)
	if err != nil {
		return "", err
	}

	base := prefix + ".jvm"
	metric := scrub(m.Metric)

	switch typ {
	case "Runtime":
		return fmt.Sprintf("%s.%s", base, metric), nil
	case "Memory":
		return fmt.Sprintf("%s.memory.%s", base, metric), nil
	case "GarbageCollector":
		gcName, ok := m.Resource.Get("name")
		if !ok || gcName == "" {
			return "", newTranslationError(m, "missing name property")
		}
		return fmt.Sprintf("%s.gc.%s.%s", base, scrub(gcName), metric), nil
	case "MemoryPool":
		return fmt.Sprintf("%s.memory.memory_pool_usages.%s", base, metric), nil
	default:
		return "", newTranslationError(m, "unknown bean type '%s'", typ)
	}
}

func metricNameApplication(m RawMeasurement, prefix string) (string, error) {
	typ, err := validateResource(m, ApplicationDomain)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('.')
	b.WriteString(m.Resource.Domain)

	// ColumnFamily metrics without a keyspace are filed under a
	// synthetic "all" keyspace so that every ColumnFamily name has a
	// keyspace segment.
	_, hasKeyspace := m.Resource.Get("keyspace")
	synthesize := typ == "ColumnFamily" && !hasKeyspace

	for _, p := range m.Resource.Properties {
		b.WriteByte('.')
		b.WriteString(scrub(p.Value))

		if synthesize && p.Key == "type" {
			b.WriteString(".all")
			synthesize = false
		}
	}

	b.WriteByte('.')
	b.WriteString(scrub(m.Metric))

	return b.String(), nil
}

func validateResource(m RawMeasurement, expectedDomain string) (string, error) {
	if m.Resource.Domain != expectedDomain {
		return "", newTranslationError(m, "sample not in domain %s", expectedDomain)
	}

	typ, ok := m.Resource.Get("type")
	if !ok {
		return "", newTranslationError(m, "missing type property")
	}

	return typ, nil
}

// scrub replaces characters that are problematic in Graphite names.
func scrub(name string) string {
	return strings.ReplaceAll(name, " ", "-")
}

// InstancePrefix returns the metric prefix used for one instance.
func InstancePrefix(root, instanceID string) string {
	return fmt.Sprintf("%s.%s", root, instanceID)
}
