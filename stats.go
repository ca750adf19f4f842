package cmcd

import (
	"math"
	"sort"
	"sync"
)

// maxCount is the value after which a counter wraps back to zero.
const maxCount = math.MaxInt32

// Counts holds the outcome tallies of one instance.
type Counts struct {
	Successes int64
	Failures  int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot map[string]Counts

// Names returns the instance ids in the snapshot, sorted.
func (s StatsSnapshot) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stats tracks collection outcomes per instance. It is safe for
// concurrent use.
type Stats struct {
	mu        sync.Mutex
	successes map[string]int64
	failures  map[string]int64
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{
		successes: map[string]int64{},
		failures:  map[string]int64{},
	}
}

func (s *Stats) Success(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes[name] = incrCounter(s.successes[name])
}

func (s *Stats) Failure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = incrCounter(s.failures[name])
}

// Record tallies a job outcome. Fatal errors count as failures.
func (s *Stats) Record(name string, o Outcome) {
	if o == OutcomeSuccess {
		s.Success(name)
		return
	}
	s.Failure(name)
}

func (s *Stats) Successes(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successes[name]
}

func (s *Stats) Failures(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[name]
}

// Snapshot copies the current counters of every known instance.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(StatsSnapshot, len(s.successes)+len(s.failures))
	for name, n := range s.successes {
		c := out[name]
		c.Successes = n
		out[name] = c
	}
	for name, n := range s.failures {
		c := out[name]
		c.Failures = n
		out[name] = c
	}

	return out
}

func incrCounter(v int64) int64 {
	if v < maxCount {
		return v + 1
	}
	return 0
}
