package cmcd

import (
	"sort"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// InstanceRegistry holds the instances currently being collected,
// keyed by id.
type InstanceRegistry struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

func NewInstanceRegistry() *InstanceRegistry {
	return &InstanceRegistry{instances: map[string]Instance{}}
}

func (r *InstanceRegistry) Add(inst Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
}

// Remove forgets an instance, so that the next discovery cycle treats
// it as new.
func (r *InstanceRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

func (r *InstanceRegistry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

func (r *InstanceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// IDs returns the registered ids, sorted.
func (r *InstanceRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.instances))
	for id := range r.instances {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Delta returns the candidates whose ids are not registered, in the
// order given. Candidates without an id are skipped with a warning and
// each id is returned at most once.
func (r *InstanceRegistry) Delta(candidates []Instance) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(candidates))
	var out []Instance
	for _, c := range candidates {
		if c.ID == "" {
			grip.Warning(message.WrapError(
				&DiscoveryError{Candidate: c.Handle, Reason: "no instance id"},
				message.Fields{"message": "skipping discovered instance"}))
			continue
		}
		if _, ok := r.instances[c.ID]; ok {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}

	return out
}

// Changed returns the candidates that are registered under the same id
// with a different handle.
func (r *InstanceRegistry) Changed(candidates []Instance) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Instance
	for _, c := range candidates {
		if known, ok := r.instances[c.ID]; ok && c.ID != "" && known.Handle != c.Handle {
			out = append(out, c)
		}
	}
	return out
}
