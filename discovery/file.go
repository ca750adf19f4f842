package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/papertrail/go-tail/follower"
	"github.com/pkg/errors"
	"github.com/wikimedia/cmcd"
)

// FileDiscovery follows a file of "<id> <url>" lines, a la "tail -f",
// and reports every instance named so far. A later line for an id
// replaces the earlier one; blank lines and lines starting with # are
// ignored. The file must exist; it may be rotated afterwards.
type FileDiscovery struct {
	path string
	tail *follower.Follower

	mu        sync.RWMutex
	instances map[string]string
	lines     int
	err       error
	ended     bool
	closed    bool
}

// NewFileDiscovery starts following path.
func NewFileDiscovery(path string) (*FileDiscovery, error) {
	if path == "" {
		return nil, errors.New("instances file must be specified")
	}

	tail, err := follower.New(path, follower.Config{
		Reopen: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "problem setting up file follower of '%s'", path)
	}

	d := &FileDiscovery{
		path:      path,
		tail:      tail,
		instances: map[string]string{},
	}
	go d.follow()

	return d, nil
}

func (d *FileDiscovery) follow() {
	for line := range d.tail.Lines() {
		d.apply(line.String())
	}

	d.mu.Lock()
	d.err = d.tail.Err()
	d.ended = true
	d.mu.Unlock()
}

func (d *FileDiscovery) apply(line string) {
	line = strings.TrimSpace(line)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines++

	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	fields := strings.Fields(line)
	if len(fields) != 2 {
		grip.Warning(message.WrapError(&cmcd.DiscoveryError{
			Candidate: line,
			Reason:    "expected '<id> <url>'",
		}, message.Fields{
			"message": "skipping instances file line",
			"file":    d.path,
			"line":    d.lines,
		}))
		return
	}

	d.instances[fields[0]] = fields[1]
}

// Discover returns the instances read so far, ordered by id.
func (d *FileDiscovery) Discover(ctx context.Context) ([]cmcd.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return nil, errors.Wrapf(d.err, "following '%s'", d.path)
	}

	out := make([]cmcd.Instance, 0, len(d.instances))
	for id, url := range d.instances {
		out = append(out, cmcd.Instance{ID: id, Handle: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// Close stops following the file. It is safe to call more than once.
func (d *FileDiscovery) Close() error {
	d.mu.Lock()
	skip := d.ended || d.closed
	d.closed = true
	d.mu.Unlock()

	// the follower only hears Close while its loop runs
	if !skip {
		d.tail.Close()
	}
	return nil
}
