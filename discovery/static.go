package discovery

import (
	"context"

	"github.com/wikimedia/cmcd"
)

// Static always reports the same instances. It serves the single
// endpoint mode, where the agent url and instance name come from the
// command line.
type Static struct {
	instances []cmcd.Instance
}

func NewStatic(instances ...cmcd.Instance) *Static {
	return &Static{instances: append([]cmcd.Instance(nil), instances...)}
}

func (s *Static) Discover(context.Context) ([]cmcd.Instance, error) {
	return append([]cmcd.Instance(nil), s.instances...), nil
}
