package stage

import (
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/evalfactory/evalfactory/types"
)

// Registry holds the generators for a pipeline and derives their
// execution order from declared artifact dependencies.
type Registry struct {
	generators map[types.Stage]Generator
	order      []types.Stage
}

// NewRegistry builds a registry from the given generators. Registration
// fails on duplicate stages, dependencies on unregistered stages, and
// dependency cycles.
func NewRegistry(gens ...Generator) (*Registry, error) {
	r := &Registry{generators: make(map[types.Stage]Generator, len(gens))}

	registered := make([]types.Stage, 0, len(gens))
	for _, g := range gens {
		s := g.Stage()
		if !s.Valid() {
			return nil, fmt.Errorf("invalid stage %q", s)
		}
		if _, dup := r.generators[s]; dup {
			return nil, fmt.Errorf("duplicate generator for stage %q", s)
		}
		r.generators[s] = g
		registered = append(registered, s)
	}

	// Edges run dependency -> dependent.
	edges := make([]toposort.Edge, 0)
	for _, g := range gens {
		for _, dep := range g.Inputs() {
			if _, ok := r.generators[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on unregistered stage %q", g.Stage(), dep)
			}
			edges = append(edges, toposort.Edge{dep, g.Stage()})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("stage dependency cycle: %w", err)
	}

	seen := make(map[types.Stage]bool, len(sorted))
	for _, node := range sorted {
		s := node.(types.Stage)
		r.order = append(r.order, s)
		seen[s] = true
	}
	// Stages with no edges keep registration order at the end.
	for _, s := range registered {
		if !seen[s] {
			r.order = append(r.order, s)
		}
	}

	return r, nil
}

// Order returns the stages in execution order.
func (r *Registry) Order() []types.Stage {
	out := make([]types.Stage, len(r.order))
	copy(out, r.order)
	return out
}

// Generator returns the generator for a stage.
func (r *Registry) Generator(s types.Stage) (Generator, bool) {
	g, ok := r.generators[s]
	return g, ok
}

// Ready reports whether every input artifact of the stage exists in the
// bundle.
func (r *Registry) Ready(s types.Stage, bundle *types.ArtifactBundle) bool {
	g, ok := r.generators[s]
	if !ok {
		return false
	}
	for _, dep := range g.Inputs() {
		if !bundle.Has(dep) {
			return false
		}
	}
	return true
}
