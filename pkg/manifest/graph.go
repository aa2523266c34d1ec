package manifest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/heimdalr/dag"
)

// Graph orders models so that referenced models come before their referrers
type Graph struct {
	dag    *dag.DAG
	models map[string]*Model
}

// NewGraph builds the dependency graph of the given models. Level-4 refs
// and bases add an edge from the referenced model; level-3 refs need no
// identifiers up front and add none, which is how cycles are broken.
func NewGraph(models []*Model) (*Graph, error) {
	g := &Graph{
		dag:    dag.NewDAG(),
		models: make(map[string]*Model, len(models)),
	}

	for _, model := range models {
		if err := g.dag.AddVertexByID(model.Name, model.Name); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", model.Name, err)
		}

		g.models[model.Name] = model
	}

	for _, model := range models {
		for _, dep := range dependencies(model) {
			if _, ok := g.models[dep]; !ok || dep == model.Name {
				continue
			}

			if err := g.dag.AddEdge(dep, model.Name); err != nil {
				var duplicate dag.EdgeDuplicateError
				if errors.As(err, &duplicate) {
					continue
				}

				var loop dag.EdgeLoopError
				if errors.As(err, &loop) {
					return nil, errcode.New(errcode.ReferenceCycle, fmt.Errorf("%w: %s → %s closes a cycle, make one ref on it level 3", ErrReferenceCycle, dep, model.Name))
				}

				return nil, fmt.Errorf("invalid dependency %s → %s: %w", dep, model.Name, err)
			}
		}
	}

	return g, nil
}

func dependencies(model *Model) []string {
	var deps []string

	if model.Base != nil && model.Base.Model != nil {
		deps = append(deps, model.Base.Model.Name)
	}

	for _, prop := range model.Properties.List() {
		if prop.ByIdentifier() && prop.Ref.Model != nil && !prop.Nested() {
			deps = append(deps, prop.Ref.Model.Name)
		}
	}

	return deps
}

// Dependencies returns the direct dependencies of a model within the graph
func (g *Graph) Dependencies(name string) []string {
	parents, err := g.dag.GetParents(name)
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(parents))
	for id := range parents {
		out = append(out, id)
	}

	g.sortByOrder(out)

	return out
}

// Levels groups models by topological depth; models in one group do not
// depend on each other and keep manifest order within the group
func (g *Graph) Levels() [][]*Model {
	depth := make(map[string]int, len(g.models))

	var visit func(name string) int
	visit = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}

		d := 0
		for _, parent := range g.Dependencies(name) {
			if pd := visit(parent) + 1; pd > d {
				d = pd
			}
		}

		depth[name] = d

		return d
	}

	names := make([]string, 0, len(g.models))
	for name := range g.models {
		names = append(names, name)
	}

	g.sortByOrder(names)

	var levels [][]*Model

	for _, name := range names {
		d := visit(name)
		for len(levels) <= d {
			levels = append(levels, nil)
		}

		levels[d] = append(levels[d], g.models[name])
	}

	return levels
}

// Ordered returns every model in dependency order
func (g *Graph) Ordered() []*Model {
	var out []*Model
	for _, level := range g.Levels() {
		out = append(out, level...)
	}

	return out
}

func (g *Graph) sortByOrder(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return g.models[names[i]].order < g.models[names[j]].order
	})
}
