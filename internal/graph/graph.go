// Package graph defines the stage contract and the builder that compiles a
// fixed stage list into an immutable, validated execution graph. Structural
// problems (unknown dependencies, cycles, bad router targets) are programming
// errors and fail at compile time, before any run starts.
package graph

import (
	"context"
	"fmt"

	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// End is the terminal sentinel a router may return instead of a stage name.
const End = "END"

// Func is one unit of work: a pure function of the current state plus its
// injected collaborators, returning only the fields it changes.
type Func func(ctx context.Context, st *state.State) (*state.Delta, error)

// Router picks the single successor of a stage from the current state. It
// must return a name declared at build time, or End.
type Router func(st *state.State) string

// Stage is a named node in the execution graph.
type Stage struct {
	Name      string
	DependsOn []string
	Run       Func
}

type routerSpec struct {
	fn      Router
	targets []string
}

// Builder accumulates stages, routers and interrupt markers, then compiles
// them into a Graph. Errors are collected and reported once by Compile.
type Builder struct {
	stages     []Stage
	routers    map[string]routerSpec
	interrupts map[string]bool
	errs       []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		routers:    make(map[string]routerSpec),
		interrupts: make(map[string]bool),
	}
}

// AddStage registers a stage. Names must be unique within the graph.
func (b *Builder) AddStage(s Stage) *Builder {
	if s.Name == "" {
		b.errs = append(b.errs, fmt.Errorf("stage with empty name"))
		return b
	}
	if s.Name == End {
		b.errs = append(b.errs, fmt.Errorf("stage name %q is reserved", End))
		return b
	}
	if s.Run == nil {
		b.errs = append(b.errs, fmt.Errorf("stage %q has no run function", s.Name))
		return b
	}
	for _, existing := range b.stages {
		if existing.Name == s.Name {
			b.errs = append(b.errs, fmt.Errorf("duplicate stage name %q", s.Name))
			return b
		}
	}
	s.DependsOn = append([]string(nil), s.DependsOn...)
	b.stages = append(b.stages, s)
	return b
}

// AddRouter attaches a conditional edge evaluated after the named stage
// completes. The declared target set is validated at compile time; the
// router function must return one of those targets (or End) at run time.
func (b *Builder) AddRouter(after string, targets []string, fn Router) *Builder {
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("router after %q has no function", after))
		return b
	}
	if _, dup := b.routers[after]; dup {
		b.errs = append(b.errs, fmt.Errorf("stage %q already has a router", after))
		return b
	}
	b.routers[after] = routerSpec{fn: fn, targets: append([]string(nil), targets...)}
	return b
}

// MarkInterrupt designates a stage as a pause point: when the stage
// completes, the run halts as interrupted until an external resume signal.
func (b *Builder) MarkInterrupt(name string) *Builder {
	b.interrupts[name] = true
	return b
}

// Compile validates the accumulated definition and returns the immutable
// executable graph with its topological order.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("graph definition invalid: %v", b.errs[0])
	}
	if len(b.stages) == 0 {
		return nil, fmt.Errorf("graph has no stages")
	}

	byName := make(map[string]Stage, len(b.stages))
	for _, s := range b.stages {
		byName[s.Name] = s
	}
	for _, s := range b.stages {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", s.Name, dep)
			}
			if dep == s.Name {
				return nil, fmt.Errorf("stage %q depends on itself", s.Name)
			}
		}
	}
	for after, spec := range b.routers {
		if _, ok := byName[after]; !ok {
			return nil, fmt.Errorf("router attached to unknown stage %q", after)
		}
		for _, t := range spec.targets {
			if t == End {
				continue
			}
			if _, ok := byName[t]; !ok {
				return nil, fmt.Errorf("router after %q targets unknown stage %q", after, t)
			}
		}
	}
	for name := range b.interrupts {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("interrupt marker on unknown stage %q", name)
		}
	}

	order, err := topoSort(b.stages)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}

	// Router targets must sit strictly after the routed stage so the cursor
	// only ever moves forward.
	for after, spec := range b.routers {
		for _, t := range spec.targets {
			if t == End {
				continue
			}
			if index[t] <= index[after] {
				return nil, fmt.Errorf("router after %q targets %q, which does not execute later", after, t)
			}
		}
	}

	routers := make(map[string]routerSpec, len(b.routers))
	for k, v := range b.routers {
		routers[k] = v
	}
	interrupts := make(map[string]bool, len(b.interrupts))
	for k, v := range b.interrupts {
		interrupts[k] = v
	}

	return &Graph{
		stages:     byName,
		order:      order,
		index:      index,
		routers:    routers,
		interrupts: interrupts,
	}, nil
}

// topoSort computes a dependency-ordered execution order. Ties are broken by
// registration order, which keeps runs deterministic.
func topoSort(stages []Stage) ([]string, error) {
	indegree := make(map[string]int, len(stages))
	for _, s := range stages {
		indegree[s.Name] = len(s.DependsOn)
	}
	dependents := make(map[string][]string, len(stages))
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	order := make([]string, 0, len(stages))
	done := make(map[string]bool, len(stages))
	for len(order) < len(stages) {
		progressed := false
		for _, s := range stages {
			if done[s.Name] || indegree[s.Name] != 0 {
				continue
			}
			done[s.Name] = true
			order = append(order, s.Name)
			for _, d := range dependents[s.Name] {
				indegree[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("cycle detected in stage dependencies")
		}
	}
	return order, nil
}

// Graph is the compiled, immutable execution graph. Built once at process
// start and reused across runs.
type Graph struct {
	stages     map[string]Stage
	order      []string
	index      map[string]int
	routers    map[string]routerSpec
	interrupts map[string]bool
}

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.order) }

// Order returns the topological execution order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// StageAt returns the stage at the given position in execution order.
func (g *Graph) StageAt(i int) Stage {
	return g.stages[g.order[i]]
}

// Position returns the execution-order index of the named stage.
func (g *Graph) Position(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Router returns the conditional edge leaving the named stage, if declared.
func (g *Graph) Router(name string) (Router, bool) {
	spec, ok := g.routers[name]
	if !ok {
		return nil, false
	}
	return spec.fn, true
}

// IsInterrupt reports whether the named stage is a pause point.
func (g *Graph) IsInterrupt(name string) bool {
	return g.interrupts[name]
}
