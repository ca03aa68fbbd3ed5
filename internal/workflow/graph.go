// Package workflow executes declared step graphs with a single suspend point
// whose state survives process restarts through a checkpoint store.
package workflow

import (
	"context"
	"errors"
	"fmt"
)

// End is the pseudo-step that terminates a run.
const End = "__end__"

// StepFunc runs one named step. It reads and sets fields of the state.
type StepFunc[S any] func(ctx context.Context, state *S) error

// MergeFunc applies a resume patch to the state as the suspend step's output.
type MergeFunc[S, P any] func(state *S, patch P) error

// CompensateFunc undoes the durable writes of a failed run. state is nil
// when the checkpoint could not be decoded.
type CompensateFunc[S any] func(ctx context.Context, threadID string, state *S) error

// Rule routes to Next when When holds. When must be a pure predicate.
type Rule[S any] struct {
	Name string
	When func(state *S) bool
	Next string
}

// RouteTable is an ordered list of rules; the first matching rule wins.
type RouteTable[S any] []Rule[S]

// Route returns the first matching rule.
func (t RouteTable[S]) Route(state *S) (Rule[S], bool) {
	for _, r := range t {
		if r.When(state) {
			return r, true
		}
	}
	return Rule[S]{}, false
}

// Graph declares a pipeline. Build it with NewGraph and the chained
// declaration methods, then call Validate (Engine construction does this).
type Graph[S, P any] struct {
	name     string
	start    string
	order    []string
	steps    map[string]StepFunc[S]
	edges    map[string]string
	routes   map[string]RouteTable[S]
	suspend  string
	merge    MergeFunc[S, P]
	validate func(P) error
	undo     CompensateFunc[S]
	errs     []error
}

// NewGraph starts a pipeline declaration.
func NewGraph[S, P any](name string) *Graph[S, P] {
	return &Graph[S, P]{
		name:   name,
		steps:  make(map[string]StepFunc[S]),
		edges:  make(map[string]string),
		routes: make(map[string]RouteTable[S]),
	}
}

// Name returns the pipeline name recorded in checkpoints.
func (g *Graph[S, P]) Name() string { return g.name }

// SuspendStep returns the name of the suspend point.
func (g *Graph[S, P]) SuspendStep() string { return g.suspend }

// Steps returns the declared step names in declaration order.
func (g *Graph[S, P]) Steps() []string { return append([]string(nil), g.order...) }

// Step declares a step. The first declared step is the entry point.
func (g *Graph[S, P]) Step(name string, fn StepFunc[S]) *Graph[S, P] {
	g.declare(name)
	g.steps[name] = fn
	return g
}

// Suspend declares the single suspend step. It never runs automatically:
// reaching it persists a checkpoint, and Resume applies merge in its place.
// validate, if non-nil, rejects patches before any checkpoint is touched.
func (g *Graph[S, P]) Suspend(name string, merge MergeFunc[S, P], validate func(P) error) *Graph[S, P] {
	if g.suspend != "" {
		g.errs = append(g.errs, fmt.Errorf("second suspend step %q (already %q)", name, g.suspend))
		return g
	}
	g.declare(name)
	g.suspend = name
	g.merge = merge
	g.validate = validate
	return g
}

// OnFailure registers fn to run when a step fails, before the checkpoint
// is discarded.
func (g *Graph[S, P]) OnFailure(fn CompensateFunc[S]) *Graph[S, P] {
	g.undo = fn
	return g
}

// Edge declares the unconditional successor of from.
func (g *Graph[S, P]) Edge(from, to string) *Graph[S, P] {
	if _, dup := g.edges[from]; dup {
		g.errs = append(g.errs, fmt.Errorf("step %q has two outgoing edges", from))
	}
	g.edges[from] = to
	return g
}

// Route declares the conditional successor table of from.
func (g *Graph[S, P]) Route(from string, table RouteTable[S]) *Graph[S, P] {
	if _, dup := g.routes[from]; dup {
		g.errs = append(g.errs, fmt.Errorf("step %q has two route tables", from))
	}
	g.routes[from] = table
	return g
}

func (g *Graph[S, P]) declare(name string) {
	if name == "" || name == End {
		g.errs = append(g.errs, fmt.Errorf("invalid step name %q", name))
		return
	}
	for _, n := range g.order {
		if n == name {
			g.errs = append(g.errs, fmt.Errorf("duplicate step %q", name))
			return
		}
	}
	if g.start == "" {
		g.start = name
	}
	g.order = append(g.order, name)
}

func (g *Graph[S, P]) isStep(name string) bool {
	if name == g.suspend && name != "" {
		return true
	}
	_, ok := g.steps[name]
	return ok
}

// Validate checks the declaration: every step has exactly one way out,
// every target is declared, the suspend point exists and is followed by a
// plain edge, and the graph is acyclic.
func (g *Graph[S, P]) Validate() error {
	errs := append([]error(nil), g.errs...)
	if g.start == "" {
		errs = append(errs, errors.New("no steps declared"))
	}
	if g.suspend == "" {
		errs = append(errs, errors.New("no suspend step declared"))
	} else if g.merge == nil {
		errs = append(errs, fmt.Errorf("suspend step %q has no merge function", g.suspend))
	}
	if _, routed := g.routes[g.suspend]; routed && g.suspend != "" {
		errs = append(errs, fmt.Errorf("suspend step %q must continue through a plain edge", g.suspend))
	}

	for _, name := range g.order {
		to, hasEdge := g.edges[name]
		table, hasRoute := g.routes[name]
		switch {
		case hasEdge && hasRoute:
			errs = append(errs, fmt.Errorf("step %q has both an edge and a route table", name))
		case !hasEdge && !hasRoute:
			errs = append(errs, fmt.Errorf("step %q has no successor", name))
		case hasEdge:
			if to != End && !g.isStep(to) {
				errs = append(errs, fmt.Errorf("edge %q -> %q targets an undeclared step", name, to))
			}
		case hasRoute:
			if len(table) == 0 {
				errs = append(errs, fmt.Errorf("step %q has an empty route table", name))
			}
			for _, r := range table {
				if r.When == nil {
					errs = append(errs, fmt.Errorf("route %q from %q has no predicate", r.Name, name))
				}
				if r.Next != End && !g.isStep(r.Next) {
					errs = append(errs, fmt.Errorf("route %q from %q targets undeclared step %q", r.Name, name, r.Next))
				}
			}
		}
	}
	for from := range g.edges {
		if !g.isStep(from) {
			errs = append(errs, fmt.Errorf("edge from undeclared step %q", from))
		}
	}
	for from := range g.routes {
		if !g.isStep(from) {
			errs = append(errs, fmt.Errorf("route table on undeclared step %q", from))
		}
	}

	if len(errs) == 0 {
		if cycle := g.findCycle(); cycle != "" {
			errs = append(errs, fmt.Errorf("cycle through step %q", cycle))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline %s: %w", g.name, errors.Join(errs...))
	}
	return nil
}

func (g *Graph[S, P]) successors(name string) []string {
	if to, ok := g.edges[name]; ok {
		return []string{to}
	}
	var out []string
	for _, r := range g.routes[name] {
		out = append(out, r.Next)
	}
	return out
}

// findCycle returns a step on a cycle, or "" when the graph is acyclic.
func (g *Graph[S, P]) findCycle() string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.order))
	var visit func(string) string
	visit = func(n string) string {
		switch state[n] {
		case visiting:
			return n
		case done:
			return ""
		}
		state[n] = visiting
		for _, next := range g.successors(n) {
			if next == End {
				continue
			}
			if c := visit(next); c != "" {
				return c
			}
		}
		state[n] = done
		return ""
	}
	for _, n := range g.order {
		if c := visit(n); c != "" {
			return c
		}
	}
	return ""
}

// next resolves the successor of step for the current state.
func (g *Graph[S, P]) next(step string, state *S) (string, error) {
	if to, ok := g.edges[step]; ok {
		return to, nil
	}
	if rule, ok := g.routes[step].Route(state); ok {
		return rule.Next, nil
	}
	return "", fmt.Errorf("step %q: no route matched", step)
}
