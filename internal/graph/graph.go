// Package graph validates and orders task dependency graphs. The store
// enforces per-task invariants on insert; this package covers the
// whole-graph properties a single insert cannot see, acyclicity above
// all.
package graph

import (
	"errors"
	"fmt"

	"github.com/seanmigrate/foreman/pkg/models"
)

// ErrCycle indicates a circular dependency in the task set.
var ErrCycle = errors.New("circular dependency in task graph")

// TaskGraph is a validated directed acyclic graph of task dependencies.
// Edges point from a task to the tasks it is blocked by.
type TaskGraph struct {
	nodes map[string]*models.Task
	edges map[string][]string
}

// New builds a graph from the task set and validates it: every
// dependency must resolve inside the set and the result must be
// acyclic.
func New(tasks []*models.Task) (*TaskGraph, error) {
	g := &TaskGraph{
		nodes: make(map[string]*models.Task, len(tasks)),
		edges: make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		g.nodes[t.ID] = t
	}
	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, ok := g.nodes[depID]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %s", t.Title, depID)
			}
			g.edges[t.ID] = append(g.edges[t.ID], depID)
		}
	}
	if g.hasCycle() {
		return nil, ErrCycle
	}
	return g, nil
}

// hasCycle runs a depth-first search with three-color marking; a gray
// node reached again is a back edge.
func (g *TaskGraph) hasCycle() bool {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range g.nodes {
		if colors[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// Order returns the tasks in dependency order: every task appears after
// all tasks it depends on. Ties follow the input ordering of Tasks, so
// the output is stable for a given task slice.
func (g *TaskGraph) Order(tasks []*models.Task) []*models.Task {
	visited := make(map[string]bool, len(g.nodes))
	ordered := make([]*models.Task, 0, len(tasks))

	var visit func(t *models.Task)
	visit = func(t *models.Task) {
		if visited[t.ID] {
			return
		}
		visited[t.ID] = true
		for _, depID := range g.edges[t.ID] {
			visit(g.nodes[depID])
		}
		ordered = append(ordered, t)
	}

	for _, t := range tasks {
		if _, ok := g.nodes[t.ID]; ok {
			visit(t)
		}
	}
	return ordered
}

// Dependents returns the IDs of tasks blocked by the given task.
func (g *TaskGraph) Dependents(taskID string) []string {
	var out []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	return len(g.nodes)
}
