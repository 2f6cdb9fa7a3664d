// Package memgraph is an in-memory graph.Store with the same MERGE semantics
// as the Neo4j store. It backs dry runs and tests.
package memgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/efebarandurmaz/codegraph/internal/graph"
)

// Node is a stored node.
type Node struct {
	Label string
	Key   map[string]any
	Props map[string]any
}

// Edge is a stored relationship.
type Edge struct {
	Type string
	From string
	To   string
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[Edge]struct{}
	// FailOn, if set, is consulted before each Apply; a non-nil result is
	// returned instead of applying the operation.
	FailOn func(graph.Operation) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nodes: make(map[string]*Node),
		edges: make(map[Edge]struct{}),
	}
}

// ID renders the identity of a node reference.
func ID(ref graph.NodeRef) string {
	var sb strings.Builder
	sb.WriteString(ref.Label)
	for _, k := range ref.KeyNames() {
		fmt.Fprintf(&sb, "|%s=%v", k, ref.Key[k])
	}
	return sb.String()
}

func (s *Store) Apply(ctx context.Context, op graph.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailOn != nil {
		if err := s.FailOn(op); err != nil {
			return err
		}
	}
	if err := op.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch op.Kind {
	case graph.OpNode:
		n := s.merge(op.Node)
		for k, v := range op.Props {
			n.Props[k] = v
		}
	case graph.OpEdge:
		s.merge(op.From)
		s.merge(op.To)
		s.edges[Edge{Type: op.Type, From: ID(op.From), To: ID(op.To)}] = struct{}{}
	}
	return nil
}

func (s *Store) merge(ref graph.NodeRef) *Node {
	id := ID(ref)
	if n, ok := s.nodes[id]; ok {
		return n
	}
	key := make(map[string]any, len(ref.Key))
	for k, v := range ref.Key {
		key[k] = v
	}
	n := &Node{Label: ref.Label, Key: key, Props: make(map[string]any)}
	s.nodes[id] = n
	return n
}

func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*Node)
	s.edges = make(map[Edge]struct{})
	return nil
}

func (s *Store) Callees(ctx context.Context, file, qualname string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from := ID(graph.FunctionRef(file, qualname))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for e := range s.edges {
		if e.Type != graph.RelCalls || e.From != from {
			continue
		}
		if n, ok := s.nodes[e.To]; ok {
			out = append(out, fmt.Sprint(n.Key["qualname"]))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Close(context.Context) error { return nil }

// Node returns the node with the given identity.
func (s *Store) Node(ref graph.NodeRef) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[ID(ref)]
	return n, ok
}

// HasEdge reports whether the relationship exists.
func (s *Store) HasEdge(from graph.NodeRef, rel string, to graph.NodeRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[Edge{Type: rel, From: ID(from), To: ID(to)}]
	return ok
}

// NodeCount returns the number of nodes with label, or all nodes when label
// is empty.
func (s *Store) NodeCount(label string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, node := range s.nodes {
		if label == "" || node.Label == label {
			n++
		}
	}
	return n
}

// EdgeCount returns the number of relationships of type rel, or all
// relationships when rel is empty.
func (s *Store) EdgeCount(rel string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for e := range s.edges {
		if rel == "" || e.Type == rel {
			n++
		}
	}
	return n
}

var _ graph.Store = (*Store)(nil)
