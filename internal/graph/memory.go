package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/natefinch/atomic"
)

// snapshot is the on-disk form of a MemoryStore
type snapshot struct {
	Nodes []*Node `json:"nodes"`
	Edges []Edge  `json:"edges"`
}

// MemoryStore keeps the graph in memory and persists it as a JSON snapshot on Flush
type MemoryStore struct {
	mu      sync.RWMutex
	flushMu sync.Mutex
	path    string
	order   []string
	nodes   map[string]*Node
	edges   map[string]map[EdgeKind][]Edge
	// all edges in attach order, so a snapshot replays them identically
	log []Edge
}

// NewMemoryStore creates a store backed by the snapshot at path. An empty path
// keeps the graph purely in memory.
func NewMemoryStore(path string) (*MemoryStore, error) {
	m := &MemoryStore{
		path:  path,
		nodes: make(map[string]*Node),
		edges: make(map[string]map[EdgeKind][]Edge),
	}
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read graph snapshot: %w", err)
	}

	var snap snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode graph snapshot %s: %w", path, err)
	}
	for _, n := range snap.Nodes {
		m.order = append(m.order, n.ID)
		m.nodes[n.ID] = n
	}
	for _, e := range snap.Edges {
		m.appendEdge(e)
	}

	return m, nil
}

func (m *MemoryStore) Node(_ context.Context, id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) CreateNode(_ context.Context, node Node) error {
	if node.ID == "" {
		return errors.New("graph: node id cannot be empty")
	}
	if node.Kind == "" {
		node.Kind = KindPending
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[node.ID]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	m.nodes[node.ID] = &node
	m.order = append(m.order, node.ID)
	return nil
}

// Nodes returns nodes of the given kind in creation order
func (m *MemoryStore) Nodes(_ context.Context, kind Kind) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Node
	for _, id := range m.order {
		if n := m.nodes[id]; n.Kind == kind {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimStory(_ context.Context, id, story string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n.Story != "" {
		return false, nil
	}
	n.Story = story
	if n.Kind == KindPending {
		n.Kind = KindPage
	}
	return true, nil
}

func (m *MemoryStore) SetKind(_ context.Context, id string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.Kind = kind
	return nil
}

func (m *MemoryStore) SetSummary(_ context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.Summary = summary
	return nil
}

func (m *MemoryStore) Attach(_ context.Context, from, to string, kind EdgeKind, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []string{from, to} {
		if _, ok := m.nodes[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	m.appendEdge(Edge{From: from, To: to, Kind: kind, Action: action})
	return nil
}

func (m *MemoryStore) appendEdge(e Edge) {
	byKind, ok := m.edges[e.From]
	if !ok {
		byKind = make(map[EdgeKind][]Edge)
		m.edges[e.From] = byKind
	}
	byKind[e.Kind] = append(byKind[e.Kind], e)
	m.log = append(m.log, e)
}

// Edges returns the edges of one kind leaving id, in attach order
func (m *MemoryStore) Edges(_ context.Context, id string, kind EdgeKind) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	edges := m.edges[id][kind]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out, nil
}

// Flush writes the snapshot atomically so readers never see a torn file
func (m *MemoryStore) Flush(_ context.Context) error {
	if m.path == "" {
		return nil
	}

	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.RLock()
	snap := snapshot{Nodes: make([]*Node, 0, len(m.order)), Edges: make([]Edge, len(m.log))}
	for _, id := range m.order {
		cp := *m.nodes[id]
		snap.Nodes = append(snap.Nodes, &cp)
	}
	copy(snap.Edges, m.log)
	m.mu.RUnlock()

	data, err := sonic.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode graph snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := atomic.WriteFile(m.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write graph snapshot: %w", err)
	}
	return nil
}
