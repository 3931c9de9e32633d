package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("graph: node not found")
	ErrNodeExists = errors.New("graph: node already exists")
)

// Kind classifies a page node
type Kind string

const (
	KindPending Kind = "pending"
	KindPage    Kind = "page"
	KindStart   Kind = "start"
)

// EdgeKind distinguishes forward choices from history back-references
type EdgeKind string

const (
	EdgeAction   EdgeKind = "action"
	EdgePrevious EdgeKind = "previous"
)

// Node is one page of a story. Story stays empty until the page is generated.
type Node struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Story   string `json:"story,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// HasStory reports whether the page text has been generated
func (n *Node) HasStory() bool {
	return n != nil && n.Story != ""
}

// Edge is a directed link between two nodes. Action is only set on action edges.
type Edge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Action string   `json:"action,omitempty"`
}

// Store is the durable story graph consumed by the generator and the call flow.
//
// Edges must be returned in the order they were attached: the position of an
// action edge is the keypad digit a caller presses to pick it.
type Store interface {
	Node(ctx context.Context, id string) (*Node, error)
	CreateNode(ctx context.Context, node Node) error
	Nodes(ctx context.Context, kind Kind) ([]*Node, error)

	// ClaimStory sets the story text if it is still empty and reports whether
	// this call won. A pending node becomes a page once claimed.
	ClaimStory(ctx context.Context, id, story string) (bool, error)
	SetKind(ctx context.Context, id string, kind Kind) error
	SetSummary(ctx context.Context, id, summary string) error

	Attach(ctx context.Context, from, to string, kind EdgeKind, action string) error
	Edges(ctx context.Context, id string, kind EdgeKind) ([]Edge, error)

	Flush(ctx context.Context) error
}

// NewID returns a fresh opaque node id
func NewID() string {
	return uuid.NewString()
}
