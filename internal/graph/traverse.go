package graph

import (
	"context"
	"fmt"
)

// maxDepth bounds the backward walk so a corrupted graph cannot loop forever.
const maxDepth = 1024

// Narrative is the story leading up to a node
type Narrative struct {
	// Start is the root the walk ended on.
	Start *Node
	// Segments holds the story text of every ancestor, root first.
	Segments []string
}

// ActionEdges returns the caller choices out of a node in digit order
func ActionEdges(ctx context.Context, s Store, id string) ([]Edge, error) {
	return s.Edges(ctx, id, EdgeAction)
}

// Previous returns the parent of a node, or nil for a root
func Previous(ctx context.Context, s Store, id string) (*Node, error) {
	edges, err := s.Edges(ctx, id, EdgePrevious)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}
	if len(edges) > 1 {
		return nil, fmt.Errorf("graph: node %s has %d previous edges", id, len(edges))
	}
	return s.Node(ctx, edges[0].To)
}

// History walks previous edges from id back to its start node. A node at depth
// k yields exactly k segments; the node's own story is not included.
func History(ctx context.Context, s Store, id string) (*Narrative, error) {
	node, err := s.Node(ctx, id)
	if err != nil {
		return nil, err
	}

	var reversed []string
	current := node
	for depth := 0; ; depth++ {
		if current.Kind == KindStart {
			break
		}
		if depth >= maxDepth {
			return nil, fmt.Errorf("graph: no start node within %d steps of %s", maxDepth, id)
		}

		parent, err := Previous(ctx, s, current.ID)
		if err != nil {
			return nil, fmt.Errorf("walk back from %s: %w", current.ID, err)
		}
		if parent == nil {
			return nil, fmt.Errorf("graph: node %s has no path to a start node", id)
		}
		reversed = append(reversed, parent.Story)
		current = parent
	}

	segments := make([]string, len(reversed))
	for i, story := range reversed {
		segments[len(reversed)-1-i] = story
	}

	return &Narrative{Start: current, Segments: segments}, nil
}

// Depth returns how many previous edges separate id from its start node
func Depth(ctx context.Context, s Store, id string) (int, error) {
	narrative, err := History(ctx, s, id)
	if err != nil {
		return 0, err
	}
	return len(narrative.Segments), nil
}
