package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"read2me/internal/graph"
	"read2me/internal/page"
	"read2me/internal/prefetch"

	"github.com/rs/zerolog"
)

// ErrNoStartNode means the graph has no story to begin with
var ErrNoStartNode = errors.New("session: no start node")

// Outcome is the result of one caller turn
type Outcome int

const (
	// Intro starts a call on a start node.
	Intro Outcome = iota
	// Advanced moves the caller to the chosen page.
	Advanced
	// InvalidChoice re-prompts the same page.
	InvalidChoice
	// NotReady replays the same digit against the same page after a pause.
	NotReady
	// Restart sends the caller back to the beginning; the page they were on is gone.
	Restart
	// Failed ends the call with an apology.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Intro:
		return "intro"
	case Advanced:
		return "advanced"
	case InvalidChoice:
		return "invalid_choice"
	case NotReady:
		return "not_ready"
	case Restart:
		return "restart"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Turn tells the telephony layer what to play next
type Turn struct {
	Outcome Outcome
	// NodeID is the page whose choices the caller answers next.
	NodeID string
	// Target is the chosen page that is not ready yet.
	Target string
	// Digits is replayed on a NotReady redirect.
	Digits string
	// IntroIndex selects the introduction audio on Intro.
	IntroIndex int
}

// Enqueuer accepts prefetch work
type Enqueuer interface {
	Enqueue(ctx context.Context, t prefetch.Task) error
}

// AudioIndex reports whether a page's audio has been published
type AudioIndex interface {
	HasNode(id string) bool
}

type Options struct {
	Store  graph.Store
	Audio  AudioIndex
	Queue  Enqueuer
	Intros int
	Logger zerolog.Logger
	// Pick returns a random index in [0, n); nil uses math/rand.
	Pick func(n int) int
}

// Machine runs the per-turn call flow. The only session state is the node id
// carried by each request, so one Machine serves every call.
type Machine struct {
	store  graph.Store
	audio  AudioIndex
	queue  Enqueuer
	intros int
	pick   func(n int) int
	logger zerolog.Logger
}

func New(opts Options) *Machine {
	pick := opts.Pick
	if pick == nil {
		pick = rand.IntN
	}
	return &Machine{
		store:  opts.Store,
		audio:  opts.Audio,
		queue:  opts.Queue,
		intros: opts.Intros,
		pick:   pick,
		logger: opts.Logger,
	}
}

// Intro begins a call on a random start node with a random introduction
func (m *Machine) Intro(ctx context.Context) (Turn, error) {
	starts, err := m.store.Nodes(ctx, graph.KindStart)
	if err != nil {
		return Turn{Outcome: Failed}, fmt.Errorf("list start nodes: %w", err)
	}
	if len(starts) == 0 {
		return Turn{Outcome: Failed}, ErrNoStartNode
	}

	start := starts[m.pick(len(starts))]
	turn := Turn{Outcome: Intro, NodeID: start.ID}
	if m.intros > 0 {
		turn.IntroIndex = m.pick(m.intros)
	}
	return turn, nil
}

// Advance applies the caller's keypad input to the page they are on
func (m *Machine) Advance(ctx context.Context, nodeID, digits string) (Turn, error) {
	log := m.logger.With().Str("node_id", nodeID).Str("digits", digits).Logger()

	if _, err := m.store.Node(ctx, nodeID); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			log.Warn().Msg("caller is on an unknown page")
			return Turn{Outcome: Restart}, nil
		}
		return Turn{Outcome: Failed}, fmt.Errorf("load node %s: %w", nodeID, err)
	}

	edges, err := graph.ActionEdges(ctx, m.store, nodeID)
	if err != nil {
		return Turn{Outcome: Failed}, fmt.Errorf("load choices of %s: %w", nodeID, err)
	}

	choice, err := strconv.Atoi(strings.TrimSpace(digits))
	if err != nil || choice < 1 || choice > len(edges) {
		log.Debug().Int("choices", len(edges)).Msg("invalid choice")
		return Turn{Outcome: InvalidChoice, NodeID: nodeID}, nil
	}

	dest := edges[choice-1].To
	if !m.audio.HasNode(dest) {
		log.Debug().Str("target", dest).Msg("page not ready")
		return Turn{Outcome: NotReady, NodeID: nodeID, Target: dest, Digits: digits}, nil
	}

	next, err := m.store.Node(ctx, dest)
	if err != nil {
		return Turn{Outcome: Failed}, fmt.Errorf("load node %s: %w", dest, err)
	}

	if err := m.prefetch(ctx, next); err != nil {
		// The page itself is playable; only the look-ahead is lost
		log.Error().Err(err).Str("target", dest).Msg("prefetch skipped")
	}

	log.Info().Str("target", dest).Msg("advanced")
	return Turn{Outcome: Advanced, NodeID: dest}, nil
}

// prefetch queues every choice out of node, each with the story so far
func (m *Machine) prefetch(ctx context.Context, node *graph.Node) error {
	edges, err := graph.ActionEdges(ctx, m.store, node.ID)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	narrative, err := graph.History(ctx, m.store, node.ID)
	if err != nil {
		return err
	}
	pages := append(narrative.Segments, node.Story)

	for _, e := range edges {
		task := prefetch.Task{
			NodeID: e.To,
			Prompt: page.NextPagePrompt(narrative.Start.Summary, pages, e.Action),
		}
		if err := m.queue.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue %s: %w", e.To, err)
		}
	}
	return nil
}
