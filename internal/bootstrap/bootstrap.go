package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"read2me/internal/config"
	"read2me/internal/graph"
	"read2me/internal/page"
	"read2me/internal/prefetch"
	"read2me/internal/session"
	"read2me/internal/speech"

	"github.com/rs/zerolog"
)

// Generator runs the page protocol synchronously
type Generator interface {
	Generate(ctx context.Context, nodeID, prompt string) (page.Outcome, error)
}

// Audio is the artifact library bootstrap reads and fills
type Audio interface {
	HasNode(id string) bool
	HasIntro(n int) bool
	WriteIntro(n int, pcm []byte) error
}

type Deps struct {
	Store     graph.Store
	Generator Generator
	Queue     session.Enqueuer
	Audio     Audio
	// IntroRenderer voices the introduction scripts.
	IntroRenderer speech.Renderer
	Story         *config.Story
	Logger        zerolog.Logger
	// Pick returns a random index in [0, n); nil uses math/rand.
	Pick func(n int) int
}

// Result describes the story the service starts with
type Result struct {
	Start          *graph.Node
	IntrosRendered int
	Enqueued       int
}

// Run prepares the service before it accepts calls: introduction audio,
// a playable start page, and prefetch of that page's choices.
func Run(ctx context.Context, d Deps) (*Result, error) {
	if d.Store == nil || d.Generator == nil || d.Queue == nil || d.Audio == nil || d.Story == nil {
		return nil, errors.New("bootstrap: missing dependency")
	}
	pick := d.Pick
	if pick == nil {
		pick = rand.IntN
	}
	log := d.Logger

	res := &Result{}

	rendered, err := renderIntros(ctx, d)
	if err != nil {
		return nil, err
	}
	res.IntrosRendered = rendered

	starts, err := d.Store.Nodes(ctx, graph.KindStart)
	if err != nil {
		return nil, fmt.Errorf("list start nodes: %w", err)
	}
	if len(starts) == 0 {
		start, err := createStart(ctx, d)
		if err != nil {
			return nil, err
		}
		starts = []*graph.Node{start}
	}

	seed := starts[pick(len(starts))]
	log = log.With().Str("node_id", seed.ID).Logger()
	if !d.Audio.HasNode(seed.ID) {
		log.Info().Msg("start page audio missing, generating")
		if _, err := d.Generator.Generate(ctx, seed.ID, page.FirstPagePrompt(seed.Summary)); err != nil {
			return nil, fmt.Errorf("generate start page %s: %w", seed.ID, err)
		}
	}

	seed, err = d.Store.Node(ctx, seed.ID)
	if err != nil {
		return nil, fmt.Errorf("reload start page: %w", err)
	}
	if !seed.HasStory() || !d.Audio.HasNode(seed.ID) {
		return nil, fmt.Errorf("start page %s is not playable", seed.ID)
	}
	res.Start = seed

	edges, err := graph.ActionEdges(ctx, d.Store, seed.ID)
	if err != nil {
		return nil, fmt.Errorf("load choices of start page: %w", err)
	}
	for _, e := range edges {
		task := prefetch.Task{
			NodeID: e.To,
			Prompt: page.NextPagePrompt(seed.Summary, []string{seed.Story}, e.Action),
		}
		if err := d.Queue.Enqueue(ctx, task); err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", e.To, err)
		}
		res.Enqueued++
	}

	log.Info().
		Int("choices", len(edges)).
		Int("intros_rendered", res.IntrosRendered).
		Msg("bootstrap complete")
	return res, nil
}

func renderIntros(ctx context.Context, d Deps) (int, error) {
	rendered := 0
	for i, script := range d.Story.Intros {
		if d.Audio.HasIntro(i) {
			continue
		}
		if d.IntroRenderer == nil {
			return rendered, fmt.Errorf("intro %d audio missing and no renderer configured", i)
		}

		start := time.Now()
		pcm, err := d.IntroRenderer.Render(ctx, script)
		if err != nil {
			return rendered, fmt.Errorf("render intro %d: %w", i, err)
		}
		if err := d.Audio.WriteIntro(i, pcm); err != nil {
			return rendered, fmt.Errorf("save intro %d: %w", i, err)
		}
		rendered++
		d.Logger.Info().Int("intro", i).Dur("duration", time.Since(start)).Msg("intro audio rendered")
	}
	return rendered, nil
}

// createStart seeds the graph with a start node for the configured premise
// and writes its first page
func createStart(ctx context.Context, d Deps) (*graph.Node, error) {
	start := graph.Node{ID: graph.NewID(), Kind: graph.KindStart, Summary: d.Story.Premise}
	if err := d.Store.CreateNode(ctx, start); err != nil {
		return nil, fmt.Errorf("create start node: %w", err)
	}
	d.Logger.Info().Str("node_id", start.ID).Msg("no start node found, writing a new story")

	if _, err := d.Generator.Generate(ctx, start.ID, page.FirstPagePrompt(d.Story.Premise)); err != nil {
		return nil, fmt.Errorf("generate first page: %w", err)
	}
	if err := d.Store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush store: %w", err)
	}
	return d.Store.Node(ctx, start.ID)
}
