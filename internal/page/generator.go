package page

import (
	"context"
	"errors"
	"fmt"
	"time"

	"read2me/internal/config"
	"read2me/internal/graph"
	"read2me/internal/speech"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is what a call to Generate ended up doing
type Outcome int

const (
	// Skipped means the page was already complete, or another writer claimed it.
	Skipped Outcome = iota
	// Generated means new story text, children and audio were produced.
	Generated
	// Rendered means only the audio was missing and was rendered from the stored page.
	Rendered
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Generated:
		return "generated"
	case Rendered:
		return "rendered"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AudioStore is where rendered page audio lives. Presence of a node's audio
// is the only readiness signal.
type AudioStore interface {
	HasNode(id string) bool
	WriteNode(id string, pcm []byte) error
}

// Options are the collaborators of a Generator
type Options struct {
	Store     graph.Store
	ChatModel model.BaseChatModel
	Story     *config.Story
	Renderer  speech.Renderer
	Audio     AudioStore
	Logger    zerolog.Logger
	// Pick selects transition and closing lines; nil uses math/rand.
	Pick   Picker
	Tracer trace.Tracer
}

// Generator fills a pending node with a generated page, its children and its audio
type Generator struct {
	store       graph.Store
	chain       compose.Runnable[map[string]any, *schema.Message]
	instruction string
	composer    *Composer
	renderer    speech.Renderer
	audio       AudioStore
	logger      zerolog.Logger
	tracer      trace.Tracer
}

func NewGenerator(ctx context.Context, opts Options) (*Generator, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("page generator requires a store")
	case opts.ChatModel == nil:
		return nil, errors.New("page generator requires a chat model")
	case opts.Story == nil:
		return nil, errors.New("page generator requires story content")
	case opts.Renderer == nil || opts.Audio == nil:
		return nil, errors.New("page generator requires a renderer and an audio store")
	}

	// Values are substituted verbatim, so braces in story text are safe
	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{instruction}"),
		schema.UserMessage("{prompt}"),
	)

	// Template → ChatModel; parsing happens on the message content afterwards
	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(template).
		AppendChatModel(opts.ChatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("error creating page chain: %w", err)
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("read2me/page")
	}

	return &Generator{
		store:       opts.Store,
		chain:       chain,
		instruction: opts.Story.SystemPrompt,
		composer:    NewComposer(opts.Story, opts.Pick),
		renderer:    opts.Renderer,
		audio:       opts.Audio,
		logger:      opts.Logger,
		tracer:      tracer,
	}, nil
}

// Generate runs the page protocol for nodeID. A node that already has its
// story and audio is left untouched. A node with a story but no audio is
// re-rendered from the stored page without asking the model again.
//
// Malformed model output is returned as a *ParseError and leaves the graph
// unchanged. A render failure leaves the story and children in place.
func (g *Generator) Generate(ctx context.Context, nodeID, prompt string) (outcome Outcome, err error) {
	ctx, span := g.tracer.Start(ctx, "page.Generate", trace.WithAttributes(attribute.String("node.id", nodeID)))
	defer func() {
		span.SetAttributes(attribute.String("page.outcome", outcome.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	log := g.logger.With().Str("node_id", nodeID).Logger()

	node, err := g.store.Node(ctx, nodeID)
	if err != nil {
		return Skipped, fmt.Errorf("load node %s: %w", nodeID, err)
	}

	if node.HasStory() {
		if g.audio.HasNode(nodeID) {
			log.Debug().Msg("page already complete")
			return Skipped, nil
		}
		log.Info().Msg("page audio missing, rendering stored page")
		p, err := g.storedPage(ctx, node)
		if err != nil {
			return Skipped, err
		}
		if err := g.render(ctx, nodeID, p); err != nil {
			return Skipped, err
		}
		return Rendered, nil
	}

	start := time.Now()
	msg, err := g.chain.Invoke(ctx, map[string]any{
		"instruction": g.instruction,
		"prompt":      prompt,
	})
	if err != nil {
		return Skipped, fmt.Errorf("generate page %s: %w", nodeID, err)
	}

	p, err := Parse(msg.Content)
	if err != nil {
		return Skipped, err
	}
	log.Info().
		Dur("duration", time.Since(start)).
		Int("prompts", len(p.Prompts)).
		Msg("page generated")

	won, err := g.store.ClaimStory(ctx, nodeID, p.Story)
	if err != nil {
		return Skipped, fmt.Errorf("claim story for %s: %w", nodeID, err)
	}
	if !won {
		log.Info().Msg("page claimed by another writer")
		return Skipped, nil
	}

	for _, action := range p.Prompts {
		if err := g.addChoice(ctx, nodeID, action); err != nil {
			return Skipped, err
		}
	}

	if err := g.render(ctx, nodeID, p); err != nil {
		return Skipped, err
	}
	return Generated, nil
}

// addChoice creates a pending child and links it both ways
func (g *Generator) addChoice(ctx context.Context, parentID, action string) error {
	child := graph.Node{ID: graph.NewID(), Kind: graph.KindPending}
	if err := g.store.CreateNode(ctx, child); err != nil {
		return fmt.Errorf("create child of %s: %w", parentID, err)
	}
	if err := g.store.Attach(ctx, parentID, child.ID, graph.EdgeAction, action); err != nil {
		return fmt.Errorf("attach action %q to %s: %w", action, parentID, err)
	}
	if err := g.store.Attach(ctx, child.ID, parentID, graph.EdgePrevious, ""); err != nil {
		return fmt.Errorf("attach previous edge of %s: %w", child.ID, err)
	}
	return nil
}

func (g *Generator) storedPage(ctx context.Context, node *graph.Node) (*Page, error) {
	edges, err := graph.ActionEdges(ctx, g.store, node.ID)
	if err != nil {
		return nil, fmt.Errorf("load choices of %s: %w", node.ID, err)
	}
	p := &Page{Story: node.Story, Prompts: make([]string, 0, len(edges))}
	for _, e := range edges {
		p.Prompts = append(p.Prompts, e.Action)
	}
	return p, nil
}

func (g *Generator) render(ctx context.Context, nodeID string, p *Page) error {
	script := g.composer.Script(p)

	start := time.Now()
	pcm, err := g.renderer.Render(ctx, script)
	if err != nil {
		return fmt.Errorf("render page %s: %w", nodeID, err)
	}
	if err := g.audio.WriteNode(nodeID, pcm); err != nil {
		return fmt.Errorf("save audio for %s: %w", nodeID, err)
	}
	g.logger.Info().
		Str("node_id", nodeID).
		Dur("duration", time.Since(start)).
		Int("bytes", len(pcm)).
		Msg("page audio saved")

	if err := g.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	return nil
}
