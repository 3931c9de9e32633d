package prefetch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"read2me/internal/page"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrStopped is returned by Enqueue once the scheduler is shutting down
var ErrStopped = errors.New("prefetch: scheduler stopped")

// Task asks for one node to be generated from a prompt
type Task struct {
	NodeID string
	Prompt string
}

type Config struct {
	Workers   int
	QueueSize int
	// Pacing is the minimum gap between the start of two tasks, across all workers.
	Pacing time.Duration
}

// DefaultConfig returns the stock pool shape: 5 workers, 50 queued tasks, 100ms pacing
func DefaultConfig() Config {
	return Config{Workers: 5, QueueSize: 50, Pacing: 100 * time.Millisecond}
}

// Generator runs the page protocol for a single node
type Generator interface {
	Generate(ctx context.Context, nodeID, prompt string) (page.Outcome, error)
}

// Stats is a point in time view of the scheduler counters
type Stats struct {
	Queued       int
	Processed    int64
	Generated    int64
	Rendered     int64
	Skipped      int64
	Failed       int64
	Unparseable  int64
	Panics       int64
	Deduplicated int64
}

type counters struct {
	processed, generated, rendered, skipped   atomic.Int64
	failed, unparseable, panics, deduplicated atomic.Int64
}

// Scheduler generates pages ahead of callers with a bounded queue drained by
// a fixed pool of workers. Tasks for a node already in flight in this process
// share the running generation.
type Scheduler struct {
	cfg     Config
	gen     Generator
	logger  zerolog.Logger
	tracer  trace.Tracer
	queue   chan Task
	limiter *rate.Limiter
	flight  singleflight.Group

	mu      sync.Mutex
	started bool
	group   *errgroup.Group
	cancel  context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
	stats    counters
}

// New creates a scheduler. Call Start to launch the workers.
func New(cfg Config, gen Generator, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("prefetch: workers must be positive, got %d", cfg.Workers)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("prefetch: queue size must be positive, got %d", cfg.QueueSize)
	}
	if gen == nil {
		return nil, errors.New("prefetch: generator is required")
	}

	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}

	return &Scheduler{
		cfg:     cfg,
		gen:     gen,
		logger:  logger,
		tracer:  otel.Tracer("read2me/prefetch"),
		queue:   make(chan Task, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, 1),
		done:    make(chan struct{}),
	}, nil
}

// WithTracer replaces the tracer used for task spans
func (s *Scheduler) WithTracer(tracer trace.Tracer) *Scheduler {
	s.tracer = tracer
	return s
}

// Start launches the worker pool. Workers run until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped() {
		return ErrStopped
	}
	if s.started {
		return errors.New("prefetch: scheduler already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for i := range s.cfg.Workers {
		s.group.Go(func() error {
			s.work(ctx, i)
			return nil
		})
	}
	s.started = true

	s.logger.Info().
		Int("workers", s.cfg.Workers).
		Int("queue_size", s.cfg.QueueSize).
		Dur("pacing", s.cfg.Pacing).
		Msg("prefetch workers started")
	return nil
}

// Enqueue adds a task, blocking while the queue is full. It returns nil once
// the task is queued, ctx.Err() if ctx ends first, or ErrStopped.
func (s *Scheduler) Enqueue(ctx context.Context, t Task) error {
	if s.stopped() {
		return ErrStopped
	}

	select {
	case s.queue <- t:
		// select picks at random when done closed concurrently; workers drop the task
		if s.stopped() {
			return ErrStopped
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// Stop stops accepting tasks and waits for in-flight tasks to finish. If ctx
// ends first the in-flight tasks are cancelled. Queued tasks are discarded.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	group, cancel := s.group, s.cancel
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	defer cancel()

	finished := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		cancel()
		<-finished
		err = ctx.Err()
	}

	if n := len(s.queue); n > 0 {
		s.logger.Warn().Int("discarded", n).Msg("prefetch queue not drained at shutdown")
	}
	s.logger.Info().Msg("prefetch workers stopped")
	return err
}

// Len returns the number of queued tasks
func (s *Scheduler) Len() int {
	return len(s.queue)
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Queued:       len(s.queue),
		Processed:    s.stats.processed.Load(),
		Generated:    s.stats.generated.Load(),
		Rendered:     s.stats.rendered.Load(),
		Skipped:      s.stats.skipped.Load(),
		Failed:       s.stats.failed.Load(),
		Unparseable:  s.stats.unparseable.Load(),
		Panics:       s.stats.panics.Load(),
		Deduplicated: s.stats.deduplicated.Load(),
	}
}

func (s *Scheduler) work(ctx context.Context, id int) {
	log := s.logger.With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for {
		if s.stopped() || ctx.Err() != nil {
			return
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case t := <-s.queue:
			if s.stopped() {
				log.Debug().Str("node_id", t.NodeID).Msg("discarding task dequeued after stop")
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if s.stopped() {
				log.Debug().Str("node_id", t.NodeID).Msg("discarding task dequeued after stop")
				return
			}
			s.run(ctx, id, t, log)
		}
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// run executes one task. Failures, panics included, end here so the worker keeps going.
func (s *Scheduler) run(ctx context.Context, worker int, t Task, log zerolog.Logger) {
	log = log.With().Str("node_id", t.NodeID).Logger()

	ctx, span := s.tracer.Start(ctx, "prefetch.task", trace.WithAttributes(
		attribute.String("node.id", t.NodeID),
		attribute.Int("worker.id", worker),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.stats.panics.Add(1)
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("prefetch task panicked")
		}
	}()

	ran := false
	_, err, _ := s.flight.Do(t.NodeID, func() (any, error) {
		ran = true
		return s.process(ctx, t, log)
	})
	if !ran {
		s.stats.deduplicated.Add(1)
		span.SetAttributes(attribute.Bool("prefetch.deduplicated", true))
		log.Debug().Msg("joined in-flight generation")
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (s *Scheduler) process(ctx context.Context, t Task, log zerolog.Logger) (page.Outcome, error) {
	s.stats.processed.Add(1)
	start := time.Now()

	outcome, err := s.gen.Generate(ctx, t.NodeID, t.Prompt)
	if err != nil {
		var perr *page.ParseError
		if errors.As(err, &perr) {
			s.stats.unparseable.Add(1)
			log.Warn().Err(err).Str("reason", perr.Reason).Msg("dropping task with unusable model output")
		} else {
			s.stats.failed.Add(1)
			log.Error().Err(err).Dur("duration", time.Since(start)).Msg("prefetch task failed")
		}
		return outcome, err
	}

	switch outcome {
	case page.Generated:
		s.stats.generated.Add(1)
	case page.Rendered:
		s.stats.rendered.Add(1)
	default:
		s.stats.skipped.Add(1)
	}
	log.Info().
		Str("outcome", outcome.String()).
		Dur("duration", time.Since(start)).
		Msg("prefetch task finished")
	return outcome, nil
}
