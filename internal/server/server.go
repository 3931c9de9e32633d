package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"read2me/internal/config"
	"read2me/internal/session"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// Machine is the call flow behind the webhooks
type Machine interface {
	Intro(ctx context.Context) (session.Turn, error)
	Advance(ctx context.Context, nodeID, digits string) (session.Turn, error)
}

type Options struct {
	Machine   Machine
	Server    config.ServerConfig
	Responses config.Responses
	// AuthToken enables Twilio signature validation when set.
	AuthToken string
	Logger    zerolog.Logger
}

// Server is the Twilio voice webhook surface plus the audio it points at
type Server struct {
	machine   Machine
	voice     voice
	lines     responses
	audioDir  string
	authToken string
	logger    zerolog.Logger
	http      *http.Server
}

func New(opts Options) *Server {
	timeout := opts.Server.GatherTimeout
	if timeout <= 0 {
		timeout = 10
	}
	s := &Server{
		machine: opts.Machine,
		voice: voice{
			base:          strings.TrimRight(opts.Server.PublicURL, "/"),
			flip:          opts.Server.FlipAsset,
			gatherTimeout: timeout,
		},
		lines: responses{
			invalidChoice: opts.Responses.InvalidChoice,
			pageMissing:   opts.Responses.PageMissing,
			failure:       opts.Responses.Failure,
		},
		audioDir:  opts.Server.AudioDir,
		authToken: opts.AuthToken,
		logger:    opts.Logger,
	}
	s.http = &http.Server{
		Addr:              opts.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed webhook handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	calls := http.NewServeMux()
	calls.HandleFunc("/{$}", s.handleIntro)
	calls.HandleFunc("/next", s.handleNext)

	var webhooks http.Handler = calls
	if s.authToken != "" {
		webhooks = validateSignature(s.authToken, s.voice.base, s.logger)(calls)
	}

	mux.Handle("/{$}", webhooks)
	mux.Handle("/next", webhooks)
	mux.Handle("GET /audio/", cacheFor(24*time.Hour, http.StripPrefix("/audio/", http.FileServer(http.Dir(s.audioDir)))))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return logRequests(s.logger)(mux)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Str("public_url", s.voice.base).Msg("voice webhook server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("voice webhook server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down voice webhook server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("voice webhook server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleIntro(w http.ResponseWriter, r *http.Request) {
	turn, err := s.machine.Intro(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("intro failed")
	}
	s.respond(w, turn)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("id")
	digits := r.FormValue("Digits")

	turn, err := s.machine.Advance(r.Context(), nodeID, digits)
	if err != nil {
		s.logger.Error().Err(err).Str("node_id", nodeID).Msg("turn failed")
		turn = session.Turn{Outcome: session.Failed}
	}
	s.respond(w, turn)
}

// respond always answers 200 with TwiML; failures become spoken apologies
func (s *Server) respond(w http.ResponseWriter, turn session.Turn) {
	doc, err := twiml.Voice(s.voice.elements(turn, s.lines))
	if err != nil {
		s.logger.Error().Err(err).Str("outcome", turn.Outcome.String()).Msg("failed to build TwiML")
		doc, _ = twiml.Voice(s.voice.elements(session.Turn{Outcome: session.Failed}, s.lines))
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("health check endpoint hit")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// validateSignature rejects webhook requests not signed with authToken
func validateSignature(authToken, publicURL string, logger zerolog.Logger) func(http.Handler) http.Handler {
	validator := client.NewRequestValidator(authToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			params := make(map[string]string, len(r.PostForm))
			for k, v := range r.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}

			if !validator.Validate(publicURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature")) {
				logger.Warn().Str("path", r.URL.Path).Msg("rejected request with invalid twilio signature")
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func cacheFor(d time.Duration, next http.Handler) http.Handler {
	value := fmt.Sprintf("public, max-age=%d", int(d.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", value)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}
