// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package httpserver implements an HTTP transport adapter for the pipeline
// runtime: a Source that turns inbound POSTed events into pipeline.Process
// calls, and a metrics mount point, ported in spirit from
// original_source/asab/web/service.py's WebContainer registration and
// asab/metrics/http_target.py's HTTP push model, using
// github.com/go-chi/chi/v5 the way Sergey-Bar-Alfred's gateway router does.
package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/fluxpump/fluxpump/pkg/pipeline"
)

// Config mirrors the [web] section a teacher-style container reads.
type Config struct {
	ListenAddr string // e.g. "127.0.0.1:8080"
	Path       string // path events are POSTed to, default "/events"
}

// Source is a pipeline.Source that runs an HTTP server and feeds every
// POST body it receives, decoded as JSON into map[string]any, into the
// pipeline as one event. Each request waits until the pipeline is ready
// before it is decoded ("a source blocks on Ready before producing"); the
// reply is 202 Accepted once Process returns, 400 for a body that is not
// valid JSON, and 500 if Process returns an error.
type Source struct {
	id   string
	cfg  Config
	log  *logp.Logger
	srv  *http.Server
	errs chan error
}

// New builds a Source listening on cfg.ListenAddr, posting decoded JSON
// bodies from cfg.Path into the pipeline.
func New(id string, cfg Config, log *logp.Logger) *Source {
	if cfg.Path == "" {
		cfg.Path = "/events"
	}
	if log == nil {
		log = logp.NewLogger("httpserver")
	}
	return &Source{id: id, cfg: cfg, log: log.With("source", id), errs: make(chan error, 1)}
}

func (s *Source) Name() string { return s.id }

// Main starts the HTTP server and blocks until ctx is cancelled, at which
// point it shuts the server down gracefully.
func (s *Source) Main(ctx context.Context, p *pipeline.Pipeline) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post(s.cfg.Path, func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-p.Ready():
		case <-req.Context().Done():
			return
		}

		var event map[string]any
		if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		evc := pipeline.EventContext{"received_at": time.Now()}
		if err := p.Process(req.Context(), evc, event); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: r}

	go func() {
		s.errs <- s.srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-s.errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// MetricsHandler mounts a Collector-backed /metrics endpoint, the HTTP
// scrape counterpart to the original's HTTPTarget push model.
func MetricsHandler(h http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/metrics", h.ServeHTTP)
	return r
}
