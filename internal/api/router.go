// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package api is the HTTP surface of the control plane: agent endpoints
// authenticated by per-host tokens and admin endpoints authenticated by the
// admin credential.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/zjgordon/labportal/internal/auth"
	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/logging"
	"github.com/zjgordon/labportal/internal/pruner"
)

// Config wires the router to its collaborators.
type Config struct {
	Dispatcher *control.Dispatcher
	Pruner     *pruner.Pruner
	Guard      *auth.Guard
	// AgentPerMinute limits requests per host on agent routes. Zero
	// disables the limit.
	AgentPerMinute int
	// RequestTimeout bounds every request. Zero disables the timeout.
	RequestTimeout time.Duration
}

// NewRouter builds the chi router serving every endpoint.
func NewRouter(cfg Config) http.Handler {
	h := &Handler{
		dispatcher: cfg.Dispatcher,
		pruner:     cfg.Pruner,
		log:        logging.With("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h.ok(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/agent", func(r chi.Router) {
			r.Use(cfg.Guard.RequireAgent(WriteError))
			if cfg.AgentPerMinute > 0 {
				r.Use(agentRateLimit(cfg.AgentPerMinute))
			}
			r.Post("/heartbeat", h.heartbeat)
			r.Get("/queue", h.queue)
			r.Post("/report", h.report)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(cfg.Guard.RequireAdmin(WriteError))

			r.Route("/hosts", func(r chi.Router) {
				r.Get("/", h.listHosts)
				r.Post("/", h.createHost)
				r.Get("/{id}", h.getHost)
				r.Delete("/{id}", h.deleteHost)
				r.Post("/{id}/token", h.rotateHostToken)
			})
			r.Route("/services", func(r chi.Router) {
				r.Get("/", h.listServices)
				r.Post("/", h.createService)
				r.Patch("/{id}", h.updateService)
				r.Delete("/{id}", h.deleteService)
			})
			r.Route("/actions", func(r chi.Router) {
				r.Get("/", h.listActions)
				r.Post("/", h.enqueue)
				r.Get("/{id}", h.getAction)
				r.Delete("/{id}", h.deleteAction)
			})
			r.Get("/diagnostics", h.diagnostics)
			r.With(cfg.Guard.RequireCronSecret(WriteError)).Post("/prune", h.prune)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, errs.New(errs.NotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, errs.New(errs.Validation, "method %s not allowed on %s", r.Method, r.URL.Path))
	})
	return r
}

// agentRateLimit limits each host to perMinute agent requests. It runs
// after RequireAgent so the principal is available as the key.
func agentRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			hostID, err := agentHost(r)
			if err != nil {
				return httprate.KeyByIP(r)
			}
			return "host:" + hostID, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":429,"code":"RATE_LIMITED","message":"too many requests"}` + "\n"))
		}),
	)
}

func requestLogger(next http.Handler) http.Handler {
	log := logging.With("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}
