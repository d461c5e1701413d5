// Package inspect serves a read-only JSON view of a container over HTTP.
//
//	GET /                          container id, seal state, profile count
//	GET /profiles                  fields, highest priority first
//	GET /profiles/{name}/bindings  bindings registered under one profile
//	GET /singletons                composite owner bindings and cache state
//	GET /units                     configuration units
//	GET /metrics                   Prometheus exposition of the container collector
//
// Nothing here resolves or collapses anything.
package inspect

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/muir/reflectutils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/container"
)

// Server is the inspection endpoint for one container.
type Server struct {
	c   *container.Container
	log *zap.Logger
	mux chi.Router
}

// New builds the router. The container's logger is used for access logs.
func New(c *container.Container) *Server {
	s := &Server{c: c, log: c.Logger().Named("inspect"), mux: chi.NewRouter()}
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(middleware.RequestID)
	s.mux.Use(s.accessLog)

	s.mux.Get("/", s.summary)
	s.mux.Route("/profiles", func(r chi.Router) {
		r.Get("/", s.profiles)
		r.Get("/{name}/bindings", s.bindings)
	})
	s.mux.Get("/singletons", s.singletons)
	s.mux.Get("/units", s.units)
	if reg := c.Metrics().Registry(); reg != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("inspection endpoint listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("inspect request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ── Handlers ──────────────────────────────────────────────────────────────────

type summary struct {
	ID       string `json:"id"`
	Sealed   bool   `json:"sealed"`
	Booted   bool   `json:"booted"`
	Profiles int    `json:"profiles"`
	Units    int    `json:"units"`
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	NewResponse(w).Success(summary{
		ID:       s.c.ID().String(),
		Sealed:   s.c.Sealed(),
		Booted:   s.c.Units().Booted(),
		Profiles: len(s.c.Profiles()),
		Units:    len(s.c.Registry().UnitNames()),
	})
}

func (s *Server) profiles(w http.ResponseWriter, r *http.Request) {
	NewResponse(w).Success(s.c.Registry().DescribeProfiles())
}

func (s *Server) bindings(w http.ResponseWriter, r *http.Request) {
	res := NewResponse(w)
	f, err := s.c.Registry().Field(chi.URLParam(r, "name"))
	if err != nil {
		res.NotFound(err.Error())
		return
	}
	res.Success(s.c.Registry().Bindings(f.Profile()))
}

func (s *Server) singletons(w http.ResponseWriter, r *http.Request) {
	NewResponse(w).Success(s.c.Registry().Singletons())
}

type unitInfo struct {
	Name     string   `json:"name"`
	Loaded   bool     `json:"loaded"`
	Bindings []string `json:"bindings,omitempty"`
}

func (s *Server) units(w http.ResponseWriter, r *http.Request) {
	reg := s.c.Registry()
	names := reg.UnitNames()
	out := make([]unitInfo, 0, len(names))
	for _, name := range names {
		info := unitInfo{Name: name, Loaded: s.c.Units().Loaded(name)}
		types, err := reg.UnitBindings(name)
		if err != nil {
			NewResponse(w).ServerError(err.Error())
			return
		}
		for _, t := range types {
			info.Bindings = append(info.Bindings, reflectutils.TypeName(t))
		}
		out = append(out, info)
	}
	NewResponse(w).Success(out)
}
