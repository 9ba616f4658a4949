// Package server exposes the recommendation service over HTTP.
package server

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/animerec/internal/config"
	"github.com/TobiSchelling/animerec/internal/pipeline"
)

//go:embed landing.md
var landingMarkdown []byte

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>animerec</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
table { border-collapse: collapse; }
td, th { border-bottom: 1px solid #ddd; padding: 0.25rem 0.75rem; text-align: left; }
code, pre { background: #f4f4f4; }
pre { padding: 0.5rem; overflow-x: auto; }
</style>
</head>
<body>
{{.}}
</body>
</html>
`))

// Service is what the HTTP layer needs from the pipeline.
type Service interface {
	Recommend(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
	Status() (*pipeline.Status, error)
	Blacklist() ([]int, error)
	AddToBlacklist(ids ...int) ([]int, error)
	RemoveFromBlacklist(ids ...int) ([]int, error)
	CleanupCache() int
}

// Server is the HTTP server for the recommendation API.
type Server struct {
	svc      Service
	validate *validator.Validate
	landing  []byte
	router   chi.Router
}

// New creates a Server. corsOrigins lists the allowed origins; empty
// disables cross-origin requests.
func New(svc Service, corsOrigins []string) (*Server, error) {
	landing, err := renderLanding(landingMarkdown)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:      svc,
		validate: validator.New(),
		landing:  landing,
	}
	s.routes(corsOrigins)
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(corsOrigins []string) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(observe)
	r.Use(recoverJSON)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/", s.handleLanding)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleIndex)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/recommendations/{username}", s.handleRecommendations)

		r.Route("/blacklist", func(r chi.Router) {
			r.Get("/", s.handleBlacklist)
			r.Post("/", s.handleBlacklistAdd)
			r.Delete("/", s.handleBlacklistRemove)
			r.Delete("/{id}", s.handleBlacklistRemoveOne)
		})
	})

	s.router = r
}

func renderLanding(src []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert(src, &body); err != nil {
		return nil, fmt.Errorf("rendering landing page: %w", err)
	}
	var page bytes.Buffer
	if err := pageTemplate.Execute(&page, template.HTML(body.String())); err != nil { //nolint: gosec
		return nil, fmt.Errorf("executing page template: %w", err)
	}
	return page.Bytes(), nil
}

// Serve listens on cfg's address until ctx is cancelled, then shuts down
// gracefully. Expired cache entries are dropped every cleanupEvery.
func Serve(ctx context.Context, cfg config.Server, svc Service, cleanupEvery time.Duration) error {
	s, err := New(svc, cfg.CORSOrigins)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if cleanupEvery > 0 {
		go janitor(ctx, svc, cleanupEvery)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://"+addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", addr, err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func janitor(ctx context.Context, svc Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.CleanupCache(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Cache cleanup")
			}
		}
	}
}
