// Package server exposes a read-only HTTP API over the crafting graph.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/observability"
	"github.com/danmuck/craftctl/internal/similarity"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	serviceName     = "craftctl-api"
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

// Reader is the slice of the graph store the API serves from.
type Reader interface {
	Stats(ctx context.Context) (graph.Stats, error)
	Scan(ctx context.Context, q graph.Query) ([]string, error)
	Element(ctx context.Context, text string) (graph.Element, bool, error)
	RecipesByInput(ctx context.Context, text string) ([]graph.Recipe, error)
	RecipesByOutput(ctx context.Context, text string) ([]graph.Recipe, error)
	Path(ctx context.Context, target string) ([]graph.PathStep, error)
}

type Server struct {
	Addr    string
	Started time.Time

	store   Reader
	lexical *similarity.Lexical
	router  *gin.Engine
}

// New builds the router and registers every route.
func New(addr string, store Reader, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Instrument(serviceName, observability.ComponentLogger("api")))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		store:   store,
		lexical: similarity.NewLexical(),
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on s.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("server.Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen %s: %w", s.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	log.Info().Str("addr", s.Addr).Msg("server.Server stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
