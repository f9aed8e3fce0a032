package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/craftctl/internal/graph"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	similarLimit       = 10
	defaultRecipeLimit = 10
)

var (
	errMissingText = errors.New("no text query provided")
	errBadPaging   = errors.New("offset and limit must be integers")
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Started).String(),
			"component": serviceName,
			"version":   version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		if _, err := s.store.Stats(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":     true,
			"uptime":    time.Since(s.Started).String(),
			"component": serviceName,
			"version":   version,
		})
	})

	api := s.router.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/random", s.handleRandom)
	api.GET("/similar", s.handleSimilar)
	api.GET("/element", s.handleElement)
	api.GET("/recipes/:filter", s.handleRecipes)
	api.GET("/path", s.handlePath)
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleRandom(c *gin.Context) {
	texts, err := s.store.Scan(c.Request.Context(), graph.Query{Order: graph.OrderRandom, Limit: 1})
	if err != nil {
		internalError(c, err)
		return
	}
	if len(texts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": graph.ErrElementNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": texts[0]})
}

func (s *Server) handleSimilar(c *gin.Context) {
	text, ok := requireText(c)
	if !ok {
		return
	}
	all, err := s.store.Scan(c.Request.Context(), graph.Query{})
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.lexical.Rank(text, all, similarLimit))
}

func (s *Server) handleElement(c *gin.Context) {
	text, ok := requireText(c)
	if !ok {
		return
	}
	el, found, err := s.store.Element(c.Request.Context(), text)
	if err != nil {
		internalError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": graph.ErrElementNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, el)
}

func (s *Server) handleRecipes(c *gin.Context) {
	filter := c.Param("filter")
	if filter != "input" && filter != "output" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown recipe filter"})
		return
	}
	text, ok := requireText(c)
	if !ok {
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit", defaultRecipeLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var recipes []graph.Recipe
	if filter == "input" {
		recipes, err = s.store.RecipesByInput(c.Request.Context(), text)
	} else {
		recipes, err = s.store.RecipesByOutput(c.Request.Context(), text)
	}
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recipes": page(recipes, offset, limit),
		"count":   len(recipes),
	})
}

func (s *Server) handlePath(c *gin.Context) {
	text, ok := requireText(c)
	if !ok {
		return
	}
	steps, err := s.store.Path(c.Request.Context(), text)
	switch {
	case errors.Is(err, graph.ErrElementNotFound), errors.Is(err, graph.ErrNoPath):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		internalError(c, err)
		return
	}
	if steps == nil {
		steps = []graph.PathStep{}
	}
	c.JSON(http.StatusOK, steps)
}

func requireText(c *gin.Context) (string, bool) {
	text := graph.Normalize(c.Query("text"))
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingText.Error()})
		return "", false
	}
	return text, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errBadPaging
	}
	return v, nil
}

// page slices rows[offset:offset+limit]; a zero limit returns the rest.
func page(rows []graph.Recipe, offset, limit int) []graph.Recipe {
	if offset >= len(rows) {
		return []graph.Recipe{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func internalError(c *gin.Context, err error) {
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("server.Server request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
