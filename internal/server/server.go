// Package server exposes the HTTP API: hybrid search, document management,
// indexing, and file actions.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/loclens/loclens/internal/config"
	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/index"
	"github.com/loclens/loclens/internal/search"
	"github.com/loclens/loclens/internal/store"
	"github.com/loclens/loclens/internal/telemetry"
	"github.com/loclens/loclens/pkg/version"
)

// Version is the API version reported by the root endpoint.
var Version = version.Short()

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	engine  *search.Engine
	indexer *index.Indexer
	lexical *store.LexicalStore
	opener  *Opener
	auto    *index.AutoIndexer
	metrics *telemetry.SearchMetrics
	router  *gin.Engine
	http    *http.Server
}

// Deps are the collaborators the server exposes over HTTP. Auto and Metrics
// are optional; without them the stats endpoint omits their sections.
type Deps struct {
	Engine  *search.Engine
	Indexer *index.Indexer
	Lexical *store.LexicalStore
	Opener  *Opener
	Auto    *index.AutoIndexer
	Metrics *telemetry.SearchMetrics
}

// New creates the server and registers all routes.
func New(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Opener == nil {
		deps.Opener = NewOpener()
	}

	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		indexer: deps.Indexer,
		lexical: deps.Lexical,
		opener:  deps.Opener,
		auto:    deps.Auto,
		metrics: deps.Metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.registerRoutes(router)
	s.router = router
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/search", s.handleSearch)
		api.GET("/search/suggest", s.handleSuggest)
		api.GET("/search/similar/:document_id", s.handleSimilar)

		api.GET("/documents", s.handleListDocuments)
		api.GET("/documents/stats", s.handleStats)
		api.GET("/documents/:document_id", s.handleGetDocument)
		api.GET("/documents/:document_id/transcript", s.handleGetTranscript)
		api.POST("/documents/index", s.handleIndex)
		api.DELETE("/documents/:document_id", s.handleDeleteDocument)

		api.POST("/actions/open", s.handleOpen)
		api.POST("/actions/reveal", s.handleReveal)
	}
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		slog.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(startedAt)))
	}
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", slog.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("api server shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}

// respondError maps a structured error to an HTTP status and JSON body.
func respondError(c *gin.Context, err error) {
	code := lenserrors.GetCode(err)

	var status int
	switch {
	case code == lenserrors.ErrCodeNotFound || code == lenserrors.ErrCodeFileNotFound:
		status = http.StatusNotFound
	case lenserrors.GetCategory(err) == lenserrors.CategoryValidation:
		status = http.StatusBadRequest
	case lenserrors.GetCategory(err) == lenserrors.CategoryUpstream:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	details := gin.H{}
	if code != "" {
		details["code"] = code
	}
	var lensErr *lenserrors.LensError
	if errors.As(err, &lensErr) && lensErr.Suggestion != "" {
		details["suggestion"] = lensErr.Suggestion
	}
	c.JSON(status, gin.H{"error": err.Error(), "details": details})
}
