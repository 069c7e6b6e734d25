// Package server provides the HTTP API for guidechat.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/guidechat/internal/chat"
	"github.com/hyperjump/guidechat/internal/config"
	"github.com/hyperjump/guidechat/internal/indexer"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/storage"
	"github.com/hyperjump/guidechat/internal/vector"
	"github.com/hyperjump/guidechat/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ChatStarter starts chat requests. *chat.Orchestrator implements it.
type ChatStarter interface {
	Start(ctx context.Context, req chat.Request) (*chat.Stream, error)
}

// Reindexer rebuilds and clears guide embeddings. *indexer.Indexer implements it.
type Reindexer interface {
	Reindex(ctx context.Context, guideID string) (int, error)
	DeleteAll(ctx context.Context, guideID string) (int64, error)
}

// Searcher answers host debug searches. *search.Retriever implements it.
type Searcher interface {
	Explain(ctx context.Context, guideID string, query *models.SearchQuery) (*models.SearchResponse, error)
}

// HistoryReader lists and deletes conversation turns. *history.Service implements it.
type HistoryReader interface {
	List(ctx context.Context, guideID, sessionID string, page, limit int) (*models.TurnPage, error)
	Session(ctx context.Context, guideID, sessionID string) ([]*models.ConversationTurn, error)
	DeleteSession(ctx context.Context, guideID, sessionID string) (int64, error)
}

// Deps are the components the API serves.
type Deps struct {
	Chat     ChatStarter
	Indexer  Reindexer
	Search   Searcher
	History  HistoryReader
	Store    storage.Storage
	Vectors  vector.Store
	Gatherer prometheus.Gatherer // nil disables /metrics
}

// Server is the HTTP server for the guidechat API.
type Server struct {
	deps   Deps
	config *config.Config
	logger *zap.Logger
	server *http.Server
	cancel context.CancelFunc
}

var _ Reindexer = (*indexer.Indexer)(nil)

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		config: cfg,
		logger: utils.OrNop(logger),
	}
	base, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Event streams are bounded by the LLM timeout, not the request timeout.
	r.Post("/api/v1/guides/{guideID}/chat", s.handleChat(chat.AudiencePublic))
	r.Post("/api/v1/host/guides/{guideID}/chat", s.handleChat(chat.AudienceHost))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
		r.Use(middleware.Compress(5))

		r.Route("/api/v1/host/guides/{guideID}", func(r chi.Router) {
			r.Post("/reindex", s.handleReindex)
			r.Delete("/embeddings", s.handleDeleteEmbeddings)
			r.Post("/search", s.handleSearch)
			r.Get("/conversations", s.handleListConversations)
			r.Get("/conversations/{sessionID}", s.handleGetSession)
			r.Delete("/conversations/{sessionID}", s.handleDeleteSession)
		})
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
		if s.deps.Gatherer != nil && s.config.Metrics.EnabledOrDefault() {
			r.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		}
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop cancels open chat streams and gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}
