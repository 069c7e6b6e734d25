package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/guidechat/internal/chat"
	"github.com/hyperjump/guidechat/internal/config"
	"github.com/hyperjump/guidechat/internal/errs"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/storage"
	"github.com/hyperjump/guidechat/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (s *Server) handleChat(audience chat.Audience) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guideID := chi.URLParam(r, "guideID")
		var body models.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondError(w, errs.ErrInvalidBody)
			return
		}
		sw, err := newSSEWriter(w)
		if err != nil {
			s.logger.Error("chat stream unavailable", zap.Error(err))
			s.respondError(w, errs.ErrChat.Wrap(err))
			return
		}

		stream, err := s.deps.Chat.Start(r.Context(), chat.Request{
			GuideID:   guideID,
			Message:   body.Message,
			SessionID: body.SessionID,
			Audience:  audience,
		})
		if err != nil {
			s.respondError(w, errs.From(err))
			return
		}

		sw.open()
		terminal, err := sw.pump(r.Context(), stream.Events(), s.config.Server.KeepaliveInterval)
		if !terminal {
			s.logger.Debug("chat stream ended without terminal event",
				zap.String("guide_id", guideID),
				zap.String("session_id", stream.SessionID()),
				zap.Error(err))
		}
	}
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	guideID := chi.URLParam(r, "guideID")
	s.logger.Debug("reindex request", zap.String("guide_id", guideID))
	n, err := s.deps.Indexer.Reindex(r.Context(), guideID)
	if err != nil {
		s.logger.Error("reindex failed", zap.String("guide_id", guideID), zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	s.respondJSON(w, http.StatusOK, models.ReindexResponse{EmbeddingsCount: n})
}

func (s *Server) handleDeleteEmbeddings(w http.ResponseWriter, r *http.Request) {
	guideID := chi.URLParam(r, "guideID")
	n, err := s.deps.Indexer.DeleteAll(r.Context(), guideID)
	if err != nil {
		s.logger.Error("delete embeddings failed", zap.String("guide_id", guideID), zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	s.respondJSON(w, http.StatusOK, models.DeleteResponse{DeletedCount: n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	guideID := chi.URLParam(r, "guideID")
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, errs.ErrInvalidBody)
		return
	}
	if err := query.Validate(s.config.Retrieval.DefaultLimit, s.config.Retrieval.MaxLimit); err != nil {
		s.respondError(w, errs.New(errs.CodeValidation, http.StatusBadRequest, "검색어를 입력해 주세요."))
		return
	}
	if _, err := s.deps.Store.GetGuide(r.Context(), guideID); err != nil {
		s.respondError(w, errs.From(err))
		return
	}
	s.logger.Debug("search request", zap.String("guide_id", guideID), zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.deps.Search.Explain(r.Context(), guideID, &query)
	if err != nil {
		s.logger.Error("search failed", zap.String("guide_id", guideID), zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	guideID := chi.URLParam(r, "guideID")
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	result, err := s.deps.History.List(r.Context(), guideID, q.Get("sessionId"), page, limit)
	if err != nil {
		s.logger.Error("list conversations failed", zap.String("guide_id", guideID), zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

var errSessionNotFound = errs.New(errs.CodeNotFound, http.StatusNotFound, "대화를 찾을 수 없습니다.")

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	guideID := chi.URLParam(r, "guideID")
	sessionID := chi.URLParam(r, "sessionID")
	turns, err := s.deps.History.Session(r.Context(), guideID, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, errSessionNotFound)
		return
	}
	if err != nil {
		s.logger.Error("get session failed", zap.String("guide_id", guideID), zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	s.respondJSON(w, http.StatusOK, models.SessionResponse{SessionID: sessionID, Messages: turns})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	guideID := chi.URLParam(r, "guideID")
	sessionID := chi.URLParam(r, "sessionID")
	n, err := s.deps.History.DeleteSession(r.Context(), guideID, sessionID)
	if err != nil {
		s.logger.Error("delete session failed", zap.String("guide_id", guideID), zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	if n == 0 {
		s.respondError(w, errSessionNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, models.DeleteResponse{DeletedCount: n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := CollectStatus(r.Context(), s.deps.Store, s.deps.Vectors, s.config)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, errs.From(err))
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// CollectStatus counts guides, turns and embeddings concurrently and reports the active configuration.
func CollectStatus(ctx context.Context, store storage.Storage, vectors vector.Store, cfg *config.Config) (*models.Status, error) {
	status := &models.Status{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := store.CountGuides(gctx)
		status.Guides = n
		return err
	})
	g.Go(func() error {
		n, err := store.CountTurns(gctx)
		status.Turns = n
		return err
	})
	g.Go(func() error {
		n, err := vectors.Count(gctx, "")
		status.Embeddings = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if cfg.Storage.Driver == "sqlite" {
		paths := append(storage.SQLiteFiles(cfg.Storage.DatabasePath), cfg.Vector.SnapshotPath)
		if n, err := storage.DiskUsageBytes(paths...); err == nil {
			status.DiskUsageBytes = n
		}
	}
	policy := cfg.Retrieval.Scoring.Policy()
	status.Config = map[string]any{
		"storage_driver":       cfg.Storage.Driver,
		"vector_type":          cfg.Vector.Type,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_model":      cfg.Embedding.Model,
		"embedding_dimensions": vectors.Dimensions(),
		"llm_provider":         cfg.LLM.Provider,
		"llm_model":            cfg.LLM.Model,
		"session_lock":         cfg.Chat.SessionLock,
		"max_message_length":   cfg.Chat.MaxMessageLength,
		"history_limit":        cfg.Chat.HistoryLimit,
		"context_limit":        cfg.Chat.ContextLimit,
		"scoring":              policy,
		"database_path":        cfg.Storage.DatabasePath,
		"watch_directories":    cfg.Watch.Directories,
	}
	return status, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func (s *Server) respondError(w http.ResponseWriter, e *errs.Error) {
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, status, errorBody{Error: errorDetail{Code: e.Code, Message: e.Message}})
}
