// Package chat drives one guest question through retrieval, generation and persistence,
// publishing the answer as a stream of events.
//
// A request moves Validating → Retrieving → HistoryLoading → Generating → Persisting → Done.
// Any step may end in Errored instead. Validation happens synchronously in Start so that
// transports can reject bad requests with a plain status code before opening a stream.
// Every later outcome arrives on the stream, which carries exactly one terminal event
// (done or error) unless the caller's context ends first.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/guidechat/internal/errs"
	"github.com/hyperjump/guidechat/internal/llm"
	"github.com/hyperjump/guidechat/internal/metrics"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/storage"
	"github.com/hyperjump/guidechat/pkg/utils"
	"go.uber.org/zap"
)

// Audience is who is asking.
type Audience string

const (
	// AudiencePublic is a guest; only published guides answer.
	AudiencePublic Audience = "public"
	// AudienceHost is the guide's host previewing an unpublished guide.
	AudienceHost Audience = "host"
)

// Request is one chat turn.
type Request struct {
	GuideID   string
	Message   string
	SessionID string
	Audience  Audience
}

// Retriever ranks guide passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, guideID, query string, limit int) ([]*models.RetrievedPassage, error)
}

// History reads and appends conversation turns.
type History interface {
	Recent(ctx context.Context, guideID, sessionID string, n int) ([]*models.ConversationTurn, error)
	Append(ctx context.Context, guideID, sessionID string, role models.Role, content string, metadata models.TurnMetadata) (*models.ConversationTurn, error)
}

// Config holds the chat limits.
type Config struct {
	MaxMessageLength int
	HistoryLimit     int
	ContextLimit     int
	SystemPrompt     string
}

// Orchestrator runs chat requests.
type Orchestrator struct {
	guides    storage.GuideStore
	retriever Retriever
	history   History
	model     llm.ChatModel
	locker    SessionLocker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger. Provider and internal error details go here, never to clients.
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLocker sets the session locker. The default is an in-process MemoryLocker.
func WithLocker(l SessionLocker) OrchestratorOption {
	return func(o *Orchestrator) { o.locker = l }
}

// NewOrchestrator creates an orchestrator. Zero config values take defaults.
func NewOrchestrator(guides storage.GuideStore, retriever Retriever, history History, model llm.ChatModel, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1000
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 5
	}
	o := &Orchestrator{
		guides:    guides,
		retriever: retriever,
		history:   history,
		model:     model,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locker == nil {
		o.locker = NewMemoryLocker()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Start validates req and, on success, returns a stream that runs the rest of the request
// in the background. Validation failures are returned as *errs.Error before any stream exists.
// Cancelling ctx stops generation; nothing further is persisted for that turn.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Stream, error) {
	guide, err := o.validate(ctx, req)
	if err != nil {
		o.metrics.ChatFinished(string(req.Audience), string(errs.From(err).Code))
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	s := newStream(sessionID)
	go o.run(ctx, s, guide, req)
	return s, nil
}

func (o *Orchestrator) validate(ctx context.Context, req Request) (*models.Guide, error) {
	if err := models.ValidateMessage(req.Message, o.cfg.MaxMessageLength); err != nil {
		return nil, errs.ErrMessageLength.Wrap(err)
	}
	guide, err := o.guides.GetGuide(ctx, req.GuideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.ErrGuideNotFound
	}
	if err != nil {
		o.logger.Error("load guide", zap.String("guide_id", req.GuideID), zap.Error(err))
		return nil, errs.ErrChat.Wrap(err)
	}
	if req.Audience != AudienceHost && !guide.IsPublished {
		return nil, errs.ErrGuideNotFound
	}
	return guide, nil
}

func (o *Orchestrator) run(ctx context.Context, s *Stream, guide *models.Guide, req Request) {
	defer close(s.events)
	defer o.metrics.StreamOpened()()
	logger := o.logger.With(
		zap.String("guide_id", guide.ID),
		zap.String("session_id", s.sessionID),
		zap.String("audience", string(req.Audience)),
	)

	done, err := o.execute(ctx, s, guide, req, logger)
	if ctx.Err() != nil {
		logger.Info("chat cancelled by client", zap.Stringer("state", s.State()), zap.Error(err))
		s.setState(StateErrored)
		o.metrics.ClientDisconnected()
		o.metrics.ChatFinished(string(req.Audience), "canceled")
		return
	}
	if err != nil {
		e := errs.From(err)
		s.setState(StateErrored)
		o.metrics.ChatFinished(string(req.Audience), string(e.Code))
		if e.Code == errs.CodeAIDisabled {
			logger.Debug("chat rejected: ai disabled")
		} else {
			logger.Error("chat failed", zap.String("code", string(e.Code)), zap.Error(err))
		}
		_ = s.send(ctx, errorEvent(e))
		return
	}

	s.setState(StateDone)
	o.metrics.ChatFinished(string(req.Audience), "ok")
	_ = s.send(ctx, Event{Type: EventDone, Done: done})
}

// execute runs every step after validation and returns the done payload or the first failure.
func (o *Orchestrator) execute(ctx context.Context, s *Stream, guide *models.Guide, req Request, logger *zap.Logger) (*DonePayload, error) {
	start := time.Now()
	if !guide.AIEnabled {
		return nil, errs.ErrAIDisabled
	}

	s.setState(StateRetrieving)
	unlock, err := o.locker.Lock(ctx, SessionKey(guide.ID, s.sessionID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	passages, err := o.retriever.Retrieve(ctx, guide.ID, req.Message, o.cfg.ContextLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	refs := make([]string, 0, len(passages))
	for _, p := range passages {
		refs = append(refs, p.BlockID)
	}
	logger.Debug("retrieved context", zap.Int("passages", len(passages)), zap.Strings("block_ids", refs))

	s.setState(StateHistoryLoading)
	turns, err := o.history.Recent(ctx, guide.ID, s.sessionID, o.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if _, err := o.history.Append(ctx, guide.ID, s.sessionID, models.RoleUser, req.Message, models.TurnMetadata{}); err != nil {
		return nil, fmt.Errorf("save user turn: %w", err)
	}

	s.setState(StateGenerating)
	msgs := BuildMessages(o.cfg.SystemPrompt, guide, passages, turns, req.Message)
	first := true
	full, err := o.model.StreamChat(ctx, msgs, func(chunk string) error {
		if first {
			o.metrics.FirstChunk(time.Since(start))
			first = false
		}
		o.metrics.ChunkStreamed()
		return s.send(ctx, Event{Type: EventMessage, Chunk: chunk})
	})
	if err != nil {
		return nil, fmt.Errorf("generate with %s: %w", o.model.Name(), err)
	}

	s.setState(StatePersisting)
	if strings.TrimSpace(full) == "" {
		return nil, errs.ErrEmptyResponse
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := o.history.Append(ctx, guide.ID, s.sessionID, models.RoleAssistant, full, models.TurnMetadata{ReferencedBlockIDs: refs})
	if err != nil {
		return nil, fmt.Errorf("save assistant turn: %w", err)
	}
	logger.Info("chat answered",
		zap.String("message_id", turn.ID),
		zap.Int("answer_chars", utils.RuneLen(full)),
		zap.Duration("elapsed", time.Since(start)))

	return &DonePayload{MessageID: turn.ID, SessionID: s.sessionID, ReferencedBlockIDs: refs}, nil
}
