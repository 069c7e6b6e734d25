package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/guidechat/internal/chat"
	"github.com/hyperjump/guidechat/internal/cli"
	"github.com/hyperjump/guidechat/internal/config"
	"github.com/hyperjump/guidechat/internal/embedding"
	"github.com/hyperjump/guidechat/internal/errs"
	"github.com/hyperjump/guidechat/internal/history"
	"github.com/hyperjump/guidechat/internal/indexer"
	"github.com/hyperjump/guidechat/internal/llm"
	"github.com/hyperjump/guidechat/internal/metrics"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/hyperjump/guidechat/internal/search"
	"github.com/hyperjump/guidechat/internal/storage"
	"github.com/hyperjump/guidechat/internal/vector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dims = 64

type fixture struct {
	store   *storage.SQLiteStorage
	vectors *vector.MemoryStore
	model   *llm.ScriptedModel
	history *history.Service
	handler http.Handler
}

func newFixture(t *testing.T, model *llm.ScriptedModel) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "guidechat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	vectors, err := vector.NewMemoryStore(dims)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "guidechat.db")
	cfg.Vector.SnapshotPath = ""
	cfg.Embedding.Dimensions = dims

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := zap.NewNop()
	emb := embedding.NewMockEmbedder(dims)
	retriever := search.NewRetriever(emb, vectors, cfg.Retrieval.Scoring.Policy(), cfg.Retrieval.DefaultLimit, cfg.Retrieval.MaxLimit)
	hist := history.NewService(store)
	orch := chat.NewOrchestrator(store, retriever, hist, model, chat.Config{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		ContextLimit:     cfg.Chat.ContextLimit,
	}, chat.WithLogger(logger), chat.WithMetrics(m))
	idx := indexer.NewIndexer(store, emb, vectors, indexer.WithLogger(logger), indexer.WithMetrics(m))

	srv := NewServer(Deps{
		Chat:     orch,
		Indexer:  idx,
		Search:   retriever,
		History:  hist,
		Store:    store,
		Vectors:  vectors,
		Gatherer: reg,
	}, cfg, logger)
	return &fixture{store: store, vectors: vectors, model: model, history: hist, handler: srv.Handler()}
}

func (f *fixture) addGuide(t *testing.T, guide *models.Guide, blocks ...*models.Block) {
	t.Helper()
	require.NoError(t, f.store.SaveGuide(context.Background(), guide, blocks))
	rec := f.do(t, http.MethodPost, "/api/v1/host/guides/"+guide.ID+"/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func quickInfo() *models.Block {
	return &models.Block{
		ID:        "blk-quick",
		Type:      models.BlockTypeQuickInfo,
		Content:   json.RawMessage(`{"checkIn":"15:00","checkOut":"11:00","wifiName":"Ocean","wifiPassword":"sea1234"}`),
		IsVisible: true,
	}
}

func guide(id string, published bool) *models.Guide {
	return &models.Guide{ID: id, AccommodationName: "해운대 오션뷰", IsPublished: published, AIEnabled: true}
}

func readEvents(t *testing.T, body io.Reader) []cli.SSEEvent {
	t.Helper()
	var events []cli.SSEEvent
	require.NoError(t, cli.ReadSSE(body, func(ev cli.SSEEvent) error {
		events = append(events, ev)
		return nil
	}))
	return events
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestChat_streamsAnswer(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"체크인은 ", "15시입니다."}, FailAfter: -1})
	f.addGuide(t, guide("g1", true), quickInfo())

	rec := f.do(t, http.MethodPost, "/api/v1/guides/g1/chat", models.ChatRequest{Message: "체크인 시간이 언제예요?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := readEvents(t, rec.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "message", events[0].Event)
	assert.JSONEq(t, `{"chunk":"체크인은 "}`, events[0].Data)
	require.Equal(t, "done", events[2].Event)

	var done chat.DonePayload
	require.NoError(t, json.Unmarshal([]byte(events[2].Data), &done))
	assert.Contains(t, done.ReferencedBlockIDs, "blk-quick")
	assert.NotEmpty(t, done.MessageID)

	turns, err := f.history.Session(context.Background(), "g1", done.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "체크인은 15시입니다.", turns[1].Content)
}

func TestChat_validation(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"x"}, FailAfter: -1})
	f.addGuide(t, guide("g1", true), quickInfo())

	tests := []struct {
		name    string
		message string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("가", 1001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/guides/g1/chat", models.ChatRequest{Message: tt.message})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, errs.CodeValidation, decodeError(t, rec).Code)
		})
	}
	assert.Zero(t, f.model.Calls)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/guides/g1/chat", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_unpublishedGuide(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"미리보기"}, FailAfter: -1})
	f.addGuide(t, guide("draft", false), quickInfo())

	rec := f.do(t, http.MethodPost, "/api/v1/guides/draft/chat", models.ChatRequest{Message: "와이파이?"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errs.CodeNotFound, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/host/guides/draft/chat", models.ChatRequest{Message: "와이파이?"})
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body)
	assert.Equal(t, "done", events[len(events)-1].Event)
}

func TestChat_aiDisabledIsInStream(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"x"}, FailAfter: -1})
	g := guide("g1", true)
	g.AIEnabled = false
	f.addGuide(t, g, quickInfo())

	rec := f.do(t, http.MethodPost, "/api/v1/guides/g1/chat", models.ChatRequest{Message: "안녕하세요"})
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Event)
	assert.Contains(t, events[0].Data, string(errs.CodeAIDisabled))
}

func TestChat_rateLimitMidStream(t *testing.T) {
	rateLimited := &provider.Error{Provider: "openai", Op: "chat", Kind: provider.KindRateLimit, Err: errors.New("429")}
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"체크인은 ", "15시", "입니다"}, FailAfter: 2, Err: rateLimited})
	f.addGuide(t, guide("g1", true), quickInfo())

	rec := f.do(t, http.MethodPost, "/api/v1/guides/g1/chat", models.ChatRequest{Message: "체크인?", SessionID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "message", events[0].Event)
	assert.Equal(t, "message", events[1].Event)
	assert.Equal(t, "error", events[2].Event)

	var payload chat.ErrorPayload
	require.NoError(t, json.Unmarshal([]byte(events[2].Data), &payload))
	assert.Equal(t, errs.CodeRateLimit, payload.Code)

	turns, err := f.history.Session(context.Background(), "g1", "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1, "only the user turn is stored")
	assert.Equal(t, models.RoleUser, turns[0].Role)
}

func TestSSEWriter_keepalive(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)
	sw.open()

	events := make(chan chat.Event)
	go func() {
		time.Sleep(60 * time.Millisecond)
		events <- chat.Event{Type: chat.EventDone, Done: &chat.DonePayload{MessageID: "m"}}
		close(events)
	}()
	terminal, err := sw.pump(context.Background(), events, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.Contains(t, rec.Body.String(), ": ping\n\n")
	assert.Contains(t, rec.Body.String(), "event: done\ndata: {\"messageId\":\"m\"")
}

func TestSSEWriter_closedWithoutTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)
	events := make(chan chat.Event, 1)
	events <- chat.Event{Type: chat.EventMessage, Chunk: "a"}
	close(events)

	terminal, err := sw.pump(context.Background(), events, 0)
	require.NoError(t, err)
	assert.False(t, terminal)
}

func TestReindexAndDeleteEmbeddings(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{FailAfter: -1})
	require.NoError(t, f.store.SaveGuide(context.Background(), guide("g1", true), []*models.Block{quickInfo()}))

	rec := f.do(t, http.MethodPost, "/api/v1/host/guides/g1/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"embeddingsCount":1}`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/v1/host/guides/g1/embeddings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deletedCount":1}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/host/guides/missing/reindex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReindex_emptyGuideStillChats(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"정보가 없습니다."}, FailAfter: -1})
	require.NoError(t, f.store.SaveGuide(context.Background(), guide("empty", true), nil))

	rec := f.do(t, http.MethodPost, "/api/v1/host/guides/empty/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"embeddingsCount":0}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/guides/empty/chat", models.ChatRequest{Message: "주차 돼요?"})
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body)
	assert.Equal(t, "done", events[len(events)-1].Event)
	assert.Equal(t, 1, f.model.Calls)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{FailAfter: -1})
	f.addGuide(t, guide("g1", true), quickInfo())

	rec := f.do(t, http.MethodPost, "/api/v1/host/guides/g1/search", models.SearchQuery{Query: "와이파이 비밀번호"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "와이파이 비밀번호", resp.Query)
	assert.Contains(t, resp.Keywords, "와이파이")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "blk-quick", resp.Results[0].BlockID)

	rec = f.do(t, http.MethodPost, "/api/v1/host/guides/g1/search", models.SearchQuery{Query: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/host/guides/nope/search", models.SearchQuery{Query: "주차"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversations(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{FailAfter: -1})
	ctx := context.Background()
	for _, sid := range []string{"s1", "s1", "s2"} {
		_, err := f.history.Append(ctx, "g1", sid, models.RoleUser, "질문 "+sid, models.TurnMetadata{})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/host/guides/g1/conversations?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.TurnPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 2)
	assert.EqualValues(t, 3, page.Meta.Total)
	assert.True(t, page.Meta.HasNext)

	rec = f.do(t, http.MethodGet, "/api/v1/host/guides/g1/conversations?sessionId=s2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.EqualValues(t, 1, page.Meta.Total)

	rec = f.do(t, http.MethodGet, "/api/v1/host/guides/g1/conversations/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session models.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "s1", session.SessionID)
	assert.Len(t, session.Messages, 2)

	rec = f.do(t, http.MethodDelete, "/api/v1/host/guides/g1/conversations/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deletedCount":2}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/host/guides/g1/conversations/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/host/guides/g1/conversations/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusHealthAndMetrics(t *testing.T) {
	f := newFixture(t, &llm.ScriptedModel{Chunks: []string{"네"}, FailAfter: -1})
	f.addGuide(t, guide("g1", true), quickInfo())
	rec := f.do(t, http.MethodPost, "/api/v1/guides/g1/chat", models.ChatRequest{Message: "체크아웃은요?"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.EqualValues(t, 1, status.Guides)
	assert.EqualValues(t, 2, status.Turns)
	assert.Equal(t, 1, status.Embeddings)
	assert.Greater(t, status.DiskUsageBytes, int64(0))
	assert.Equal(t, "memory", status.Config["vector_type"])

	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `guidechat_chat_requests_total{audience="public",code="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `guidechat_reindex_total{result="ok"} 1`)
}
