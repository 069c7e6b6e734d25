package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamServer(t *testing.T, chunks []string, gotReq *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotReq != nil {
			_ = json.NewDecoder(r.Body).Decode(gotReq)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIModel_StreamChat(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := streamServer(t, []string{"체크인은 ", "15시", "입니다."}, &req)
	m := NewOpenAIModel(provider.NewOpenAIClient("test-key", srv.URL+"/v1"), OpenAIModelConfig{Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 200})

	var deltas []string
	full, err := m.StreamChat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "체크인 언제예요?"},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "체크인은 15시입니다.", full)
	assert.Equal(t, []string{"체크인은 ", "15시", "입니다."}, deltas)

	assert.True(t, req.Stream)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "gpt-4o-mini", m.Name())
}

func TestOpenAIModel_StopsWhenCallbackFails(t *testing.T) {
	srv := streamServer(t, []string{"a", "b", "c"}, nil)
	m := NewOpenAIModel(provider.NewOpenAIClient("k", srv.URL+"/v1"), OpenAIModelConfig{Model: "m"})

	stop := errors.New("client gone")
	calls := 0
	full, err := m.StreamChat(context.Background(), nil, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "a", full)
}

func TestOpenAIModel_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()
	m := NewOpenAIModel(provider.NewOpenAIClient("k", srv.URL+"/v1"), OpenAIModelConfig{Model: "m"})

	_, err := m.StreamChat(context.Background(), nil, func(string) error { return nil })
	require.Error(t, err)
	assert.True(t, provider.IsRateLimit(err), "got %v", err)
}

func TestOpenAIModel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream"}}`)
	}))
	defer srv.Close()
	m := NewOpenAIModel(provider.NewOpenAIClient("k", srv.URL+"/v1"), OpenAIModelConfig{Model: "m"})

	_, err := m.StreamChat(context.Background(), nil, func(string) error { return nil })
	kind, ok := provider.KindOf(err)
	require.True(t, ok, "expected classified error, got %v", err)
	assert.Equal(t, provider.KindNetwork, kind)
}
