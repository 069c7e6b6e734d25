package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingsAPI answers with vectors whose first component encodes the input length.
type fakeEmbeddingsAPI struct {
	mu       sync.Mutex
	dims     int
	requests [][]string
	// failBatch fails every request with more than one input.
	failBatch error
	// failItem fails single-input requests for these texts.
	failItem map[string]error
	// shuffle returns data in reverse order to exercise index placement.
	shuffle bool
}

func (f *fakeEmbeddingsAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	req := conv.Convert()
	texts, ok := req.Input.([]string)
	if !ok {
		return openai.EmbeddingResponse{}, fmt.Errorf("unexpected input type %T", req.Input)
	}
	f.mu.Lock()
	f.requests = append(f.requests, texts)
	f.mu.Unlock()

	if len(texts) > 1 && f.failBatch != nil {
		return openai.EmbeddingResponse{}, f.failBatch
	}
	if len(texts) == 1 {
		if err, ok := f.failItem[texts[0]]; ok {
			return openai.EmbeddingResponse{}, err
		}
	}
	resp := openai.EmbeddingResponse{}
	for i, text := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(text))
		resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: vec})
	}
	if f.shuffle {
		for i, j := 0, len(resp.Data)-1; i < j; i, j = i+1, j-1 {
			resp.Data[i], resp.Data[j] = resp.Data[j], resp.Data[i]
		}
	}
	return resp, nil
}

func badRequest() error {
	return &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "input too long"}
}

func TestOpenAIEmbedder_BatchPlacesByIndex(t *testing.T) {
	api := &fakeEmbeddingsAPI{dims: 4, shuffle: true}
	e := NewOpenAIEmbedder(api, "text-embedding-3-small", 4, WithBatchSize(2))

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
	assert.Len(t, api.requests, 2)
}

func TestOpenAIEmbedder_FallbackSkipsMalformed(t *testing.T) {
	api := &fakeEmbeddingsAPI{
		dims:      4,
		failBatch: &openai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "boom"},
		failItem:  map[string]error{"bad": badRequest()},
	}
	fallbacks := 0
	e := NewOpenAIEmbedder(api, "m", 4, WithFallbackHook(func() { fallbacks++ }))

	vecs, err := e.EmbedBatch(context.Background(), []string{"ok", "bad", "fine"})
	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Len(t, partial.Failed, 1)
	assert.Contains(t, partial.Failed, 1)
	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1])
	assert.NotNil(t, vecs[2])
	assert.Equal(t, 1, fallbacks)
}

func TestOpenAIEmbedder_RetryableItemAborts(t *testing.T) {
	api := &fakeEmbeddingsAPI{
		dims:      4,
		failBatch: badRequest(),
		failItem:  map[string]error{"slow": &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}},
	}
	e := NewOpenAIEmbedder(api, "m", 4)

	vecs, err := e.EmbedBatch(context.Background(), []string{"ok", "slow"})
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.True(t, provider.IsRateLimit(err))
}

func TestOpenAIEmbedder_RefusedBatchDoesNotFallBack(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   provider.Kind
	}{
		{"auth", http.StatusUnauthorized, provider.KindAuth},
		{"rate limit", http.StatusTooManyRequests, provider.KindRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeEmbeddingsAPI{
				dims:      4,
				failBatch: &openai.APIError{HTTPStatusCode: tt.status, Message: "refused"},
			}
			fallbacks := 0
			e := NewOpenAIEmbedder(api, "m", 4, WithFallbackHook(func() { fallbacks++ }))
			_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
			require.Error(t, err)
			kind, _ := provider.KindOf(err)
			assert.Equal(t, tt.kind, kind)
			assert.Len(t, api.requests, 1)
			assert.Zero(t, fallbacks)
		})
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	api := &fakeEmbeddingsAPI{dims: 3}
	e := NewOpenAIEmbedder(api, "m", 4)

	_, err := e.Embed(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = e.EmbedBatch(context.Background(), []string{"x", "y"})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Len(t, api.requests, 2, "dimension mismatch must not fall back")
}

func TestOpenAIEmbedder_RequestDimensionsOnlyForV3(t *testing.T) {
	var got []int
	api := &recordingAPI{fn: func(req openai.EmbeddingRequest) { got = append(got, req.Dimensions) }}
	_, _ = NewOpenAIEmbedder(api, "text-embedding-3-small", 2).Embed(context.Background(), "a")
	_, _ = NewOpenAIEmbedder(api, "bge-m3", 2).Embed(context.Background(), "a")
	assert.Equal(t, []int{2, 0}, got)
}

type recordingAPI struct {
	fn func(openai.EmbeddingRequest)
}

func (r *recordingAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	req := conv.Convert()
	r.fn(req)
	return openai.EmbeddingResponse{Data: []openai.Embedding{{Index: 0, Embedding: []float32{1, 0}}}}, nil
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, CheckDimensions(NewMockEmbedder(8), 8))
	assert.ErrorIs(t, CheckDimensions(NewMockEmbedder(8), 16), ErrDimensionMismatch)
}

func TestPartialErrorMessage(t *testing.T) {
	err := &PartialError{Failed: map[int]error{3: errors.New("c"), 1: errors.New("a")}}
	assert.Equal(t, "2 item(s) failed to embed: 1: a; 3: c", err.Error())
}
