package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const providerName = "openai"

// EmbeddingsAPI is the part of *openai.Client the embedder uses.
type EmbeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     EmbeddingsAPI
	model      string
	dimensions int
	batchSize  int
	timeout    time.Duration
	logger     *zap.Logger
	onFallback func()
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithLogger sets the logger used for fallback and failure reports.
func WithLogger(l *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.logger = l }
}

// WithBatchSize sets how many texts go into one request.
func WithBatchSize(n int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithTimeout bounds each provider request.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.timeout = d }
}

// WithFallbackHook is called each time a batch falls back to per-item requests.
func WithFallbackHook(fn func()) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.onFallback = fn }
}

// NewOpenAIEmbedder returns an embedder for model producing vectors of the given dimensions.
func NewOpenAIEmbedder(client EmbeddingsAPI, model string, dimensions int, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
		batchSize:  64,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches. A failed batch is retried item by item;
// malformed items are skipped and reported in *PartialError, anything else aborts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	failed := make(map[int]error)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.create(ctx, texts[start:end])
		if err == nil {
			copy(out[start:end], vecs)
			continue
		}
		if !canFallback(ctx, err) {
			return nil, err
		}

		e.logger.Warn("embedding batch failed, falling back to single requests",
			zap.Int("from", start), zap.Int("to", end), zap.Error(err))
		if e.onFallback != nil {
			e.onFallback()
		}
		for i := start; i < end; i++ {
			vec, err := e.Embed(ctx, texts[i])
			if err != nil {
				if provider.IsMalformed(err) {
					failed[i] = err
					continue
				}
				return nil, err
			}
			out[i] = vec
		}
	}

	if len(failed) > 0 {
		return out, &PartialError{Failed: failed}
	}
	return out, nil
}

func canFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	// Splitting a batch that was refused for credentials or quota only multiplies the refusals.
	kind, _ := provider.KindOf(err)
	return kind != provider.KindAuth && kind != provider.KindRateLimit
}

func (e *OpenAIEmbedder) create(ctx context.Context, texts []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	// Only the text-embedding-3 family accepts a requested output size.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, provider.Classify(providerName, "embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, provider.Malformed(providerName, "embeddings",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, provider.Malformed(providerName, "embeddings",
				fmt.Errorf("unexpected embedding index %d", d.Index))
		}
		if err := checkLen(d.Embedding, e.dimensions); err != nil {
			return nil, err
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the shared client is owned by the caller.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
