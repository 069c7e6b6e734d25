package search

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/guidechat/internal/embedding"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/vector"
)

func indexContent(t *testing.T, store vector.Store, emb embedding.Embedder, guideID string, blocks map[string]string) {
	t.Helper()
	ctx := context.Background()
	var records []*models.EmbeddingRecord
	for id, content := range blocks {
		vec, err := emb.Embed(ctx, content)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, &models.EmbeddingRecord{ID: guideID + id, GuideID: guideID, BlockID: id, Content: content, Embedding: vec})
	}
	if _, err := store.ReplaceGuide(ctx, guideID, records); err != nil {
		t.Fatal(err)
	}
}

func TestRetriever_Retrieve(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(256)
	store, _ := vector.NewMemoryStore(256)
	indexContent(t, store, emb, "g1", map[string]string{
		"quick":     "[체크인, 체크아웃, 입실, 퇴실, 와이파이, 주차, 주소]\n체크인 시간: 15:00\n체크아웃 시간: 11:00",
		"amenities": "[편의시설, 어메니티, 비품, 시설]\n- 헤어드라이어 - 욕실 서랍",
	})
	indexContent(t, store, emb, "g2", map[string]string{
		"other": "체크인 시간: 16:00",
	})

	r := NewRetriever(emb, store, DefaultScoringPolicy(), 5, 20)
	passages, err := r.Retrieve(ctx, "g1", "체크인 시간이 언제예요?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) == 0 || passages[0].BlockID != "quick" {
		t.Fatalf("expected quick_info block first, got %+v", passages)
	}
	for _, p := range passages {
		if p.BlockID == "other" {
			t.Error("results leaked from another guide")
		}
	}

	limited, _ := r.Retrieve(ctx, "g1", "체크인 와이파이 헤어드라이어", 1)
	if len(limited) > 1 {
		t.Errorf("limit not applied: %d", len(limited))
	}
}

func TestRetriever_EmptyGuide(t *testing.T) {
	emb := embedding.NewMockEmbedder(8)
	store, _ := vector.NewMemoryStore(8)
	r := NewRetriever(emb, store, DefaultScoringPolicy(), 5, 0)
	passages, err := r.Retrieve(context.Background(), "none", "주차 되나요", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 0 {
		t.Errorf("expected no passages, got %d", len(passages))
	}
}

type failingEmbedder struct{ *embedding.MockEmbedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func TestRetriever_PropagatesEmbeddingError(t *testing.T) {
	store, _ := vector.NewMemoryStore(8)
	r := NewRetriever(failingEmbedder{embedding.NewMockEmbedder(8)}, store, DefaultScoringPolicy(), 5, 0)
	if _, err := r.Retrieve(context.Background(), "g", "wifi", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetriever_Explain(t *testing.T) {
	emb := embedding.NewMockEmbedder(64)
	store, _ := vector.NewMemoryStore(64)
	indexContent(t, store, emb, "g1", map[string]string{"wifi": "와이파이 이름: Ocean 와이파이 비밀번호: sea1234"})
	r := NewRetriever(emb, store, DefaultScoringPolicy(), 5, 10)

	resp, err := r.Explain(context.Background(), "g1", &models.SearchQuery{Query: "와이파이 비밀번호", Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != len(resp.Results) || resp.Total != 1 {
		t.Errorf("unexpected results: %+v", resp)
	}
	found := false
	for _, k := range resp.Keywords {
		if k == "wifi" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected synonym expansion in keywords: %v", resp.Keywords)
	}

	if _, err := r.Explain(context.Background(), "g1", &models.SearchQuery{Query: "  "}); err == nil {
		t.Error("expected validation error for blank query")
	}
}
