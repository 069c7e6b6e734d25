package embedding

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "와이파이 비밀번호")
	b, _ := e.Embed(ctx, "와이파이 비밀번호")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text produced different vectors")
		}
	}
	if math.Abs(cosine(a, a)-1) > 1e-5 {
		t.Errorf("expected unit vector, self-similarity %f", cosine(a, a))
	}
}

func TestMockEmbedder_SharedVocabularyScoresHigher(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "체크인 시간이 언제예요?")
	related, _ := e.Embed(ctx, "체크인 시간: 15:00 체크아웃 시간: 11:00")
	unrelated, _ := e.Embed(ctx, "헤어드라이어 욕실 서랍")
	if cosine(q, related) <= cosine(q, unrelated) {
		t.Errorf("related %f should beat unrelated %f", cosine(q, related), cosine(q, unrelated))
	}
}

func TestMockEmbedder_EmptyText(t *testing.T) {
	e := NewMockEmbedder(8)
	v, err := e.Embed(context.Background(), "  ?! ")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatal("expected zero vector")
		}
	}
}

func TestMockEmbedder_Batch(t *testing.T) {
	e := NewMockEmbedder(0)
	if e.Dimensions() != 384 {
		t.Errorf("default dimensions = %d", e.Dimensions())
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a b", "c d", "e f"})
	if err != nil || len(vecs) != 3 {
		t.Fatalf("EmbedBatch: %v, %d", err, len(vecs))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.EmbedBatch(ctx, []string{"x"}); err == nil {
		t.Error("expected context error")
	}
}
