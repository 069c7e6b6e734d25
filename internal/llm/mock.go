package llm

import (
	"context"
	"strings"
	"time"
)

// MockModel streams a fixed answer word by word. It needs no network and is used
// when llm.provider is "mock".
type MockModel struct {
	Answer string
	Delay  time.Duration
}

// NewMockModel returns a mock with a default Korean answer.
func NewMockModel() *MockModel {
	return &MockModel{Answer: "가이드북 내용을 바탕으로 안내해 드릴게요. 자세한 내용은 호스트에게 문의해 주세요."}
}

func (m *MockModel) Name() string { return "mock" }

func (m *MockModel) StreamChat(ctx context.Context, _ []Message, onDelta func(string) error) (string, error) {
	words := strings.SplitAfter(m.Answer, " ")
	return (&ScriptedModel{Chunks: words, Delay: m.Delay, FailAfter: -1}).StreamChat(ctx, nil, onDelta)
}

// ScriptedModel replays Chunks and optionally fails with Err once FailAfter chunks were sent.
// FailAfter < 0 never fails; FailAfter 0 fails before the first chunk.
type ScriptedModel struct {
	Chunks    []string
	Err       error
	FailAfter int
	Delay     time.Duration

	// Received holds the messages of the most recent call.
	Received []Message
	Calls    int
}

func (s *ScriptedModel) Name() string { return "scripted" }

func (s *ScriptedModel) StreamChat(ctx context.Context, msgs []Message, onDelta func(string) error) (string, error) {
	s.Calls++
	s.Received = msgs
	var full strings.Builder
	for i, chunk := range s.Chunks {
		if s.Err != nil && s.FailAfter >= 0 && i == s.FailAfter {
			return full.String(), s.Err
		}
		if s.Delay > 0 {
			select {
			case <-ctx.Done():
				return full.String(), ctx.Err()
			case <-time.After(s.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(chunk)
		if err := onDelta(chunk); err != nil {
			return full.String(), err
		}
	}
	if s.Err != nil && s.FailAfter >= len(s.Chunks) {
		return full.String(), s.Err
	}
	return full.String(), nil
}
