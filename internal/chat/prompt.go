package chat

import (
	"strings"

	"github.com/hyperjump/guidechat/internal/llm"
	"github.com/hyperjump/guidechat/internal/models"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `당신은 숙소 게스트를 돕는 친절한 안내 도우미입니다.
제공된 가이드북 정보에 근거해서만 답하고, 정보가 없으면 모른다고 말한 뒤 호스트에게 문의하도록 안내하세요.
답변은 게스트의 질문과 같은 언어로, 짧고 명확하게 작성하세요.`

const noContext = "관련된 가이드북 정보를 찾지 못했습니다."

// BuildMessages assembles the prompt: system prompt with the host's instructions,
// the guide context, prior turns oldest first, then the question.
func BuildMessages(systemPrompt string, guide *models.Guide, passages []*models.RetrievedPassage, turns []*models.ConversationTurn, question string) []llm.Message {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	system := systemPrompt
	if guide.AIInstructions != "" {
		system += "\n\n호스트 안내 지침:\n" + guide.AIInstructions
	}

	msgs := make([]llm.Message, 0, len(turns)+3)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: system},
		llm.Message{Role: llm.RoleSystem, Content: contextMessage(guide.AccommodationName, passages)},
	)
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
}

// ContextText joins passages in ranked order, separated by blank lines.
func ContextText(passages []*models.RetrievedPassage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, p.Content)
	}
	return strings.Join(parts, "\n\n")
}

func contextMessage(accommodation string, passages []*models.RetrievedPassage) string {
	var b strings.Builder
	if accommodation != "" {
		b.WriteString("숙소 이름: " + accommodation + "\n\n")
	}
	b.WriteString("가이드북 정보:\n")
	if ctx := ContextText(passages); ctx != "" {
		b.WriteString(ctx)
	} else {
		b.WriteString(noContext)
	}
	return b.String()
}
