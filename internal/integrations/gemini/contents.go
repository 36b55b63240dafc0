package gemini

import (
	"strings"

	"chat-history-agent/internal/domain"
)

// buildContents maps turns to role-tagged contents. The endpoint has no
// system role, so a system instruction travels as a leading user message.
func buildContents(history []domain.Turn, systemInstruction string) []content {
	out := make([]content, 0, len(history)+1)
	if s := strings.TrimSpace(systemInstruction); s != "" {
		out = append(out, content{Role: roleUser, Parts: []part{{Text: s}}})
	}
	for _, t := range history {
		out = append(out, content{Role: roleFor(t.Type), Parts: []part{{Text: t.Content}}})
	}
	return out
}

func roleFor(t domain.TurnType) string {
	if t == domain.TurnAnswer {
		return roleModel
	}
	return roleUser
}
