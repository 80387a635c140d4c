package dispatcher

import (
	"strconv"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

// RenderInteractiveText turns reply buttons into a numbered list that asks the
// reader to answer with the button's reply id. Output is deterministic.
func RenderInteractiveText(in model.Interactive) string {
	var sb strings.Builder
	if t := strings.TrimSpace(in.Title); t != "" {
		sb.WriteString(t)
		sb.WriteString("\n")
	}
	if b := strings.TrimSpace(in.Body); b != "" {
		sb.WriteString(b)
		sb.WriteString("\n")
	}
	if len(in.Buttons) == 0 {
		return strings.TrimRight(sb.String(), "\n")
	}

	sb.WriteString("\nReply with the code next to your choice:")
	for i, btn := range in.Buttons {
		sb.WriteString("\n")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(btn.Title)
		sb.WriteString(" [")
		sb.WriteString(btn.ID)
		sb.WriteString("]")
	}
	return sb.String()
}
