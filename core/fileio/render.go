package fileio

import (
	"strings"

	"github.com/leofalp/mosaik/core/graph"
)

// RenderConversation serializes a conversation for export. Markdown output
// gives each turn a "## User" or "## Assistant" heading; text output prefixes
// turns with "User:" or "Assistant:". Turns are separated by a blank line.
func RenderConversation(messages []graph.Message, format Format) []byte {
	var builder strings.Builder
	for index, message := range messages {
		if index > 0 {
			builder.WriteString("\n\n")
		}
		label := roleLabel(message.Role)
		if format == FormatMarkdown {
			builder.WriteString("## ")
			builder.WriteString(label)
			builder.WriteString("\n\n")
			builder.WriteString(strings.TrimSpace(message.Content))
			continue
		}
		builder.WriteString(label)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(message.Content))
	}
	if builder.Len() > 0 {
		builder.WriteString("\n")
	}
	return []byte(builder.String())
}

func roleLabel(role graph.Role) string {
	switch role {
	case graph.RoleAssistant:
		return "Assistant"
	case graph.RoleUser:
		return "User"
	default:
		return string(role)
	}
}
