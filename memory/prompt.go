package memory

import (
	"fmt"
	"strings"
)

// BuildPrompt assembles the generation prompt.
//
// Order is fixed: instructions, relevant long-term snippets (rank order),
// recent history (write order), then "NAME:" as the continuation cue.
// The snippets section is left out when there are none.
func BuildPrompt(recentHistory []string, relevantSnippets []string, characterName, instructions string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ONLY generate plain sentences without prefix of who is speaking. DO NOT use %s: prefix.\n\n", characterName)
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\n")

	if snippets := nonBlank(relevantSnippets); len(snippets) > 0 {
		fmt.Fprintf(&b, "Below are the relevant details about %s's past and the conversation you are in.\n", characterName)
		b.WriteString(strings.Join(snippets, "\n"))
		b.WriteString("\n\n")
	}

	for _, line := range nonBlank(recentHistory) {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(characterName)
	b.WriteString(":")
	return b.String()
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
