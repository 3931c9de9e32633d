package page

import (
	"fmt"
	"strings"
)

// FirstPagePrompt asks for the opening page of a story with the given summary
func FirstPagePrompt(summary string) string {
	return summary + "\n Respond with the first page of the story."
}

// NextPagePrompt asks for the page that follows pages once the caller picks action.
// pages holds the story text read so far, root first.
func NextPagePrompt(summary string, pages []string, action string) string {
	var b strings.Builder
	b.WriteString(summary)
	if len(pages) == 1 {
		b.WriteString("\n Here is the first page of the story: ")
	} else {
		fmt.Fprintf(&b, "\n Here is the first %d pages of the story so far: ", len(pages))
	}
	b.WriteString(strings.Join(pages, "\n"))
	fmt.Fprintf(&b, "\n Respond with the next page of the story once the user chooses the action '%s'", action)
	return b.String()
}
