// ABOUTME: Markdown rendering for outbound answers
// ABOUTME: Converts answer text to the HTML formatted_body via goldmark

package bot

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
)

// renderHTML converts answer markdown to HTML for the formatted_body.
// On render failure the escaped plain text is returned instead so the
// reply still goes out.
func renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return html.EscapeString(markdown)
	}
	return strings.TrimSpace(buf.String())
}
