// ABOUTME: Message body formatting for outgoing room messages
// ABOUTME: Renders markdown bodies to the HTML formatted_body variant

package session

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
)

// messageContent builds a text message content, rendering the markdown
// body to HTML. The plain body is always kept verbatim so clients without
// HTML support show exactly what the platform sent.
func messageContent(body string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(body), &html); err != nil {
		return content
	}
	formatted := strings.TrimSpace(html.String())
	// goldmark wraps a bare line in a paragraph; skip the formatted variant
	// when it adds nothing over the plain body.
	if formatted == "" || formatted == "<p>"+body+"</p>" {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = formatted
	return content
}
