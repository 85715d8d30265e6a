package render

import "strings"

const (
	boldOpen  = "<b>"
	boldClose = "</b>"
)

// span is a run of text set either in the style's weight or in bold.
type span struct {
	Text string
	Bold bool
}

// splitSpans breaks text carrying <b>..</b> markup into spans. An unclosed
// <b> runs to the end of the text; stray closing tags are dropped.
func splitSpans(text string) []span {
	var spans []span
	bold := false
	for text != "" {
		tag := boldOpen
		if bold {
			tag = boldClose
		}
		idx := strings.Index(text, tag)
		if idx < 0 {
			spans = appendSpan(spans, strings.ReplaceAll(text, boldClose, ""), bold)
			break
		}
		spans = appendSpan(spans, strings.ReplaceAll(text[:idx], boldClose, ""), bold)
		text = text[idx+len(tag):]
		bold = !bold
	}
	return spans
}

func appendSpan(spans []span, text string, bold bool) []span {
	if text == "" {
		return spans
	}
	if n := len(spans); n > 0 && spans[n-1].Bold == bold {
		spans[n-1].Text += text
		return spans
	}
	return append(spans, span{Text: text, Bold: bold})
}

// stripMarkup removes inline markup, for places that set text in one weight.
func stripMarkup(text string) string {
	return strings.NewReplacer(boldOpen, "", boldClose, "").Replace(text)
}
