package ocr

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
)

// cleanTranscription turns a vision model reply into page text. Reasoning
// blocks and markdown fences are dropped, trailing blanks are trimmed from
// every line and runs of empty lines collapse to one.
func cleanTranscription(content string) string {
	content = thinkBlock.ReplaceAllString(content, "")
	content = codeFence.ReplaceAllString(content, "")

	var lines []string
	blank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		blank = false
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
