package main

import (
	"bytes"
	"fmt"
	"maps"
	"text/template"

	"github.com/tmc/langchaingo/llms"
)

// promptSafetyMargin is added to the counted prompt tokens.
const promptSafetyMargin = 10

// tokenBudget limits how much résumé text is sent to the generator. A limit
// of zero or less disables truncation.
type tokenBudget struct {
	limit int
	model string
}

func newTokenBudget(limit int, model string) tokenBudget {
	return tokenBudget{limit: limit, model: model}
}

func (b tokenBudget) enabled() bool {
	return b.limit > 0
}

func (b tokenBudget) count(content string) int {
	return llms.CountTokens(b.model, content)
}

// availableForContent renders tmpl with empty content and returns how many
// tokens remain for the content itself, or -1 when the budget is disabled.
func (b tokenBudget) availableForContent(tmpl *template.Template, data map[string]interface{}) (int, error) {
	if !b.enabled() {
		return -1, nil
	}

	templateData := maps.Clone(data)
	if templateData == nil {
		templateData = map[string]interface{}{}
	}
	templateData["Content"] = ""

	var promptBuffer bytes.Buffer
	if err := tmpl.Execute(&promptBuffer, templateData); err != nil {
		return 0, fmt.Errorf("error executing template: %w", err)
	}

	promptTokens := b.count(promptBuffer.String()) + promptSafetyMargin
	log.Debugf("Prompt template uses %d tokens", promptTokens)

	available := b.limit - promptTokens
	if available < 0 {
		return 0, fmt.Errorf("prompt template exceeds token limit of %d", b.limit)
	}
	return available, nil
}

// truncate returns the longest rune prefix of content whose token count fits
// available. A negative available or a disabled budget returns content as is.
func (b tokenBudget) truncate(content string, available int) (string, error) {
	if available < 0 || !b.enabled() {
		return content, nil
	}
	if b.count(content) <= available {
		return content, nil
	}

	// Binary search over runes for the longest prefix within the limit
	runes := []rune(content)
	low, high := 0, len(runes)
	validCut := 0
	for low <= high {
		mid := (low + high) / 2
		if b.count(string(runes[:mid])) <= available {
			validCut = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	truncated := string(runes[:validCut])
	if b.count(truncated) > available {
		return "", fmt.Errorf("truncated content still exceeds the available token limit")
	}
	log.Debugf("Truncated content from %d to %d runes", len(runes), validCut)
	return truncated, nil
}
