package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode"

	"github.com/tmc/langchaingo/llms"

	"resume-gpt/marker"
)

// ErrGenerationFailed is returned when the generator errors or its output
// cannot be used.
var ErrGenerationFailed = errors.New("generation failed")

// Generator improves extracted résumé text. ImproveMarkers returns text in
// the marker language; ImproveJSON returns structured résumé data.
type Generator interface {
	ImproveMarkers(ctx context.Context, text, instructions string) (string, error)
	ImproveJSON(ctx context.Context, text, instructions string) (marker.ResumeData, error)
}

// LLMGenerator is a Generator backed by a language model.
type LLMGenerator struct {
	llm    llms.Model
	budget tokenBudget
}

// NewLLMGenerator creates a generator calling llm, truncating résumé text to
// the token budget.
func NewLLMGenerator(llm llms.Model, budget tokenBudget) *LLMGenerator {
	return &LLMGenerator{llm: llm, budget: budget}
}

// ImproveMarkers asks the model for marker-annotated résumé text.
func (g *LLMGenerator) ImproveMarkers(ctx context.Context, text, instructions string) (string, error) {
	prompt, err := g.prompt(markersTemplate, text, instructions)
	if err != nil {
		return "", err
	}
	log.Debugf("Markers prompt: %s", prompt)

	response, err := g.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	improved := cleanResponse(response)
	if improved == "" {
		return "", fmt.Errorf("%w: empty response from LLM", ErrGenerationFailed)
	}
	return improved, nil
}

// ImproveJSON asks the model for structured résumé data in JSON mode.
func (g *LLMGenerator) ImproveJSON(ctx context.Context, text, instructions string) (marker.ResumeData, error) {
	prompt, err := g.prompt(jsonTemplate, text, instructions)
	if err != nil {
		return marker.ResumeData{}, err
	}
	log.Debugf("JSON prompt: %s", prompt)

	response, err := g.complete(ctx, prompt, llms.WithJSONMode())
	if err != nil {
		return marker.ResumeData{}, err
	}
	data, err := parseResumeData(response)
	if err != nil {
		log.Debugf("Unparsable JSON response: %.500s", response)
		return marker.ResumeData{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return data, nil
}

// prompt renders tmpl with the instructions and the résumé text, truncated
// to what the token budget leaves for it.
func (g *LLMGenerator) prompt(tmpl *template.Template, text, instructions string) (string, error) {
	templateMutex.RLock()
	defer templateMutex.RUnlock()

	if tmpl == nil {
		return "", fmt.Errorf("%w: prompt template not loaded", ErrGenerationFailed)
	}

	data := map[string]interface{}{
		"Instructions": instructions,
	}
	available, err := g.budget.availableForContent(tmpl, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	content, err := g.budget.truncate(text, available)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	data["Content"] = content

	var promptBuffer bytes.Buffer
	if err := tmpl.Execute(&promptBuffer, data); err != nil {
		return "", fmt.Errorf("%w: error executing prompt template: %w", ErrGenerationFailed, err)
	}
	return promptBuffer.String(), nil
}

func (g *LLMGenerator) complete(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	completion, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Parts: []llms.ContentPart{
				llms.TextContent{
					Text: prompt,
				},
			},
			Role: llms.ChatMessageTypeHuman,
		},
	}, options...)
	if err != nil {
		return "", fmt.Errorf("%w: error getting response from LLM: %w", ErrGenerationFailed, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: LLM returned no choices", ErrGenerationFailed)
	}
	return completion.Choices[0].Content, nil
}

// weakPhrases are replaced in order by simulateImprovement.
var weakPhrases = []struct{ old, new string }{
	{"responsible for", "led"},
	{"worked on", "developed"},
	{"helped", "contributed to"},
	{"did", "executed"},
	{"made", "created"},
	{"used", "utilized"},
	{"good", "strong"},
	{"very", ""},
}

type phraseRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	phraseRules = buildPhraseRules()
	multiSpace  = regexp.MustCompile(` {2,}`)
)

func buildPhraseRules() []phraseRule {
	var rules []phraseRule
	for _, p := range weakPhrases {
		rules = append(rules,
			phraseRule{regexp.MustCompile(`\b` + regexp.QuoteMeta(p.old) + `\b`), p.new},
			phraseRule{regexp.MustCompile(`\b` + regexp.QuoteMeta(capitalize(p.old)) + `\b`), capitalize(p.new)},
		)
	}
	return rules
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}

// simulateImprovement is the deterministic local improver: it replaces weak
// verbs and filler words line by line and keeps blank lines and indentation.
func simulateImprovement(text string) string {
	log.Info("Running simulated improvement")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		body := line[len(indent):]
		for _, rule := range phraseRules {
			body = rule.pattern.ReplaceAllLiteralString(body, rule.replacement)
		}
		lines[i] = indent + strings.TrimSpace(multiSpace.ReplaceAllString(body, " "))
	}
	return strings.Join(lines, "\n")
}
