package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// geminiModels is the part of the genai client the provider calls.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GoogleAIProvider adapts the Gemini API to the llms.Model interface
type GoogleAIProvider struct {
	models         geminiModels
	thinkingBudget *int32
	model          string
}

// NewGoogleAIProvider creates a new GoogleAIProvider instance
func NewGoogleAIProvider(ctx context.Context, model string, apiKey string, thinkingBudget *int32) (*GoogleAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLEAI_API_KEY environment variable is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create googleai client: %w", err)
	}

	return &GoogleAIProvider{
		models:         client.Models,
		thinkingBudget: thinkingBudget,
		model:          model,
	}, nil
}

// generationConfig maps langchaingo call options onto a Gemini request
// config. JSON mode asks Gemini for an application/json response.
func (p *GoogleAIProvider) generationConfig(options []llms.CallOption) *genai.GenerateContentConfig {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	var config *genai.GenerateContentConfig
	ensure := func() *genai.GenerateContentConfig {
		if config == nil {
			config = &genai.GenerateContentConfig{}
		}
		return config
	}
	if p.thinkingBudget != nil {
		ensure().ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(*p.thinkingBudget),
		}
	}
	if opts.JSONMode {
		ensure().ResponseMIMEType = "application/json"
	}
	if opts.Temperature > 0 {
		ensure().Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		ensure().MaxOutputTokens = int32(opts.MaxTokens)
	}
	return config
}

// GenerateText sends a text generation request to Gemini API
func (p *GoogleAIProvider) GenerateText(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if p.models == nil {
		return "", fmt.Errorf("googleai client not initialized")
	}

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), p.generationConfig(options))
	if err != nil {
		return "", fmt.Errorf("googleai GenerateContent API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("googleai GenerateContent API returned empty response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("googleai GenerateContent API returned a candidate with no content parts")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("googleai GenerateContent API returned a candidate with empty text")
	}
	return text.String(), nil
}

// GenerateContent implements the llms.Model interface. The text parts of all
// messages are joined into one prompt.
func (p *GoogleAIProvider) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var parts []string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if textPart, ok := part.(llms.TextContent); ok {
				parts = append(parts, textPart.Text)
			}
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no prompt provided")
	}

	result, err := p.GenerateText(ctx, strings.Join(parts, "\n\n"), options...)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: result,
			},
		},
	}, nil
}

// Call implements the llms.Model interface for compatibility with langchaingo.
func (p *GoogleAIProvider) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return p.GenerateText(ctx, prompt, options...)
}
