package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"resume-gpt/internal/constants"
)

// defaultVisionPrompt asks for a plain transcription, one output line per
// visual line.
const defaultVisionPrompt = `Transcribe all text in this résumé page image exactly as written.
Output one line of text per visual line, top to bottom, left to right.
Do not add commentary, markdown or formatting.`

// LLMProvider implements OCR using LLM vision models
type LLMProvider struct {
	provider string
	model    string
	llm      llms.Model
	prompt   string
}

func newLLMProvider(config Config) (*LLMProvider, error) {
	var model llms.Model
	var err error

	switch strings.ToLower(config.VisionLLMProvider) {
	case "openai":
		model, err = createOpenAIClient(config)
	case "ollama":
		model, err = createOllamaClient(config)
	case "mistral":
		model, err = createMistralClient(config)
	default:
		return nil, fmt.Errorf("unsupported vision LLM provider: %s", config.VisionLLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating vision LLM client: %w", err)
	}
	return newLLMProviderWithModel(config, model), nil
}

func newLLMProviderWithModel(config Config, model llms.Model) *LLMProvider {
	prompt := config.VisionLLMPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultVisionPrompt
	}
	return &LLMProvider{
		provider: strings.ToLower(config.VisionLLMProvider),
		model:    config.VisionLLMModel,
		llm:      model,
		prompt:   prompt,
	}
}

func (p *LLMProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": p.provider,
		"model":    p.model,
		"page":     pageNumber,
	})

	mtype := mimetype.Detect(imageContent).String()
	if !strings.HasPrefix(mtype, "image/") {
		return nil, fmt.Errorf("unsupported image type for vision model: %s", mtype)
	}

	var imagePart llms.ContentPart
	if p.provider == "openai" || p.provider == "mistral" {
		imagePart = llms.ImageURLPart("data:" + mtype + ";base64," + base64.StdEncoding.EncodeToString(imageContent))
	} else {
		imagePart = llms.BinaryPart(mtype, imageContent)
	}

	logger.Debug("Sending page to vision model")
	completion, err := p.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{imagePart, llms.TextPart(p.prompt)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error getting response from LLM: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("vision model returned no choices")
	}

	text := cleanTranscription(completion.Choices[0].Content)
	logger.WithField("content_length", len(text)).Debug("Vision model transcription received")
	return &OCRResult{
		Text:  text,
		Lines: textToLines(text),
		Metadata: map[string]string{
			"provider": p.provider,
			"model":    p.model,
		},
	}, nil
}

// createOpenAIClient creates a new OpenAI vision model client
func createOpenAIClient(config Config) (llms.Model, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("OpenAI API key is not set")
	}
	if apiKey == "" {
		// OpenAI-compatible local servers accept any token.
		apiKey = constants.DummyAPIKey
	}
	opts := []openai.Option{
		openai.WithModel(config.VisionLLMModel),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}

// createOllamaClient creates a new Ollama vision model client
func createOllamaClient(config Config) (llms.Model, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	return ollama.New(
		ollama.WithModel(config.VisionLLMModel),
		ollama.WithServerURL(host),
	)
}

// createMistralClient creates a new Mistral vision model client
func createMistralClient(config Config) (llms.Model, error) {
	apiKey := os.Getenv("MISTRAL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("Mistral API key is not set")
	}
	return mistral.New(
		mistral.WithModel(config.VisionLLMModel),
		mistral.WithAPIKey(apiKey),
	)
}
