package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedLLM implements llms.Model. It answers with the scripted responses
// in order and records every prompt and call option it receives.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
	options   []llms.CallOptions
	delay     time.Duration
}

func (m *scriptedLLM) next(ctx context.Context, prompt string, options []llms.CallOption) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.prompts = append(m.prompts, prompt)
	m.options = append(m.options, opts)

	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("no more scripted responses")
}

func (m *scriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.next(ctx, prompt, options)
}

func (m *scriptedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt += text.Text
			}
		}
	}
	content, err := m.next(ctx, prompt, options)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (m *scriptedLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fastRetryConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRetries:     3,
		BackoffMinWait: time.Millisecond,
		BackoffMaxWait: 5 * time.Millisecond,
	}
}

func failures(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = errors.New("mock error")
	}
	return errs
}

func TestRateLimitedLLM_Call(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{"mock response"}}
		response, err := NewRateLimitedLLM(mock, fastRetryConfig()).Call(context.Background(), "test prompt")
		require.NoError(t, err)
		assert.Equal(t, "mock response", response)
		assert.Equal(t, 1, mock.callCount())
	})

	t.Run("all retries fail", func(t *testing.T) {
		mock := &scriptedLLM{errs: failures(4)}
		response, err := NewRateLimitedLLM(mock, fastRetryConfig()).Call(context.Background(), "test prompt")
		assert.ErrorContains(t, err, "all retry attempts failed")
		assert.Empty(t, response)
		assert.Equal(t, 4, mock.callCount(), "1 initial + 3 retry calls")
	})

	t.Run("eventual success", func(t *testing.T) {
		mock := &scriptedLLM{errs: failures(2), responses: []string{"", "", "successful response after retries"}}
		response, err := NewRateLimitedLLM(mock, fastRetryConfig()).Call(context.Background(), "test prompt")
		require.NoError(t, err)
		assert.Equal(t, "successful response after retries", response)
		assert.Equal(t, 3, mock.callCount())
	})
}

func TestRateLimitedLLM_GenerateContent(t *testing.T) {
	message := llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: "test message"}},
	}

	t.Run("success passes options through", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{"mock content response"}}
		response, err := NewRateLimitedLLM(mock, fastRetryConfig()).
			GenerateContent(context.Background(), []llms.MessageContent{message}, llms.WithJSONMode())
		require.NoError(t, err)
		assert.Equal(t, "mock content response", response.Choices[0].Content)
		assert.True(t, mock.options[0].JSONMode)
		assert.Equal(t, "test message", mock.prompts[0])
	})

	t.Run("all retries fail", func(t *testing.T) {
		mock := &scriptedLLM{errs: failures(4)}
		response, err := NewRateLimitedLLM(mock, fastRetryConfig()).
			GenerateContent(context.Background(), []llms.MessageContent{message})
		assert.ErrorContains(t, err, "all retry attempts failed")
		assert.Nil(t, response)
		assert.Equal(t, 4, mock.callCount())
	})
}

func TestRateLimitedLLM_ContextCancellation(t *testing.T) {
	mock := &scriptedLLM{delay: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRateLimitedLLM(mock, fastRetryConfig()).Call(ctx, "test prompt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitedLLM_RateLimiting(t *testing.T) {
	mock := &scriptedLLM{responses: []string{"a", "b", "c"}}
	limited := NewRateLimitedLLM(mock, RateLimitConfig{RequestsPerMinute: 600}) // one every 100ms

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := limited.Call(context.Background(), "test prompt")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond,
		"rate limiting should space requests")
}

func TestRateLimitedLLM_Backoff(t *testing.T) {
	limited := NewRateLimitedLLM(&scriptedLLM{}, RateLimitConfig{
		BackoffMinWait: 100 * time.Millisecond,
		BackoffMaxWait: 300 * time.Millisecond,
	})
	first := limited.backoff(0)
	assert.GreaterOrEqual(t, first, 80*time.Millisecond)
	assert.LessOrEqual(t, first, 120*time.Millisecond)

	capped := limited.backoff(10)
	assert.LessOrEqual(t, capped, 360*time.Millisecond)
	assert.GreaterOrEqual(t, capped, 240*time.Millisecond)
}
