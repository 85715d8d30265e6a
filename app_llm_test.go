package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPrompts loads the default prompts from a fresh directory.
func setupPrompts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	loadTemplates(dir)
	return dir
}

func TestSimulateImprovement(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "capitalized phrase at line start",
			input:    "Responsible for the billing team",
			expected: "Led the billing team",
		},
		{
			name:     "several weak words",
			input:    "I helped build a very good tool",
			expected: "I contributed to build a strong tool",
		},
		{
			name:     "words inside other words are kept",
			input:    "Candidate used Go",
			expected: "Candidate utilized Go",
		},
		{
			name:     "indentation and blank lines are kept",
			input:    "EXPERIENCE\n\n  - Worked on the API\n  - Made dashboards",
			expected: "EXPERIENCE\n\n  - Developed the API\n  - Created dashboards",
		},
		{
			name:     "no weak words",
			input:    "Designed a distributed cache",
			expected: "Designed a distributed cache",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, simulateImprovement(tc.input))
		})
	}
}

func TestLLMGenerator_ImproveMarkers(t *testing.T) {
	setupPrompts(t)

	t.Run("strips code fence", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{"```\n[TITLE: JANE DOE]\n[SECTION: SKILLS]\n```"}}
		gen := NewLLMGenerator(mock, newTokenBudget(0, "test-model"))

		improved, err := gen.ImproveMarkers(context.Background(), "Jane Doe\nSkills: Go", "USE MARKERS")
		require.NoError(t, err)
		assert.Equal(t, "[TITLE: JANE DOE]\n[SECTION: SKILLS]", improved)

		require.Len(t, mock.prompts, 1)
		assert.Contains(t, mock.prompts[0], "USE MARKERS")
		assert.Contains(t, mock.prompts[0], "Skills: Go")
		assert.False(t, mock.options[0].JSONMode)
	})

	t.Run("empty response", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{"<think>nothing to say</think>  "}}
		gen := NewLLMGenerator(mock, newTokenBudget(0, "test-model"))

		_, err := gen.ImproveMarkers(context.Background(), "text", "")
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("llm error", func(t *testing.T) {
		mock := &scriptedLLM{errs: []error{errors.New("connection refused")}}
		gen := NewLLMGenerator(mock, newTokenBudget(0, "test-model"))

		_, err := gen.ImproveMarkers(context.Background(), "text", "")
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestLLMGenerator_ImproveJSON(t *testing.T) {
	setupPrompts(t)

	t.Run("structured response", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{`Here you go:
{"header": {"name": "Jane Doe", "email": "jane@example.com"},
 "experience": [{"company": "Acme", "role": "Engineer", "bullets": ["Led migrations"]}],
 "skills": ["Go", "SQL"]}`}}
		gen := NewLLMGenerator(mock, newTokenBudget(0, "test-model"))

		data, err := gen.ImproveJSON(context.Background(), "Jane Doe", "instructions")
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", data.Header.Name)
		require.Len(t, data.Experience, 1)
		assert.Equal(t, []string{"Led migrations"}, data.Experience[0].Bullets)
		assert.Equal(t, "Go, SQL", data.Skills.String())
		assert.True(t, mock.options[0].JSONMode, "JSON mode must be requested")
	})

	t.Run("unparsable response", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{"I cannot help with that."}}
		gen := NewLLMGenerator(mock, newTokenBudget(0, "test-model"))

		_, err := gen.ImproveJSON(context.Background(), "Jane Doe", "")
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("empty object", func(t *testing.T) {
		mock := &scriptedLLM{responses: []string{`{"header": {}, "education": [], "experience": []}`}}
		gen := NewLLMGenerator(mock, newTokenBudget(0, "test-model"))

		_, err := gen.ImproveJSON(context.Background(), "Jane Doe", "")
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})
}

func TestLLMGenerator_MissingTemplate(t *testing.T) {
	templateMutex.Lock()
	saved := markersTemplate
	markersTemplate = nil
	templateMutex.Unlock()
	t.Cleanup(func() {
		templateMutex.Lock()
		markersTemplate = saved
		templateMutex.Unlock()
	})

	gen := NewLLMGenerator(&scriptedLLM{}, newTokenBudget(0, "test-model"))
	_, err := gen.ImproveMarkers(context.Background(), "text", "")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}
