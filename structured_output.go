package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"resume-gpt/marker"
)

var (
	reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")
	trailingComma  = regexp.MustCompile(`,(\s*[}\]])`)
)

// cleanResponse removes reasoning blocks and a surrounding markdown code
// fence from a model response.
func cleanResponse(response string) string {
	cleaned := strings.TrimSpace(reasoningBlock.ReplaceAllString(response, ""))
	if m := codeFence.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}
	return cleaned
}

// extractJSONObject returns the outermost {...} span of s.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// parseStructuredResponse decodes a JSON response into target, tolerating
// reasoning blocks, code fences, prose around the object and trailing commas.
func parseStructuredResponse(response string, target interface{}) error {
	cleaned := cleanResponse(response)
	if err := json.Unmarshal([]byte(cleaned), target); err == nil {
		return nil
	}

	object, ok := extractJSONObject(cleaned)
	if !ok {
		return errors.New("failed to parse structured response: no JSON object found")
	}
	if err := json.Unmarshal([]byte(object), target); err == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(trailingComma.ReplaceAllString(object, "$1")), target); err != nil {
		return fmt.Errorf("failed to parse structured response: %w", err)
	}
	return nil
}

// parseResumeData decodes a generator response into résumé data. A response
// without any renderable content is an error.
func parseResumeData(response string) (marker.ResumeData, error) {
	var data marker.ResumeData
	if err := parseStructuredResponse(response, &data); err != nil {
		return marker.ResumeData{}, err
	}
	if data.IsEmpty() {
		return marker.ResumeData{}, errors.New("structured response contains no résumé content")
	}
	return data, nil
}
