package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxNewTopics = 3
	// maxPromptChars keeps post text and page HTML within the model context
	maxPromptChars = 60000
)

// Summary is the summarization result
type Summary struct {
	Summary          string `json:"summary"`
	TechnicalDensity int    `json:"technical_density"`
}

// TopicMatch is the topic tagging result after normalization
type TopicMatch struct {
	Matched     []string `json:"matched_topics"`
	Suggestions []string `json:"new_topic_suggestions"`
}

// Summarize asks for a summary and a technical density in 1..3.
func Summarize(ctx context.Context, inf Inferrer, text string) (Summary, error) {
	raw, err := inf.Infer(ctx, Request{
		Operation: "summary",
		Prompt:    fmt.Sprintf(summaryPrompt, clip(text)),
		Schema:    summarySchema,
	})
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return Summary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	s.Summary = strings.TrimSpace(s.Summary)
	if s.Summary == "" {
		return Summary{}, fmt.Errorf("summary response is empty")
	}
	if s.TechnicalDensity < 1 || s.TechnicalDensity > 3 {
		return Summary{}, fmt.Errorf("technical density %d out of range", s.TechnicalDensity)
	}
	return s, nil
}

// MatchTopics tags text against the existing topic directory. Matches not in
// the directory are dropped, suggestions are normalized to kebab-case, and a
// suggestion that names an existing topic is counted as a match.
func MatchTopics(ctx context.Context, inf Inferrer, text string, existing []string) (TopicMatch, error) {
	directory := make(map[string]bool, len(existing))
	for _, name := range existing {
		directory[name] = true
	}
	listed := append([]string(nil), existing...)
	sort.Strings(listed)

	raw, err := inf.Infer(ctx, Request{
		Operation: "topics",
		Prompt:    fmt.Sprintf(topicsPrompt, strings.Join(listed, ", "), clip(text)),
		Schema:    topicsSchema,
	})
	if err != nil {
		return TopicMatch{}, err
	}

	var decoded TopicMatch
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return TopicMatch{}, fmt.Errorf("failed to decode topics: %w", err)
	}

	var out TopicMatch
	seen := make(map[string]bool)
	for _, name := range decoded.Matched {
		n := NormalizeTopic(name)
		if directory[n] && !seen[n] {
			seen[n] = true
			out.Matched = append(out.Matched, n)
		}
	}
	for _, name := range decoded.Suggestions {
		n := NormalizeTopic(name)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if directory[n] {
			out.Matched = append(out.Matched, n)
			continue
		}
		if len(out.Suggestions) < maxNewTopics {
			out.Suggestions = append(out.Suggestions, n)
		}
	}
	return out, nil
}

var nonTopicChars = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTopic lowercases name and joins its words with single hyphens.
func NormalizeTopic(name string) string {
	n := nonTopicChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(n, "-")
}

// GenerateSchema asks for an extraction schema for a listing page body.
func GenerateSchema(ctx context.Context, inf Inferrer, pageURL, bodyHTML string) (json.RawMessage, error) {
	return inf.Infer(ctx, Request{
		Operation: "generate schema",
		Prompt:    fmt.Sprintf(generateSchemaPrompt, pageURL, clip(bodyHTML)),
		Schema:    extractionSchemaSchema,
		MaxTokens: 4096,
	})
}

// Refinement carries what the refine prompt needs
type Refinement struct {
	PageURL         string
	BodyHTML        string
	PreviousSchema  []byte
	PreviousResults string
	Feedback        string
}

// RefineSchema asks for an improved extraction schema.
func RefineSchema(ctx context.Context, inf Inferrer, r Refinement) (json.RawMessage, error) {
	feedback := strings.TrimSpace(r.Feedback)
	if feedback == "" {
		feedback = "(none)"
	}
	results := strings.TrimSpace(r.PreviousResults)
	if results == "" {
		results = "(no posts were extracted)"
	}
	return inf.Infer(ctx, Request{
		Operation: "refine schema",
		Prompt: fmt.Sprintf(refineSchemaPrompt,
			string(r.PreviousSchema), results, feedback, r.PageURL, clip(r.BodyHTML)),
		Schema:    extractionSchemaSchema,
		MaxTokens: 4096,
	})
}

func clip(s string) string {
	if len(s) <= maxPromptChars {
		return s
	}
	cut := maxPromptChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
