// Package anyllm provides a generation service backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	svc, err := anyllm.New("anthropic", "claude-sonnet-4-5", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/generate"
)

// Ensure Service implements the generate.Service interface.
var _ generate.Service = (*Service)(nil)

// Service implements generate.Service by wrapping github.com/mozilla-ai/any-llm-go.
type Service struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
}

// New creates a Service backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq".
//
// model is the specific model to use (e.g., "gpt-4o",
// "claude-sonnet-4-5"). opts are any-llm-go configuration options; without
// an API key option the provider falls back to the matching environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(providerName, model string, opts ...anyllmlib.Option) (*Service, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Service{backend: backend, model: model, temperature: 0.8}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// Generate implements generate.Service. It sends the assembled turn context
// to the model as a single structured-output completion and parses the JSON
// reply into a [generate.Result].
func (s *Service) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: buildSystemPrompt(req)},
	}
	for _, m := range req.History {
		messages = append(messages, historyMessage(m))
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.UserInput,
	})

	t := s.temperature
	resp, err := s.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:       s.model,
		Messages:    messages,
		Temperature: &t,
	})
	if err != nil {
		return nil, fmt.Errorf("anyllm: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: generate: empty choices in response")
	}

	result, err := parseResult(resp.Choices[0].Message.ContentString())
	if err != nil {
		return nil, fmt.Errorf("anyllm: generate: %w", err)
	}
	return result, nil
}

// Summarise implements generate.Service.
func (s *Service) Summarise(ctx context.Context, priorSummary string, log []narrative.LogEntry) (string, error) {
	var b strings.Builder
	b.WriteString("Summarise the roleplay conversation below into a compact narrative recap. ")
	b.WriteString("Keep established facts, relationship developments, and unresolved threads. ")
	b.WriteString("Respond with the summary text only.\n")
	if priorSummary != "" {
		b.WriteString("\nPrevious summary:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n")
	}
	b.WriteString("\nRecent conversation:\n")
	for _, e := range log {
		fmt.Fprintf(&b, "%s: %s\n", e.SpeakerName, e.Content)
	}

	t := 0.3
	resp, err := s.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: s.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: b.String()},
		},
		Temperature: &t,
	})
	if err != nil {
		return "", fmt.Errorf("anyllm: summarise: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: summarise: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// buildSystemPrompt composes the system instruction from the per-character
// assembled contexts and the response schema the model must follow.
func buildSystemPrompt(req generate.Request) string {
	var b strings.Builder

	b.WriteString("You are the narrative engine of a multi-character roleplay. ")
	b.WriteString("Play every character listed below according to their context, then answer with a single JSON object.\n\n")

	if req.Persona != "" {
		b.WriteString("## User persona\n")
		b.WriteString(req.Persona)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "## Scene\nLocation: %s\nTime: %s\nPresent: %s\n",
		req.Scene.Location, req.Scene.TimeOfDay, strings.Join(req.Scene.Participants, ", "))
	if len(req.PreviouslyPresent) > 0 {
		fmt.Fprintf(&b, "Previously present: %s\n", strings.Join(req.PreviouslyPresent, ", "))
	}
	b.WriteString("\n")

	// A pre-assembled context document carries the character definitions in
	// its own budgeted order; fall back to the bare prompts without one.
	if req.Context != "" {
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	} else {
		for _, c := range req.Characters {
			fmt.Fprintf(&b, "## Character: %s (id: %s)\n%s\n\n", c.Name, c.ID, c.Prompt)
		}
	}

	b.WriteString(responseSchema)
	return b.String()
}

// responseSchema instructs the model on the exact JSON shape of a turn result.
const responseSchema = `## Response format
Respond with a single JSON object and nothing else:
{
  "narrator_note": "optional scene-setting prose, empty string if none",
  "replies": [
    {
      "character_id": "...",
      "character_name": "...",
      "content": "the character's spoken response",
      "emotion": "one word, e.g. joy, anger, curiosity",
      "intensity": 0.0,
      "axis_deltas": {"trust": 0, "affection": 0}
    }
  ],
  "scene": {
    "location": "new location or empty if unchanged",
    "time_of_day": "new time label or empty if unchanged",
    "present": ["character ids now in the scene"],
    "topics": ["topic keywords raised this turn"],
    "event_summary": "one-line summary of what happened"
  },
  "memories": [{"character_id": "...", "content": "a memory worth keeping"}],
  "facts": [{"character_id": "...", "content": "a fact learned about the user"}]
}
Every present character should reply unless staying silent is clearly in character.
Axis deltas are small per-turn adjustments, typically between -5 and +5.`

// historyMessage converts a transcript message into a chat message. Character
// and narrator lines become assistant turns prefixed with the speaker name so
// the model can track who said what.
func historyMessage(m narrative.Message) anyllmlib.Message {
	if m.SpeakerType == narrative.SpeakerUser {
		return anyllmlib.Message{Role: anyllmlib.RoleUser, Content: m.Content}
	}
	return anyllmlib.Message{
		Role:    anyllmlib.RoleAssistant,
		Content: fmt.Sprintf("%s: %s", m.SpeakerName, m.Content),
	}
}

// parseResult extracts the JSON turn result from the model output, tolerating
// markdown code fences and prose around the object.
func parseResult(content string) (*generate.Result, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	var result generate.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	if result.Replies == nil {
		result.Replies = []generate.Reply{}
	}
	return &result, nil
}

// extractJSON returns the first balanced top-level JSON object in s, or "".
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
