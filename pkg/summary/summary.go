// Package summary writes a short post-call summary from a transcript using
// an OpenAI-compatible chat completions endpoint.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/haivivi/voicebridge/pkg/sink"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

const defaultPrompt = "You summarize phone calls between a caller and a voice assistant. " +
	"Reply with two or three plain sentences covering what the caller wanted and how it was resolved."

// Config configures New.
type Config struct {
	APIKey  string
	BaseURL string // optional
	Model   string
	Prompt  string // system prompt; a default is used when empty
}

// Summarizer implements sink.Summarizer.
type Summarizer struct {
	client *openai.Client
	model  string
	prompt string
}

// New creates a Summarizer.
func New(cfg Config) *Summarizer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	s := &Summarizer{client: &client, model: cfg.Model, prompt: cfg.Prompt}
	if s.model == "" {
		s.model = DefaultModel
	}
	if s.prompt == "" {
		s.prompt = defaultPrompt
	}
	return s
}

// Summarize returns the model's summary of transcript.
func (s *Summarizer) Summarize(ctx context.Context, transcript []sink.TranscriptEntry) (string, error) {
	if len(transcript) == 0 {
		return "", errors.New("summary: empty transcript")
	}
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(s.prompt),
			openai.UserMessage(Render(transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summary: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Render formats a transcript as "role: content" lines.
func Render(transcript []sink.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range transcript {
		if e.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return b.String()
}

var _ sink.Summarizer = (*Summarizer)(nil)
