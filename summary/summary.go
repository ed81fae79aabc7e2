// Package summary generates short natural-language summaries for
// finalized conversation segments via the Anthropic API.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/lucidmem/recall/core"
)

const systemPrompt = `Summarize the following chat conversation in one or two sentences. Capture decisions, questions, and topics so the summary is useful for later retrieval. Respond with the summary only.`

// Config configures the summarizer.
type Config struct {
	// Model is the Anthropic model ID. Default: claude-3-5-haiku-latest.
	Model string

	// MaxTokens bounds the summary length. Default: 256.
	MaxTokens int64

	// MaxMessages caps the transcript handed to the model; longer
	// segments send only the most recent messages. Default: 40.
	MaxMessages int
}

// Summarizer turns a segment's messages into a retrieval-friendly
// summary.
type Summarizer struct {
	client *anthropic.Client
	cfg    Config
}

// New creates a summarizer.
func New(client *anthropic.Client, cfg Config) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 40
	}
	return &Summarizer{client: client, cfg: cfg}
}

// Summarize produces a one-to-two-sentence summary of the messages.
func (s *Summarizer) Summarize(ctx context.Context, messages []*core.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	transcript := buildTranscript(messages, s.cfg.MaxMessages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("summarize segment: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return strings.TrimSpace(text), nil
}

// buildTranscript renders messages as "author: content" lines, keeping
// only the newest max when the segment is longer.
func buildTranscript(messages []*core.Message, max int) string {
	if len(messages) > max {
		messages = messages[len(messages)-max:]
	}

	var b strings.Builder
	for _, m := range messages {
		content := m.CleanContent
		if content == "" {
			content = core.CollapseWhitespace(m.Content)
		}
		fmt.Fprintf(&b, "%s: %s\n", m.AuthorID, content)
	}
	return b.String()
}
