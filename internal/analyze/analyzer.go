// Package analyze categorizes and summarizes extracted text via the
// Anthropic API.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jonesrussell/gokb/internal/domain"
)

// ErrUnparseableResponse is returned when the provider's reply contains no
// parseable analysis. A degraded synthesized result is deliberately NOT
// produced: the run fails and can be retried.
var ErrUnparseableResponse = errors.New("analyzer response is not parseable")

// maxPromptTextLength caps how much extracted text goes into the prompt.
const maxPromptTextLength = 10_000

// Analyzer produces a structured analysis of file content.
type Analyzer interface {
	Analyze(ctx context.Context, text, filename string) (*domain.Analysis, error)
}

// Config holds Anthropic client configuration.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Client is an Anthropic-backed Analyzer.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClient creates an Anthropic analyzer client.
func NewClient(cfg Config) *Client {
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

// Analyze sends the text to the model and parses the structured reply.
func (c *Client) Analyze(ctx context.Context, text, filename string) (*domain.Analysis, error) {
	prompt := buildPrompt(text, filename)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	var reply strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	return ParseResponse(reply.String())
}

func buildPrompt(text, filename string) string {
	if len(text) > maxPromptTextLength {
		// Cut on a rune boundary; a split rune is invalid UTF-8.
		cut := maxPromptTextLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	return fmt.Sprintf(`Analyze the following file content and provide a structured analysis.

Filename: %s

Content:
%s

Please provide your response in this exact JSON format:
{
  "title": "A clear, descriptive title for this content",
  "summary": "A 2-3 sentence summary of what this content is about",
  "category": "One category from: Code, Documentation, Data, Image, Document, Spreadsheet, Presentation, Archive, Other",
  "tags": ["tag1", "tag2", "tag3"]
}`, filename, text)
}

// ParseResponse extracts and validates the JSON analysis object from a model
// reply. Models wrap JSON in prose or code fences; the first balanced
// top-level object is taken.
func ParseResponse(reply string) (*domain.Analysis, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrUnparseableResponse)
	}

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(reply[start:end+1]), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}

	if analysis.Title == "" || analysis.Summary == "" {
		return nil, fmt.Errorf("%w: missing title or summary", ErrUnparseableResponse)
	}

	analysis.Category = string(domain.NormalizeCategory(analysis.Category))
	if analysis.Tags == nil {
		analysis.Tags = []string{}
	}
	return &analysis, nil
}
