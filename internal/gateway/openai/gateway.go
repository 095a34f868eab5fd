// Package openai implements the extraction gateway against the OpenAI API.
// Markdown goes in, a typed classification or extraction comes out; all
// prompt text lives here so the pipeline stages never see it.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/artatlas/venue-crawler/internal/core"
)

const classifySystemPrompt = `You are a web page classifier for an art and music venue index.
Given the markdown content of a page from a venue or artist website, classify it.

Categories:
- "event": a single upcoming event (concert, exhibition, performance) with a date
- "historical_event": a single past event, archive or retrospective page
- "multiple_events": a listing, calendar or program page describing several events
- "creator_info": an about/contact page describing the venue or organization itself
- "artists": a roster or lineup page listing people (artists, performers, curators)
- "other": anything else (shop, press, legal, navigation)

Output as JSON only, no other text:
{"classification": "one of the categories above"}`

const extractEventPrompt = `You are a structured data extractor for an art and music venue index.
Extract the single event described on this page.

Output as JSON only, no other text:
{
  "event": {
    "title": "event title",
    "start_time": "RFC3339 timestamp, e.g. 2026-03-14T20:00:00Z",
    "end_time": "RFC3339 timestamp or null if the page gives none",
    "tags": ["genre or medium tags"],
    "artists": ["performer or exhibitor names"]
  }
}
Dates without an explicit timezone are local to the venue; emit them with a Z suffix.
Never invent a title or date that is not on the page.`

const extractMultiplePrompt = `You are a structured data extractor for an art and music venue index.
Extract every distinct event on this listing page.

Output as JSON only, no other text:
{
  "events": [
    {
      "title": "event title",
      "start_time": "RFC3339 timestamp",
      "end_time": "RFC3339 timestamp or null",
      "tags": [],
      "artists": []
    }
  ]
}
Skip entries with no date. Never invent events that are not on the page.`

const extractVenuePrompt = `You are a structured data extractor for an art and music venue index.
Extract the venue or organization described on this about page.

Output as JSON only, no other text:
{
  "venue": {
    "name": "official name",
    "city": "city or empty string",
    "country": "country or empty string"
  },
  "people": [
    {"name": "person name", "website": "personal site or empty", "tags": ["role tags"]}
  ]
}
The people list may be empty. Never invent names that are not on the page.`

const extractPeoplePrompt = `You are a structured data extractor for an art and music venue index.
Extract every person (artist, performer, curator) listed on this roster page.

Output as JSON only, no other text:
{
  "people": [
    {"name": "person name", "website": "personal site or empty", "tags": ["discipline tags"]}
  ]
}
Never invent names that are not on the page.`

// Config tunes the gateway.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	// MaxMarkdownBytes truncates page content before prompting.
	MaxMarkdownBytes int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = string(openai.ChatModelGPT4oMini)
	}
	if c.EmbedModel == "" {
		c.EmbedModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if c.MaxMarkdownBytes <= 0 {
		c.MaxMarkdownBytes = 48 * 1024
	}
	return c
}

// Gateway implements core.Gateway over the OpenAI chat and embeddings APIs.
type Gateway struct {
	client *openai.Client
	cfg    Config
}

// New builds a gateway from config.
func New(cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Gateway{client: &client, cfg: cfg}
}

var validClassifications = map[core.Classification]bool{
	core.ClassEvent:           true,
	core.ClassHistoricalEvent: true,
	core.ClassMultipleEvents:  true,
	core.ClassCreatorInfo:     true,
	core.ClassArtists:         true,
	core.ClassOther:           true,
}

// Classify labels one page's markdown.
func (g *Gateway) Classify(ctx context.Context, markdown, url string) (core.Classification, error) {
	content, err := g.complete(ctx, classifySystemPrompt, g.userPrompt(markdown, url))
	if err != nil {
		return core.ClassUnknown, err
	}
	var parsed struct {
		Classification string `json:"classification"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return core.ClassUnknown, fmt.Errorf("parse classification response: %w, content: %s", err, content)
	}
	class := core.Classification(strings.ToLower(strings.TrimSpace(parsed.Classification)))
	if !validClassifications[class] {
		return core.ClassUnknown, fmt.Errorf("model returned unknown classification %q", parsed.Classification)
	}
	return class, nil
}

// Extract pulls the typed payload for a page whose classification is known.
// A payload that fails validation is returned as an error so the caller can
// record it as a parse failure.
func (g *Gateway) Extract(ctx context.Context, markdown, url string, kind core.Classification) (core.Extraction, error) {
	var prompt string
	switch kind {
	case core.ClassEvent, core.ClassHistoricalEvent:
		prompt = extractEventPrompt
	case core.ClassMultipleEvents:
		prompt = extractMultiplePrompt
	case core.ClassCreatorInfo:
		prompt = extractVenuePrompt
	case core.ClassArtists:
		prompt = extractPeoplePrompt
	default:
		return core.Extraction{}, fmt.Errorf("classification %q is not extractable", kind)
	}

	content, err := g.complete(ctx, prompt, g.userPrompt(markdown, url))
	if err != nil {
		return core.Extraction{}, err
	}

	extraction := core.Extraction{Kind: kind}
	if err := json.Unmarshal([]byte(content), &extraction); err != nil {
		return core.Extraction{}, fmt.Errorf("parse extraction response: %w, content: %s", err, content)
	}
	extraction.Kind = kind
	if err := extraction.Validate(); err != nil {
		return core.Extraction{}, fmt.Errorf("invalid extraction payload: %w", err)
	}
	return extraction, nil
}

// Embed returns one vector per input text, in input order.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := g.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(g.cfg.EmbedModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[item.Index] = vec
	}
	return out, nil
}

func (g *Gateway) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return cleanJSONResponse(resp.Choices[0].Message.Content), nil
}

func (g *Gateway) userPrompt(markdown, url string) string {
	if len(markdown) > g.cfg.MaxMarkdownBytes {
		markdown = markdown[:g.cfg.MaxMarkdownBytes]
	}
	return fmt.Sprintf("URL: %s\n\n%s", url, markdown)
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some model responses include extra prose around JSON.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
