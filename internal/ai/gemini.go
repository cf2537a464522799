package ai

import (
	"context"
	"encoding/json"
	"errors"

	genai "google.golang.org/genai"
)

// ErrEmptyResponse means the model returned no candidates to parse.
var ErrEmptyResponse = errors.New("ai: empty model response")

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiGenerator is a thin wrapper around the official genai client. It
// focuses on the API call itself; timeout, retries and logging are applied
// via Middleware.
type GeminiGenerator struct {
	cli   *genai.Client
	model string
}

// NewGeminiGenerator constructs a generator for the given model; the API key
// is read from the environment by the genai client. An empty model selects
// the default.
func NewGeminiGenerator(ctx context.Context, model string) (*GeminiGenerator, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{cli: cli, model: model}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini:" + g.model }
func (g *GeminiGenerator) Close() error { return nil }

// Generate concatenates prompt and input, asks for application/json, and
// returns the model's JSON output.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.MarshalIndent(input, "", "  ")
	full := prompt + "\n\n[INPUT JSON]\n" + string(in)

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, Permanent(ErrEmptyResponse)
	}
	return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
}
