package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/wonny/cyclebot/internal/contracts"
)

// Generator is the part of *genai.Models the Gemini source needs
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

const geminiInstruction = `You review short-term spot acquisitions of small-cap crypto assets.
You receive one candidate as JSON: symbol, price, growthPct (24h change),
riskTier, liquidityTier and score (0-10, higher is better).
Answer with a JSON object {"recommended": boolean, "rationale": string}.
Recommend only when the setup looks likely to gain a few percent soon
without outsized downside. Keep the rationale to one sentence.`

// GeminiSource is the premium advisory source backed by a Gemini model
type GeminiSource struct {
	id     string
	model  string
	gen    Generator
	config *genai.GenerateContentConfig
}

// NewGeminiSource creates a Gemini-backed source (pass client.Models)
func NewGeminiSource(gen Generator, model string) *GeminiSource {
	return &GeminiSource{
		id:    "gemini",
		model: model,
		gen:   gen,
		config: &genai.GenerateContentConfig{
			ResponseMIMEType:  "application/json",
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: geminiInstruction}}},
		},
	}
}

func (s *GeminiSource) ID() string { return s.id }

func (s *GeminiSource) Advise(ctx context.Context, req contracts.AdvisoryRequest) (Opinion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Opinion{}, err
	}

	resp, err := s.gen.GenerateContent(ctx, s.model, genai.Text(string(body)), s.config)
	if err != nil {
		return Opinion{}, fmt.Errorf("generate %s: %w", req.Symbol, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Opinion{}, fmt.Errorf("no response from %s", s.model)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	var payload opinionPayload
	if err := json.Unmarshal([]byte(stripFence(text.String())), &payload); err != nil {
		return Opinion{}, fmt.Errorf("decode verdict: %w", err)
	}
	return payload.opinion()
}

// stripFence removes a ```json ... ``` wrapper some models add
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
