package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultTextModel serves the request/response text and image calls.
const DefaultTextModel = "gemini-2.0-flash"

// GenerateRequest is one text/image call to the model. This path shares
// no state with the live session.
type GenerateRequest struct {
	Prompt            string
	SystemInstruction string
	Image             []byte // optional attachment
	ImageMimeType     string // required when Image is set, e.g. "image/png"
	WebGrounding      bool   // augment with web search and return citations
}

// SourceLink is a citation returned alongside a grounded response.
type SourceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// GenerateResult is the model's reply.
type GenerateResult struct {
	Text        string       `json:"text"`
	SourceLinks []SourceLink `json:"sourceLinks,omitempty"`
}

// Generator wraps the request/response Models API.
type Generator struct {
	client *genai.Client
	model  string
}

// NewGenerator creates a generator; an empty model selects the default.
func NewGenerator(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, &CredentialError{}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = DefaultTextModel
	}
	return &Generator{client: client, model: model}, nil
}

// Generate performs one request/response call.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is empty")
	}

	parts := []*genai.Part{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: req.ImageMimeType,
				Data:     req.Image,
			},
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}
	if req.WebGrounding {
		config.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		return nil, classifyConnectError(err)
	}

	result := &GenerateResult{Text: resp.Text()}
	result.SourceLinks = collectSourceLinks(resp)
	return result, nil
}

func collectSourceLinks(resp *genai.GenerateContentResponse) []SourceLink {
	var links []SourceLink
	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			links = append(links, SourceLink{
				Title: chunk.Web.Title,
				URL:   chunk.Web.URI,
			})
		}
	}
	return links
}
