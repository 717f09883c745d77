package oracle

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIOracle backs the oracle with Google's Gemini API: one model for
// generation, one for embeddings.
type GenAIOracle struct {
	client     *genai.Client
	model      string
	embedModel string
}

// NewGenAIOracle creates a GenAI-backed oracle.
func NewGenAIOracle(apiKey, model, embedModel string) (*GenAIOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIOracle{
		client:     client,
		model:      model,
		embedModel: embedModel,
	}, nil
}

// Embed generates an embedding for a single text.
func (o *GenAIOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (o *GenAIOracle) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := o.client.Models.EmbedContent(ctx,
		o.embedModel,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "RETRIEVAL_QUERY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: genai embed: %v", ErrUnavailable, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Generate produces text for the given prompt and supporting context.
func (o *GenAIOracle) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	full := prompt
	if contextText != "" {
		full = prompt + "\n\n" + contextText
	}

	resp, err := o.client.Models.GenerateContent(ctx,
		o.model,
		genai.Text(full),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("%w: genai generate: %v", ErrUnavailable, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("genai returned empty response")
	}
	return text, nil
}

// Name identifies the backend.
func (o *GenAIOracle) Name() string {
	return fmt.Sprintf("genai:%s", o.model)
}
