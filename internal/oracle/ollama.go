package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaOracle backs the oracle with a local Ollama server.
type OllamaOracle struct {
	endpoint   string
	model      string
	embedModel string
	client     *http.Client
}

// NewOllamaOracle creates an Ollama-backed oracle.
func NewOllamaOracle(endpoint, model, embedModel string) (*OllamaOracle, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	if embedModel == "" {
		embedModel = "embeddinggemma"
	}

	// Call deadlines come from the request context; the client itself sets
	// none.
	return &OllamaOracle{
		endpoint:   endpoint,
		model:      model,
		embedModel: embedModel,
		client:     &http.Client{},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Embed generates an embedding for a single text.
func (o *OllamaOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResponse
	err := o.post(ctx, "/api/embeddings", ollamaEmbedRequest{
		Model:  o.embedModel,
		Prompt: text,
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	return result.Embedding, nil
}

// EmbedBatch embeds texts sequentially; Ollama has no native batch API.
func (o *OllamaOracle) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Generate produces text for the given prompt and supporting context.
func (o *OllamaOracle) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	full := prompt
	if contextText != "" {
		full = prompt + "\n\n" + contextText
	}

	var result ollamaGenerateResponse
	err := o.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:  o.model,
		Prompt: full,
		Stream: false,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Response == "" {
		return "", fmt.Errorf("ollama returned empty response")
	}
	return result.Response, nil
}

// Name identifies the backend.
func (o *OllamaOracle) Name() string {
	return fmt.Sprintf("ollama:%s", o.model)
}

func (o *OllamaOracle) post(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: ollama request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
