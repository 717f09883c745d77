// Package oracle defines the similarity oracle boundary: text embedding and
// prompt-driven text generation. Every call is fallible and context-bound;
// callers must treat an unreachable oracle as an explicit failure, never as a
// silent fallback.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"controltower/internal/config"
	"controltower/internal/logging"
)

// ErrUnavailable wraps transport failures so callers can distinguish "oracle
// down" from "oracle answered badly".
var ErrUnavailable = errors.New("similarity oracle unavailable")

// Oracle embeds text into fixed-length vectors and generates text from
// prompts. Both operations may block and must honor ctx cancellation.
type Oracle interface {
	// Embed returns a fixed-length vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple texts. Implementations without native batch
	// support call Embed sequentially.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Generate produces text from a prompt plus supporting context.
	Generate(ctx context.Context, prompt, context string) (string, error)

	// Name identifies the backend for logging and audit records.
	Name() string
}

// New creates an oracle from configuration. Every call on the returned
// oracle carries the configured per-call deadline.
func New(cfg config.OracleConfig) (Oracle, error) {
	log := logging.For(logging.CategoryOracle)

	var (
		o   Oracle
		err error
	)
	switch cfg.Provider {
	case "genai":
		log.Infow("creating genai oracle", "model", cfg.Model, "embed_model", cfg.EmbedModel)
		o, err = NewGenAIOracle(cfg.APIKey, cfg.Model, cfg.EmbedModel)
	case "ollama":
		log.Infow("creating ollama oracle", "endpoint", cfg.OllamaEndpoint, "model", cfg.Model)
		o, err = NewOllamaOracle(cfg.OllamaEndpoint, cfg.Model, cfg.EmbedModel)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(o, cfg.CallTimeout()), nil
}

// WithTimeout bounds every call on o with its own deadline, so a hung
// backend surfaces as context.DeadlineExceeded instead of blocking the
// request. A non-positive d returns o unchanged.
func WithTimeout(o Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return o
	}
	return &timeoutOracle{inner: o, timeout: d}
}

type timeoutOracle struct {
	inner   Oracle
	timeout time.Duration
}

func (t *timeoutOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Embed(ctx, text)
}

func (t *timeoutOracle) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.EmbedBatch(ctx, texts)
}

func (t *timeoutOracle) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Generate(ctx, prompt, contextText)
}

func (t *timeoutOracle) Name() string { return t.inner.Name() }

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value in [-1, 1]; zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
