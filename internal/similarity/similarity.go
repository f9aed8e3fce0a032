// Package similarity scores how close two element texts are.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrUnknownModel  = errors.New("similarity: unknown model")
	ErrMissingAPIKey = errors.New("similarity: missing api key")
)

const (
	ModelLexical      = "lexical"
	openAIModelPrefix = "openai:"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "OPENAI_BASE_URL"
)

// Similarity returns a score where larger means closer.
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Warmer is implemented by oracles that can batch their lookups ahead of scoring.
type Warmer interface {
	Warm(ctx context.Context, texts []string) error
}

// Options configure remote models; empty fields fall back to the environment.
type Options struct {
	APIKey  string
	BaseURL string
}

// New parses a model identifier: "lexical" or "openai:<embedding model>".
func New(model string, opts Options) (Similarity, error) {
	model = strings.TrimSpace(model)
	switch {
	case model == "" || model == ModelLexical:
		return NewLexical(), nil
	case strings.HasPrefix(model, openAIModelPrefix):
		name := strings.TrimPrefix(model, openAIModelPrefix)
		if name == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
		}
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvOpenAIKey)
		}
		if opts.BaseURL == "" {
			opts.BaseURL = os.Getenv(EnvOpenAIBaseURL)
		}
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: set %s", ErrMissingAPIKey, EnvOpenAIKey)
		}
		return NewEmbedding(name, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

func words(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
