package similarity

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Embedding scores phrases by the cosine similarity of per-word embeddings.
// Vectors are cached for the life of the value.
type Embedding struct {
	client *openai.Client
	model  openai.EmbeddingModel

	mu    sync.Mutex
	cache map[string][]float32
}

func NewEmbedding(model string, opts Options) *Embedding {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Embedding{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
		cache:  make(map[string][]float32),
	}
}

// Similarity takes, for every word of a, its best cosine against the words
// of b, and returns the L2 norm of those scores over len(a)*len(b).
func (e *Embedding) Similarity(ctx context.Context, a, b string) (float64, error) {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0, nil
	}
	if err := e.fetch(ctx, append(append([]string(nil), wa...), wb...)); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var sumSq float64
	for _, x := range wa {
		best := math.Inf(-1)
		for _, y := range wb {
			best = math.Max(best, cosine(e.cache[x], e.cache[y]))
		}
		sumSq += best * best
	}
	return math.Sqrt(sumSq) / float64(len(wa)*len(wb)), nil
}

// Warm fetches the embeddings of every word in texts with as few requests as possible.
func (e *Embedding) Warm(ctx context.Context, texts []string) error {
	var all []string
	for _, t := range texts {
		all = append(all, words(t)...)
	}
	return e.fetch(ctx, all)
}

const maxEmbeddingInputs = 2048

func (e *Embedding) fetch(ctx context.Context, ws []string) error {
	e.mu.Lock()
	seen := make(map[string]struct{}, len(ws))
	var missing []string
	for _, w := range ws {
		if _, ok := e.cache[w]; ok {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		missing = append(missing, w)
	}
	e.mu.Unlock()

	for len(missing) > 0 {
		chunk := missing
		if len(chunk) > maxEmbeddingInputs {
			chunk = chunk[:maxEmbeddingInputs]
		}
		missing = missing[len(chunk):]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: chunk,
			Model: e.model,
		})
		if err != nil {
			return fmt.Errorf("similarity: embeddings: %w", err)
		}
		e.mu.Lock()
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(chunk) {
				continue
			}
			e.cache[chunk[d.Index]] = d.Embedding
		}
		e.mu.Unlock()
		log.Debug().Int("words", len(chunk)).Str("model", string(e.model)).Msg("similarity.Embedding fetched")
	}
	return nil
}

// cosine is 0 when either vector is missing or zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
