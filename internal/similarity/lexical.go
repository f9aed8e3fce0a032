package similarity

import (
	"context"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// Lexical compares texts by edit distance over their sorted word sets, so
// word order and repeated words do not matter.
type Lexical struct {
	params *levenshtein.Params
}

func NewLexical() *Lexical {
	return &Lexical{params: levenshtein.NewParams()}
}

func (l *Lexical) Similarity(_ context.Context, a, b string) (float64, error) {
	return l.TokenSet(a, b), nil
}

// TokenSet returns a score in [0, 1].
func (l *Lexical) TokenSet(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var sect, onlyA, onlyB []string
	for _, w := range ta {
		if contains(tb, w) {
			sect = append(sect, w)
		} else {
			onlyA = append(onlyA, w)
		}
	}
	for _, w := range tb {
		if !contains(ta, w) {
			onlyB = append(onlyB, w)
		}
	}

	base := strings.Join(sect, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := levenshtein.Similarity(withA, withB, l.params)
	if base != "" {
		best = max(best,
			levenshtein.Similarity(base, withA, l.params),
			levenshtein.Similarity(base, withB, l.params))
	}
	return best
}

type scored struct {
	text  string
	score float64
}

// Rank returns up to limit candidates ordered by TokenSet score against query.
func (l *Lexical) Rank(query string, candidates []string, limit int) []string {
	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, scored{text: c, score: l.TokenSet(query, c)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.text
	}
	return out
}

func tokenSet(text string) []string {
	ws := words(text)
	sort.Strings(ws)
	out := make([]string, 0, len(ws))
	for i, w := range ws {
		if i > 0 && w == ws[i-1] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// contains reports whether sorted holds w.
func contains(sorted []string, w string) bool {
	i := sort.SearchStrings(sorted, w)
	return i < len(sorted) && sorted[i] == w
}
