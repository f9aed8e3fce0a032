package graph

import (
	"errors"
	"strings"
)

// Sentinel is the element the oracle returns when a pair produces nothing.
const Sentinel = "Nothing"

var (
	ErrElementNotFound = errors.New("graph: element not found")
	ErrInvalidColumn   = errors.New("graph: invalid column")
	ErrInvalidOrder    = errors.New("graph: invalid order")
	ErrEmptyText       = errors.New("graph: empty element text")
)

// Element is one node of the crafting graph.
type Element struct {
	Text            string `json:"text"`
	Glyph           string `json:"emoji"`
	FirstDiscovered bool   `json:"discovered"`
	// Depth is nil while the element is unreachable from the primitives.
	Depth       *int `json:"depth"`
	Yield       int  `json:"yield"`
	RecipeCount int  `json:"recipe_count"`
	Freq        int  `json:"freq"`
}

// Primitives are the four elements every graph starts from, at depth 0.
var Primitives = []Element{
	{Text: "Water", Glyph: "💧"},
	{Text: "Fire", Glyph: "🔥"},
	{Text: "Wind", Glyph: "🌬️"},
	{Text: "Earth", Glyph: "🌍"},
}

// Pair is an unordered input pair stored with A <= B.
type Pair struct {
	A string `json:"input1"`
	B string `json:"input2"`
}

// Canonical returns the sorted form of (a, b); (a, b) and (b, a) map to the same Pair.
func Canonical(a, b string) Pair {
	a, b = Normalize(a), Normalize(b)
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (p Pair) Contains(text string) bool {
	return p.A == text || p.B == text
}

// Recipe maps a canonical input pair to its output.
type Recipe struct {
	Input1 string `json:"input1"`
	Input2 string `json:"input2"`
	Output string `json:"output"`
}

func (r Recipe) Pair() Pair {
	return Pair{A: r.Input1, B: r.Input2}
}

// Normalize trims surrounding whitespace from element text.
func Normalize(text string) string {
	return strings.TrimSpace(text)
}

// Stats summarizes the store for the read API.
type Stats struct {
	Count      int `json:"count"`
	Discovered int `json:"discovered"`
	Unused     int `json:"unused"`
	Recipes    int `json:"recipes"`
}

// PathStep is one recipe of a shortest-path tree.
type PathStep struct {
	Output string `json:"output"`
	Input1 string `json:"input1"`
	Input2 string `json:"input2"`
	Depth  int    `json:"depth"`
}

// PathCandidate is a recipe with the depths of its inputs and output resolved.
type PathCandidate struct {
	Recipe
	Depth1      int
	Depth2      int
	OutputDepth int
}

func intPtr(v int) *int {
	return &v
}
