package graph

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *Store) Element(ctx context.Context, text string) (Element, bool, error) {
	return lookupElement(ctx, s.reads, Normalize(text))
}

func (s *Store) ElementExists(ctx context.Context, text string) (bool, error) {
	return elementExists(ctx, s.reads, Normalize(text))
}

// HasRecipe reports whether the pair was already tried, whatever its output.
func (s *Store) HasRecipe(ctx context.Context, a, b string) (bool, error) {
	_, ok, err := recipeOutput(ctx, s.reads, a, b)
	return ok, err
}

func (s *Store) RecipeOutput(ctx context.Context, a, b string) (string, bool, error) {
	return recipeOutput(ctx, s.reads, a, b)
}

func (s *Store) ShortestPath(ctx context.Context, output string) (Pair, bool, error) {
	return lookupShortestPath(ctx, s.reads, Normalize(output))
}

// Partners returns every element already combined with text.
func (s *Store) Partners(ctx context.Context, text string) ([]string, error) {
	text = Normalize(text)
	return queryStrings(ctx, s.reads, `
        SELECT input2 FROM recipes WHERE input1 = ?
        UNION
        SELECT input1 FROM recipes WHERE input2 = ?`, text, text)
}

// MaxValue returns the largest value of a numeric column, false when empty.
func (s *Store) MaxValue(ctx context.Context, col Column) (int, bool, error) {
	col, err := ParseColumn(string(col))
	if err != nil {
		return 0, false, err
	}
	if col == ColumnText {
		return 0, false, fmt.Errorf("%w: text is not numeric", ErrInvalidColumn)
	}
	var v sql.NullInt64
	if err := s.reads.QueryRowContext(ctx, `SELECT MAX(`+string(col)+`) FROM elements`).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("graph: max %s: %w", col, err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

// Count returns the number of elements, optionally ignoring the sentinel.
func (s *Store) Count(ctx context.Context, excludeSentinel bool) (int, error) {
	query := `SELECT COUNT(*) FROM elements`
	var args []any
	if excludeSentinel {
		query += ` WHERE text <> ?`
		args = append(args, Sentinel)
	}
	var n int
	if err := s.reads.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("graph: count elements: %w", err)
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		st                 Stats
		discovered, unused sql.NullInt64
	)
	err := s.reads.QueryRowContext(ctx, `
        SELECT COUNT(*),
               SUM(CASE WHEN discovered <> 0 THEN 1 ELSE 0 END),
               SUM(CASE WHEN recipe_count = 0 THEN 1 ELSE 0 END)
        FROM elements`).Scan(&st.Count, &discovered, &unused)
	if err != nil {
		return Stats{}, fmt.Errorf("graph: stats: %w", err)
	}
	st.Discovered = int(discovered.Int64)
	st.Unused = int(unused.Int64)
	if err := s.reads.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&st.Recipes); err != nil {
		return Stats{}, fmt.Errorf("graph: count recipes: %w", err)
	}
	return st, nil
}

// RecipesByInput lists recipes using text as an input, ordered by output.
func (s *Store) RecipesByInput(ctx context.Context, text string) ([]Recipe, error) {
	text = Normalize(text)
	return queryRecipes(ctx, s.reads,
		`SELECT input1, input2, output FROM recipes WHERE input1 = ? OR input2 = ? ORDER BY output ASC`,
		text, text)
}

// RecipesByOutput lists recipes producing text, ordered by inputs.
func (s *Store) RecipesByOutput(ctx context.Context, text string) ([]Recipe, error) {
	return queryRecipes(ctx, s.reads,
		`SELECT input1, input2, output FROM recipes WHERE output = ? ORDER BY input1, input2 ASC`,
		Normalize(text))
}
