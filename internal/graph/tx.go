package graph

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is the write side of the store, valid only inside Store.Update.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Element(ctx context.Context, text string) (Element, bool, error) {
	return lookupElement(ctx, t.tx, text)
}

func (t *Tx) ElementExists(ctx context.Context, text string) (bool, error) {
	return elementExists(ctx, t.tx, text)
}

// Depth returns the depth of text; known is false while it is unresolved.
func (t *Tx) Depth(ctx context.Context, text string) (depth int, known bool, err error) {
	var v sql.NullInt64
	err = t.tx.QueryRowContext(ctx, `SELECT depth FROM elements WHERE text = ?`, text).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, fmt.Errorf("%w: %q", ErrElementNotFound, text)
	}
	if err != nil {
		return 0, false, fmt.Errorf("graph: depth %q: %w", text, err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

// InsertElement inserts el unless an element with the same text exists.
func (t *Tx) InsertElement(ctx context.Context, el Element) (bool, error) {
	el.Text = Normalize(el.Text)
	if el.Text == "" {
		return false, ErrEmptyText
	}
	var depth any
	if el.Depth != nil {
		depth = *el.Depth
	}
	discovered := 0
	if el.FirstDiscovered {
		discovered = 1
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO elements (`+elementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		el.Text, el.Glyph, discovered, depth, el.Yield, el.RecipeCount, el.Freq)
	if err != nil {
		return false, fmt.Errorf("graph: insert element %q: %w", el.Text, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertRecipe stores the canonical form of r; false means the pair was already tried.
func (t *Tx) InsertRecipe(ctx context.Context, r Recipe) (bool, error) {
	p := Canonical(r.Input1, r.Input2)
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO recipes (input1, input2, output) VALUES (?, ?, ?)`,
		p.A, p.B, Normalize(r.Output))
	if err != nil {
		return false, fmt.Errorf("graph: insert recipe %q+%q: %w", p.A, p.B, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *Tx) RecipeOutput(ctx context.Context, a, b string) (string, bool, error) {
	return recipeOutput(ctx, t.tx, a, b)
}

// IncrementRecipeCount bumps both inputs once; a self-pair counts once.
func (t *Tx) IncrementRecipeCount(ctx context.Context, a, b string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE elements SET recipe_count = recipe_count + 1 WHERE text = ? OR text = ?`, a, b)
	if err != nil {
		return fmt.Errorf("graph: increment recipe_count: %w", err)
	}
	return nil
}

func (t *Tx) IncrementYield(ctx context.Context, text string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE elements SET yield = yield + 1 WHERE text = ?`, text); err != nil {
		return fmt.Errorf("graph: increment yield %q: %w", text, err)
	}
	return nil
}

func (t *Tx) IncrementFreq(ctx context.Context, text string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE elements SET freq = freq + 1 WHERE text = ?`, text); err != nil {
		return fmt.Errorf("graph: increment freq %q: %w", text, err)
	}
	return nil
}

func (t *Tx) SetDepth(ctx context.Context, text string, depth int) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE elements SET depth = ? WHERE text = ?`, depth, text); err != nil {
		return fmt.Errorf("graph: set depth %q: %w", text, err)
	}
	return nil
}

// LowerDepth sets depth to min(current, depth), treating unknown as infinite.
func (t *Tx) LowerDepth(ctx context.Context, text string, depth int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE elements SET depth = COALESCE(MIN(depth, ?), ?) WHERE text = ?`, depth, depth, text)
	if err != nil {
		return fmt.Errorf("graph: lower depth %q: %w", text, err)
	}
	return nil
}

// ResetDepths clears every depth and sets the primitives back to 0.
func (t *Tx) ResetDepths(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE elements SET depth = NULL`); err != nil {
		return fmt.Errorf("graph: reset depths: %w", err)
	}
	for _, p := range Primitives {
		if err := t.SetDepth(ctx, p.Text, 0); err != nil {
			return err
		}
	}
	return nil
}

// LayerOutputs returns the distinct outputs of recipes with an input at
// exactly depth d and both inputs at most d.
func (t *Tx) LayerOutputs(ctx context.Context, d int) ([]string, error) {
	return queryStrings(ctx, t.tx, `
        SELECT DISTINCT r.output FROM recipes r
            JOIN elements e1 ON e1.text = r.input1
            JOIN elements e2 ON e2.text = r.input2
        WHERE (e1.depth = ? OR e2.depth = ?)
            AND e1.depth <= ? AND e2.depth <= ?`, d, d, d, d)
}

func (t *Tx) ShortestPath(ctx context.Context, output string) (Pair, bool, error) {
	return lookupShortestPath(ctx, t.tx, output)
}

func (t *Tx) SetShortestPath(ctx context.Context, output string, p Pair) error {
	p = Canonical(p.A, p.B)
	_, err := t.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO shortest_path (output, input1, input2) VALUES (?, ?, ?)`,
		output, p.A, p.B)
	if err != nil {
		return fmt.Errorf("graph: set shortest path %q: %w", output, err)
	}
	return nil
}

func (t *Tx) ClearShortestPaths(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM shortest_path`); err != nil {
		return fmt.Errorf("graph: clear shortest paths: %w", err)
	}
	return nil
}

// ShortestPathCandidates lists recipes whose inputs are both strictly
// shallower than the output, ordered by output, input depth sum, then
// discovery order.
func (t *Tx) ShortestPathCandidates(ctx context.Context) ([]PathCandidate, error) {
	rows, err := t.tx.QueryContext(ctx, `
        SELECT r.input1, r.input2, r.output, e1.depth, e2.depth, eo.depth FROM recipes r
            JOIN elements e1 ON e1.text = r.input1
            JOIN elements e2 ON e2.text = r.input2
            JOIN elements eo ON eo.text = r.output
        WHERE e1.depth < eo.depth AND e2.depth < eo.depth
        ORDER BY r.output, e1.depth + e2.depth, r.rowid`)
	if err != nil {
		return nil, fmt.Errorf("graph: shortest path candidates: %w", err)
	}
	defer rows.Close()

	var out []PathCandidate
	for rows.Next() {
		var c PathCandidate
		if err := rows.Scan(&c.Input1, &c.Input2, &c.Output, &c.Depth1, &c.Depth2, &c.OutputDepth); err != nil {
			return nil, fmt.Errorf("graph: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecipesUsing lists the recipes with text as one of their inputs.
func (t *Tx) RecipesUsing(ctx context.Context, text string) ([]Recipe, error) {
	return queryRecipes(ctx, t.tx,
		`SELECT input1, input2, output FROM recipes WHERE input1 = ? OR input2 = ? ORDER BY rowid`,
		text, text)
}

// CountRecipesProducing counts recipes with input as an input and output as their result.
func (t *Tx) CountRecipesProducing(ctx context.Context, input, output string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipes WHERE output = ? AND (input1 = ? OR input2 = ?)`,
		output, input, input).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("graph: count recipes producing %q: %w", output, err)
	}
	return n, nil
}

func (t *Tx) AllRecipes(ctx context.Context) ([]Recipe, error) {
	return queryRecipes(ctx, t.tx, `SELECT input1, input2, output FROM recipes ORDER BY rowid`)
}

// PurgeSentinel deletes recipes with the sentinel as an input, and as the
// output too when includeOutputs is set.
func (t *Tx) PurgeSentinel(ctx context.Context, includeOutputs bool) (int64, error) {
	query := `DELETE FROM recipes WHERE input1 = ? OR input2 = ?`
	args := []any{Sentinel, Sentinel}
	if includeOutputs {
		query += ` OR output = ?`
		args = append(args, Sentinel)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("graph: purge sentinel: %w", err)
	}
	return res.RowsAffected()
}

func (t *Tx) ResetCounters(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE elements SET yield = 0, recipe_count = 0, freq = 0`); err != nil {
		return fmt.Errorf("graph: reset counters: %w", err)
	}
	return nil
}

// SetCounters overwrites the statistics of every element; missing texts get zeros.
func (t *Tx) SetCounters(ctx context.Context, yield, recipeCount, freq map[string]int) error {
	if err := t.ResetCounters(ctx); err != nil {
		return err
	}
	stmt, err := t.tx.PrepareContext(ctx, `UPDATE elements SET yield = ?, recipe_count = ?, freq = ? WHERE text = ?`)
	if err != nil {
		return fmt.Errorf("graph: prepare counters: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]struct{}, len(recipeCount))
	for _, m := range []map[string]int{yield, recipeCount, freq} {
		for text := range m {
			if _, ok := seen[text]; ok {
				continue
			}
			seen[text] = struct{}{}
			if _, err := stmt.ExecContext(ctx, yield[text], recipeCount[text], freq[text], text); err != nil {
				return fmt.Errorf("graph: set counters %q: %w", text, err)
			}
		}
	}
	return nil
}
