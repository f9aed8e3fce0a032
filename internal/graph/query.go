package graph

import (
	"context"
	"fmt"
	"strings"
)

// Column is a whitelisted numeric or text column of the elements table.
type Column string

const (
	ColumnText        Column = "text"
	ColumnDepth       Column = "depth"
	ColumnYield       Column = "yield"
	ColumnRecipeCount Column = "recipe_count"
	ColumnFreq        Column = "freq"
)

// ParseColumn validates a user-supplied column key.
func ParseColumn(raw string) (Column, error) {
	switch c := Column(strings.ToLower(strings.TrimSpace(raw))); c {
	case ColumnText, ColumnDepth, ColumnYield, ColumnRecipeCount, ColumnFreq:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidColumn, raw)
}

// Order is a validated ORDER BY expression.
type Order string

const (
	OrderText   Order = "text ASC"
	OrderRandom Order = "RANDOM()"
)

var orderTerms = map[string]string{
	"text":         "text",
	"depth":        "depth",
	"yield":        "yield",
	"recipe_count": "recipe_count",
	"freq":         "freq",
	"length(text)": "LENGTH(text)",
	"random()":     "RANDOM()",
}

// ParseOrder validates a comma separated list of "<term> [ASC|DESC]".
func ParseOrder(raw string) (Order, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return OrderText, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return "", fmt.Errorf("%w: %q", ErrInvalidOrder, raw)
		}
		term, ok := orderTerms[strings.ToLower(fields[0])]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidOrder, raw)
		}
		if len(fields) == 2 {
			dir := strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return "", fmt.Errorf("%w: %q", ErrInvalidOrder, raw)
			}
			term += " " + dir
		}
		out = append(out, term)
	}
	return Order(strings.Join(out, ", ")), nil
}

// Query selects elements for strategies and the read API.
type Query struct {
	// Key is the column KeyEquals and KeyAtMost compare against.
	Key       Column
	KeyEquals *int
	KeyAtMost *int

	MaxDepth         *int
	MinLength        int
	RecipeCountBelow *int
	ExcludeSentinel  bool
	Texts            []string

	Order Order
	Limit int
}

func (q Query) build(selectCols string) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	if q.KeyEquals != nil || q.KeyAtMost != nil {
		key, err := ParseColumn(string(q.Key))
		if err != nil {
			return "", nil, err
		}
		if key == ColumnText {
			return "", nil, fmt.Errorf("%w: text is not numeric", ErrInvalidColumn)
		}
		if q.KeyEquals != nil {
			where = append(where, string(key)+" = ?")
			args = append(args, *q.KeyEquals)
		}
		if q.KeyAtMost != nil {
			where = append(where, string(key)+" <= ?")
			args = append(args, *q.KeyAtMost)
		}
	}
	if q.MaxDepth != nil {
		where = append(where, "depth <= ?")
		args = append(args, *q.MaxDepth)
	}
	if q.MinLength > 0 {
		where = append(where, "LENGTH(text) >= ?")
		args = append(args, q.MinLength)
	}
	if q.RecipeCountBelow != nil {
		where = append(where, "recipe_count < ?")
		args = append(args, *q.RecipeCountBelow)
	}
	if q.ExcludeSentinel {
		where = append(where, "text <> ?")
		args = append(args, Sentinel)
	}
	if len(q.Texts) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(q.Texts)), ",")
		where = append(where, "text IN ("+marks+")")
		for _, t := range q.Texts {
			args = append(args, t)
		}
	}

	order, err := ParseOrder(string(q.Order))
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectCols)
	b.WriteString(" FROM elements")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(string(order))
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args, nil
}

// Scan returns the texts of the elements matching q.
func (s *Store) Scan(ctx context.Context, q Query) ([]string, error) {
	query, args, err := q.build("text")
	if err != nil {
		return nil, err
	}
	return queryStrings(ctx, s.reads, query, args...)
}

// Elements returns the full rows of the elements matching q.
func (s *Store) Elements(ctx context.Context, q Query) ([]Element, error) {
	query, args, err := q.build(elementColumns)
	if err != nil {
		return nil, err
	}
	rows, err := s.reads.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query elements: %w", err)
	}
	defer rows.Close()

	var out []Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("graph: scan element: %w", err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}
