package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// queryer is the subset of *sql.DB and *sql.Tx the store helpers need.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed GraphStore. Writes go through Update on a
// single writer connection; the remaining methods read from a separate
// query-only pool and may run while an integration is open.
type Store struct {
	db    *sql.DB
	reads *sql.DB
	path  string
}

const readConns = 4

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("graph: database path required")
	}
	db, err := sql.Open("sqlite", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	reads, err := sql.Open("sqlite", dsn(path, true))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite reads %s: %w", path, err)
	}
	reads.SetMaxOpenConns(readConns)
	if err := reads.PingContext(ctx); err != nil {
		_ = reads.Close()
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite reads %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("read_conns", readConns).Msg("graph.Open ready")
	return &Store{db: db, reads: reads, path: path}, nil
}

func dsn(path string, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(120000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(OFF)")
	if readOnly {
		q.Add("_pragma", "query_only(1)")
	} else {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

// File returns the database file path.
func (s *Store) File() string {
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return errors.Join(s.reads.Close(), s.db.Close())
}

// SeedPrimitives inserts the primitive elements at depth 0 unless present.
func (s *Store) SeedPrimitives(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, p := range Primitives {
			el := p
			el.Depth = intPtr(0)
			if _, err := tx.InsertElement(ctx, el); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update runs fn in one transaction; it commits only if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("graph.Store.Update rollback failed")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("graph: commit: %w", err)
	}
	return nil
}

func scanElement(row interface{ Scan(...any) error }) (Element, error) {
	var (
		el         Element
		discovered int
		depth      sql.NullInt64
	)
	if err := row.Scan(&el.Text, &el.Glyph, &discovered, &depth, &el.Yield, &el.RecipeCount, &el.Freq); err != nil {
		return Element{}, err
	}
	el.FirstDiscovered = discovered != 0
	if depth.Valid {
		el.Depth = intPtr(int(depth.Int64))
	}
	return el, nil
}

func lookupElement(ctx context.Context, q queryer, text string) (Element, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM elements WHERE text = ?`, text)
	el, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Element{}, false, nil
	}
	if err != nil {
		return Element{}, false, fmt.Errorf("graph: lookup element %q: %w", text, err)
	}
	return el, true, nil
}

func elementExists(ctx context.Context, q queryer, text string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM elements WHERE text = ?`, text).Scan(&n); err != nil {
		return false, fmt.Errorf("graph: element exists %q: %w", text, err)
	}
	return n > 0, nil
}

func recipeOutput(ctx context.Context, q queryer, a, b string) (string, bool, error) {
	p := Canonical(a, b)
	var out string
	err := q.QueryRowContext(ctx, `SELECT output FROM recipes WHERE input1 = ? AND input2 = ?`, p.A, p.B).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("graph: recipe %q+%q: %w", p.A, p.B, err)
	}
	return out, true, nil
}

func lookupShortestPath(ctx context.Context, q queryer, output string) (Pair, bool, error) {
	var p Pair
	err := q.QueryRowContext(ctx, `SELECT input1, input2 FROM shortest_path WHERE output = ?`, output).Scan(&p.A, &p.B)
	if errors.Is(err, sql.ErrNoRows) {
		return Pair{}, false, nil
	}
	if err != nil {
		return Pair{}, false, fmt.Errorf("graph: shortest path %q: %w", output, err)
	}
	return p, true, nil
}

func queryRecipes(ctx context.Context, q queryer, query string, args ...any) ([]Recipe, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query recipes: %w", err)
	}
	defer rows.Close()

	var out []Recipe
	for rows.Next() {
		var r Recipe
		if err := rows.Scan(&r.Input1, &r.Input2, &r.Output); err != nil {
			return nil, fmt.Errorf("graph: scan recipe: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("graph: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
