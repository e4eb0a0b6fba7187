package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads the site database: the genesis tables in the default
// schema, old_testament.ot and hebrewdata, new_testament.nt with one
// footnote table per book, and joseph_aseneth.aseneth. It only reads.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects to the content database.
func NewPostgresSource(ctx context.Context, dsn string, maxConns int) (*PostgresSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for the content database")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping content database: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

// NewPostgresSourceFromPool reuses an existing pool.
func NewPostgresSourceFromPool(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (ps *PostgresSource) Chapter(ctx context.Context, name string, chapter int) ([]Verse, error) {
	book, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownBook)
	}

	var (
		query string
		args  []any
	)
	switch book.Testament {
	case Genesis:
		query = `SELECT verse::text, COALESCE(rbt_reader, ''), COALESCE(html, '')
			FROM genesis WHERE chapter = $1`
		args = []any{chapter}
	case Old:
		query = `SELECT split_part(ref, '.', 3), COALESCE(html, ''), COALESCE(html, '')
			FROM old_testament.ot WHERE ref LIKE $1`
		args = []any{fmt.Sprintf("%s.%d.%%", book.Abbrev, chapter)}
	case New:
		query = `SELECT startverse::text, COALESCE(rbt, ''), COALESCE(rbt, '')
			FROM new_testament.nt WHERE book = $1 AND chapter::text = $2`
		args = []any{book.Abbrev, strconv.Itoa(chapter)}
	case Storehouse:
		query = `SELECT verse::text, COALESCE(english, ''), ''
			FROM joseph_aseneth.aseneth WHERE chapter::text = $1`
		args = []any{strconv.Itoa(chapter)}
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %d: %w", book.Name, chapter, err)
	}
	defer rows.Close()

	var verses []Verse
	for rows.Next() {
		var number, text, html string
		if err := rows.Scan(&number, &text, &html); err != nil {
			return nil, fmt.Errorf("failed to scan verse: %w", err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(number))
		if err != nil || n <= 0 || text == "" {
			continue
		}
		verses = append(verses, Verse{
			Number:       n,
			Text:         text,
			FootnoteRefs: FootnoteRefs(book.Testament, html),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s %d: %w", book.Name, chapter, err)
	}
	if len(verses) == 0 {
		return nil, fmt.Errorf("%s %d: %w", book.Name, chapter, ErrNotFound)
	}

	sort.SliceStable(verses, func(i, j int) bool { return verses[i].Number < verses[j].Number })
	return verses, nil
}

func (ps *PostgresSource) Footnote(ctx context.Context, name string, ref string) (string, error) {
	book, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownBook)
	}

	var (
		query string
		key   string
	)
	switch book.Testament {
	case Genesis:
		query = `SELECT COALESCE(footnote_html, '') FROM genesis_footnotes WHERE footnote_id = $1`
		key = ref
	case Old:
		hebRef, err := hebrewDataRef(ref)
		if err != nil {
			return "", fmt.Errorf("%s: %w", err, ErrNotFound)
		}
		query = `SELECT COALESCE(footnote, '') FROM old_testament.hebrewdata WHERE ref = $1`
		key = hebRef
	case New:
		table := pgx.Identifier{"new_testament", book.FootnoteTable()}.Sanitize()
		query = `SELECT COALESCE(footnote_html, '') FROM ` + table + ` WHERE footnote_id = $1`
		key = book.Abbrev + "-" + ref
	default:
		return "", fmt.Errorf("%s has no footnotes: %w", book.Name, ErrNotFound)
	}

	var html string
	err := ps.pool.QueryRow(ctx, query, key).Scan(&html)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && html == "") {
		return "", fmt.Errorf("footnote %s %s: %w", book.Name, ref, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read footnote %s %s: %w", book.Name, ref, err)
	}
	return html, nil
}

func (ps *PostgresSource) Close() error {
	ps.pool.Close()
	return nil
}
