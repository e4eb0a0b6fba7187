package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"rbt/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStorage implements Storage on PostgreSQL. Job claims use
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never share a job.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects with the pool settings from cfg and, when
// cfg.Migrate is set, applies the embedded schema migrations.
func NewPostgresStorage(ctx context.Context, cfg models.StorageConfig) (*PostgresStorage, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.Database.MaxIdleConns, int(poolCfg.MaxConns)))
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		err := migrate(ctx, db, goose.DialectPostgres, "postgres")
		db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &PostgresStorage{pool: pool}, nil
}

// Pool exposes the connection pool so the content reader can share it.
func (ps *PostgresStorage) Pool() *pgxpool.Pool {
	return ps.pool
}

const jobColumns = `job_id, book, chapter, language_code, status, total_verses, translated_verses,
	total_footnotes, translated_footnotes, attempts, error_message, created_at, updated_at,
	started_at, completed_at`

func scanPgJob(row pgx.Row) (*models.TranslationJob, error) {
	var j models.TranslationJob
	err := row.Scan(&j.JobID, &j.Book, &j.Chapter, &j.LanguageCode, &j.Status,
		&j.TotalVerses, &j.TranslatedVerses, &j.TotalFootnotes, &j.TranslatedFootnotes,
		&j.Attempts, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (ps *PostgresStorage) CreateJob(ctx context.Context, job *models.TranslationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	_, err := ps.pool.Exec(ctx, `INSERT INTO translation_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.JobID, job.Book, job.Chapter, job.LanguageCode, job.Status,
		job.TotalVerses, job.TranslatedVerses, job.TotalFootnotes, job.TranslatedFootnotes,
		job.Attempts, job.ErrorMessage, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("job %s: %w", job.JobID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) GetJob(ctx context.Context, jobID string) (*models.TranslationJob, error) {
	job, err := scanPgJob(ps.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (ps *PostgresStorage) FindActiveJob(ctx context.Context, book string, chapter int, languageCode string) (*models.TranslationJob, error) {
	job, err := scanPgJob(ps.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE book = $1 AND chapter = $2 AND language_code = $3 AND status IN ('pending', 'processing')
		ORDER BY created_at LIMIT 1`, book, chapter, languageCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}
	return job, nil
}

func (ps *PostgresStorage) ClaimJob(ctx context.Context, opts models.ClaimOptions) (*models.TranslationJob, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	staleBefore := now.Add(-opts.StaleAfter)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}

	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	// Fail orphans that have used up their attempts, one row at a time so
	// the message can carry the attempt count.
	rows, err := tx.Query(ctx, `SELECT job_id, attempts FROM translation_jobs
		WHERE status = 'processing' AND updated_at < $1 AND attempts >= $2
		FOR UPDATE SKIP LOCKED`, staleBefore, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to find exhausted jobs: %w", err)
	}
	type exhaustedJob struct {
		id       string
		attempts int
	}
	var exhausted []exhaustedJob
	for rows.Next() {
		var e exhaustedJob
		if err := rows.Scan(&e.id, &e.attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan exhausted job: %w", err)
		}
		exhausted = append(exhausted, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find exhausted jobs: %w", err)
	}
	for _, e := range exhausted {
		if _, err := tx.Exec(ctx, `UPDATE translation_jobs
			SET status = 'failed', error_message = $2, completed_at = $3, updated_at = $3
			WHERE job_id = $1`, e.id, models.ExhaustedMessage(e.attempts), now); err != nil {
			return nil, fmt.Errorf("failed to expire job %s: %w", e.id, err)
		}
	}

	job, err := scanPgJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE status = 'pending'
		ORDER BY created_at, job_id
		LIMIT 1 FOR UPDATE SKIP LOCKED`))
	if errors.Is(err, pgx.ErrNoRows) {
		job, err = scanPgJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM translation_jobs
			WHERE status = 'processing' AND updated_at < $1 AND attempts < $2
			ORDER BY updated_at, job_id
			LIMIT 1 FOR UPDATE SKIP LOCKED`, staleBefore, maxAttempts))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit claim: %w", err)
		}
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}

	job.MarkProcessing(now)
	if _, err := tx.Exec(ctx, `UPDATE translation_jobs
		SET status = $2, started_at = $3, updated_at = $3, attempts = $4, error_message = ''
		WHERE job_id = $1`, job.JobID, job.Status, now, job.Attempts); err != nil {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return job, nil
}

func (ps *PostgresStorage) SaveJob(ctx context.Context, job *models.TranslationJob) error {
	tag, err := ps.pool.Exec(ctx, `UPDATE translation_jobs SET
		status = $2, total_verses = $3, translated_verses = $4, total_footnotes = $5,
		translated_footnotes = $6, attempts = $7, error_message = $8, updated_at = $9,
		started_at = $10, completed_at = $11
		WHERE job_id = $1`,
		job.JobID, job.Status, job.TotalVerses, job.TranslatedVerses, job.TotalFootnotes,
		job.TranslatedFootnotes, job.Attempts, job.ErrorMessage, job.UpdatedAt,
		job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.JobID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) QueuePosition(ctx context.Context, job *models.TranslationJob) (int, error) {
	var ahead int
	err := ps.pool.QueryRow(ctx, `SELECT COUNT(*) FROM translation_jobs
		WHERE status = 'pending' AND created_at < $1`, job.CreatedAt).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return ahead + 1, nil
}

func (ps *PostgresStorage) CurrentProcessingJob(ctx context.Context) (*models.TranslationJob, error) {
	job, err := scanPgJob(ps.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE status = 'processing' ORDER BY started_at DESC NULLS LAST LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current job: %w", err)
	}
	return job, nil
}

func (ps *PostgresStorage) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ps.pool.Query(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, job_id LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TranslationJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const translationColumns = `id, book, chapter, verse, language_code, verse_text, footnote_id,
	footnote_text, status, generated_by, created_at, updated_at`

func scanPgTranslation(row pgx.Row) (*models.VerseTranslation, error) {
	var t models.VerseTranslation
	err := row.Scan(&t.ID, &t.Book, &t.Chapter, &t.Verse, &t.LanguageCode, &t.VerseText,
		&t.FootnoteID, &t.FootnoteText, &t.Status, &t.GeneratedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ps *PostgresStorage) UpsertTranslation(ctx context.Context, t *models.VerseTranslation) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid translation: %w", err)
	}
	err := ps.pool.QueryRow(ctx, `INSERT INTO verse_translations
		(book, chapter, verse, language_code, verse_text, footnote_id, footnote_text, status, generated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT ON CONSTRAINT verse_translations_natural_key DO UPDATE SET
			verse_text = EXCLUDED.verse_text,
			footnote_text = EXCLUDED.footnote_text,
			status = EXCLUDED.status,
			generated_by = EXCLUDED.generated_by,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		t.Book, t.Chapter, t.Verse, t.LanguageCode, t.VerseText, t.FootnoteID,
		t.FootnoteText, t.Status, t.GeneratedBy,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert translation %s: %w", t.Key(), err)
	}
	return nil
}

func (ps *PostgresStorage) GetTranslation(ctx context.Context, key models.TranslationKey) (*models.VerseTranslation, error) {
	t, err := scanPgTranslation(ps.pool.QueryRow(ctx, `SELECT `+translationColumns+` FROM verse_translations
		WHERE book = $1 AND chapter = $2 AND verse = $3 AND language_code = $4 AND footnote_id = $5`,
		key.Book, key.Chapter, key.Verse, key.LanguageCode, key.FootnoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("translation %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get translation: %w", err)
	}
	return t, nil
}

func (ps *PostgresStorage) ChapterTranslations(ctx context.Context, book string, chapter int, languageCode string) ([]*models.VerseTranslation, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+translationColumns+` FROM verse_translations
		WHERE book = $1 AND chapter = $2 AND language_code = $3
		ORDER BY (footnote_id <> ''), verse, footnote_id`, book, chapter, languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	defer rows.Close()

	var out []*models.VerseTranslation
	for rows.Next() {
		t, err := scanPgTranslation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan translation: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ps *PostgresStorage) CompletedVerses(ctx context.Context, book string, chapter int, languageCode string) (map[int]bool, error) {
	rows, err := ps.pool.Query(ctx, `SELECT verse FROM verse_translations
		WHERE book = $1 AND chapter = $2 AND language_code = $3 AND footnote_id = ''
		AND verse_text <> '' AND status = ANY($4)`, book, chapter, languageCode, doneStatuses())
	if err != nil {
		return nil, fmt.Errorf("failed to list completed verses: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan verse: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func (ps *PostgresStorage) CompletedFootnotes(ctx context.Context, book string, chapter int, languageCode string) (map[string]bool, error) {
	rows, err := ps.pool.Query(ctx, `SELECT footnote_id FROM verse_translations
		WHERE book = $1 AND chapter = $2 AND language_code = $3 AND footnote_id <> ''
		AND footnote_text <> '' AND status = ANY($4)`, book, chapter, languageCode, doneStatuses())
	if err != nil {
		return nil, fmt.Errorf("failed to list completed footnotes: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan footnote id: %w", err)
		}
		done[id] = true
	}
	return done, rows.Err()
}

func (ps *PostgresStorage) FootnoteTranslation(ctx context.Context, book, footnoteID, languageCode string) (*models.VerseTranslation, error) {
	t, err := scanPgTranslation(ps.pool.QueryRow(ctx, `SELECT `+translationColumns+` FROM verse_translations
		WHERE book = $1 AND footnote_id = $2 AND language_code = $3
		AND footnote_text <> '' AND status = ANY($4)
		ORDER BY chapter LIMIT 1`, book, footnoteID, languageCode, doneStatuses()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("footnote %s %s [%s]: %w", book, footnoteID, languageCode, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get footnote translation: %w", err)
	}
	return t, nil
}

func (ps *PostgresStorage) AppendUpdate(ctx context.Context, u *models.TranslationUpdate) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid update: %w", err)
	}
	if u.Date.IsZero() {
		u.Date = time.Now().UTC()
	}
	_, err := ps.pool.Exec(ctx, `INSERT INTO translation_updates (date, version, reference, update_text)
		VALUES ($1, $2, $3, $4)`, u.Date, u.Version, u.Reference, u.UpdateText)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("update at %s: %w", u.Date, ErrDuplicate)
		}
		return fmt.Errorf("failed to append update: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) ListUpdates(ctx context.Context, limit, offset int) ([]*models.TranslationUpdate, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := ps.pool.Query(ctx, `SELECT date, version, reference, update_text FROM translation_updates
		ORDER BY date DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	out := []*models.TranslationUpdate{}
	for rows.Next() {
		var u models.TranslationUpdate
		if err := rows.Scan(&u.Date, &u.Version, &u.Reference, &u.UpdateText); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (ps *PostgresStorage) CountUpdates(ctx context.Context) (int, error) {
	var n int
	if err := ps.pool.QueryRow(ctx, `SELECT COUNT(*) FROM translation_updates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return n, nil
}

func (ps *PostgresStorage) ListUpdatesBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.TranslationUpdate, error) {
	from, to = rangeBounds(from, to)
	// LIMIT NULL is no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := ps.pool.Query(ctx, `SELECT date, version, reference, update_text FROM translation_updates
		WHERE date >= $1 AND date < $2
		ORDER BY date DESC LIMIT $3 OFFSET $4`, from, to, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	out := []*models.TranslationUpdate{}
	for rows.Next() {
		var u models.TranslationUpdate
		if err := rows.Scan(&u.Date, &u.Version, &u.Reference, &u.UpdateText); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (ps *PostgresStorage) CountUpdatesBetween(ctx context.Context, from, to time.Time) (int, error) {
	from, to = rangeBounds(from, to)
	var n int
	err := ps.pool.QueryRow(ctx, `SELECT COUNT(*) FROM translation_updates WHERE date >= $1 AND date < $2`,
		from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return n, nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
