package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rbt/internal/models"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStorage implements Storage on a single SQLite file. The connection
// pool is capped at one connection, which serializes writers and makes the
// job claim transaction exclusive.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens the database at cfg.Database.DSN.
func NewSQLiteStorage(ctx context.Context, cfg models.StorageConfig) (*SQLiteStorage, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if cfg.Migrate {
		if err := migrate(ctx, db, goose.DialectSQLite3, "sqlite"); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*models.TranslationJob, error) {
	var (
		j                    models.TranslationJob
		createdAt, updatedAt int64
		startedAt, doneAt    sql.NullInt64
	)
	err := row.Scan(&j.JobID, &j.Book, &j.Chapter, &j.LanguageCode, &j.Status,
		&j.TotalVerses, &j.TranslatedVerses, &j.TotalFootnotes, &j.TranslatedFootnotes,
		&j.Attempts, &j.ErrorMessage, &createdAt, &updatedAt, &startedAt, &doneAt)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	j.StartedAt = fromNullMillis(startedAt)
	j.CompletedAt = fromNullMillis(doneAt)
	return &j, nil
}

func (ss *SQLiteStorage) CreateJob(ctx context.Context, job *models.TranslationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	_, err := ss.db.ExecContext(ctx, `INSERT INTO translation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Book, job.Chapter, job.LanguageCode, string(job.Status),
		job.TotalVerses, job.TranslatedVerses, job.TotalFootnotes, job.TranslatedFootnotes,
		job.Attempts, job.ErrorMessage, toMillis(job.CreatedAt), toMillis(job.UpdatedAt),
		toNullMillis(job.StartedAt), toNullMillis(job.CompletedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("job %s: %w", job.JobID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) GetJob(ctx context.Context, jobID string) (*models.TranslationJob, error) {
	job, err := scanSQLiteJob(ss.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (ss *SQLiteStorage) FindActiveJob(ctx context.Context, book string, chapter int, languageCode string) (*models.TranslationJob, error) {
	job, err := scanSQLiteJob(ss.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE book = ? AND chapter = ? AND language_code = ? AND status IN ('pending', 'processing')
		ORDER BY created_at LIMIT 1`, book, chapter, languageCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}
	return job, nil
}

func (ss *SQLiteStorage) ClaimJob(ctx context.Context, opts models.ClaimOptions) (*models.TranslationJob, error) {
	now := opts.Now
	if now.IsZero() {
		now = ss.now()
	}
	staleBefore := toMillis(now.Add(-opts.StaleAfter))
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT job_id, attempts FROM translation_jobs
		WHERE status = 'processing' AND updated_at < ? AND attempts >= ?`, staleBefore, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to find exhausted jobs: %w", err)
	}
	exhausted := map[string]int{}
	for rows.Next() {
		var (
			id       string
			attempts int
		)
		if err := rows.Scan(&id, &attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan exhausted job: %w", err)
		}
		exhausted[id] = attempts
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find exhausted jobs: %w", err)
	}
	for id, attempts := range exhausted {
		if _, err := tx.ExecContext(ctx, `UPDATE translation_jobs
			SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
			WHERE job_id = ?`, models.ExhaustedMessage(attempts), toMillis(now), toMillis(now), id); err != nil {
			return nil, fmt.Errorf("failed to expire job %s: %w", id, err)
		}
	}

	job, err := scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE status = 'pending' ORDER BY created_at, job_id LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		job, err = scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs
			WHERE status = 'processing' AND updated_at < ? AND attempts < ?
			ORDER BY updated_at, job_id LIMIT 1`, staleBefore, maxAttempts))
	}
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit claim: %w", err)
		}
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}

	job.MarkProcessing(now)
	if _, err := tx.ExecContext(ctx, `UPDATE translation_jobs
		SET status = ?, started_at = ?, updated_at = ?, attempts = ?, error_message = ''
		WHERE job_id = ?`, string(job.Status), toMillis(now), toMillis(now), job.Attempts, job.JobID); err != nil {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return job, nil
}

func (ss *SQLiteStorage) SaveJob(ctx context.Context, job *models.TranslationJob) error {
	res, err := ss.db.ExecContext(ctx, `UPDATE translation_jobs SET
		status = ?, total_verses = ?, translated_verses = ?, total_footnotes = ?,
		translated_footnotes = ?, attempts = ?, error_message = ?, updated_at = ?,
		started_at = ?, completed_at = ?
		WHERE job_id = ?`,
		string(job.Status), job.TotalVerses, job.TranslatedVerses, job.TotalFootnotes,
		job.TranslatedFootnotes, job.Attempts, job.ErrorMessage, toMillis(job.UpdatedAt),
		toNullMillis(job.StartedAt), toNullMillis(job.CompletedAt), job.JobID)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.JobID, ErrNotFound)
	}
	return nil
}

func (ss *SQLiteStorage) QueuePosition(ctx context.Context, job *models.TranslationJob) (int, error) {
	var ahead int
	err := ss.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translation_jobs
		WHERE status = 'pending' AND created_at < ?`, toMillis(job.CreatedAt)).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return ahead + 1, nil
}

func (ss *SQLiteStorage) CurrentProcessingJob(ctx context.Context) (*models.TranslationJob, error) {
	job, err := scanSQLiteJob(ss.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE status = 'processing' ORDER BY started_at IS NULL, started_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current job: %w", err)
	}
	return job, nil
}

func (ss *SQLiteStorage) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TranslationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ss.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs
		WHERE ? = '' OR status = ?
		ORDER BY created_at DESC, job_id LIMIT ?`, string(status), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TranslationJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanSQLiteTranslation(row rowScanner) (*models.VerseTranslation, error) {
	var (
		t                    models.VerseTranslation
		createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.Book, &t.Chapter, &t.Verse, &t.LanguageCode, &t.VerseText,
		&t.FootnoteID, &t.FootnoteText, &t.Status, &t.GeneratedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func (ss *SQLiteStorage) UpsertTranslation(ctx context.Context, t *models.VerseTranslation) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid translation: %w", err)
	}
	now := toMillis(ss.now())
	var createdAt, updatedAt int64
	err := ss.db.QueryRowContext(ctx, `INSERT INTO verse_translations
		(book, chapter, verse, language_code, verse_text, footnote_id, footnote_text, status, generated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (book, chapter, verse, language_code, footnote_id) DO UPDATE SET
			verse_text = excluded.verse_text,
			footnote_text = excluded.footnote_text,
			status = excluded.status,
			generated_by = excluded.generated_by,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`,
		t.Book, t.Chapter, t.Verse, t.LanguageCode, t.VerseText, t.FootnoteID,
		t.FootnoteText, string(t.Status), t.GeneratedBy, now, now,
	).Scan(&t.ID, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert translation %s: %w", t.Key(), err)
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return nil
}

func (ss *SQLiteStorage) GetTranslation(ctx context.Context, key models.TranslationKey) (*models.VerseTranslation, error) {
	t, err := scanSQLiteTranslation(ss.db.QueryRowContext(ctx, `SELECT `+translationColumns+` FROM verse_translations
		WHERE book = ? AND chapter = ? AND verse = ? AND language_code = ? AND footnote_id = ?`,
		key.Book, key.Chapter, key.Verse, key.LanguageCode, key.FootnoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("translation %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get translation: %w", err)
	}
	return t, nil
}

func (ss *SQLiteStorage) ChapterTranslations(ctx context.Context, book string, chapter int, languageCode string) ([]*models.VerseTranslation, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+translationColumns+` FROM verse_translations
		WHERE book = ? AND chapter = ? AND language_code = ?
		ORDER BY (footnote_id <> ''), verse, footnote_id`, book, chapter, languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	defer rows.Close()

	var out []*models.VerseTranslation
	for rows.Next() {
		t, err := scanSQLiteTranslation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan translation: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// doneStatusArgs expands doneStatuses into an IN (...) clause and its args.
func doneStatusArgs() (string, []any) {
	statuses := doneStatuses()
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ") + ")", args
}

func (ss *SQLiteStorage) CompletedVerses(ctx context.Context, book string, chapter int, languageCode string) (map[int]bool, error) {
	in, statusArgs := doneStatusArgs()
	args := append([]any{book, chapter, languageCode}, statusArgs...)
	rows, err := ss.db.QueryContext(ctx, `SELECT verse FROM verse_translations
		WHERE book = ? AND chapter = ? AND language_code = ? AND footnote_id = ''
		AND verse_text <> '' AND status IN `+in, args...)
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

func (ss *SQLiteStorage) CompletedFootnotes(ctx context.Context, book string, chapter int, languageCode string) (map[string]bool, error) {
	in, statusArgs := doneStatusArgs()
	args := append([]any{book, chapter, languageCode}, statusArgs...)
	rows, err := ss.db.QueryContext(ctx, `SELECT footnote_id FROM verse_translations
		WHERE book = ? AND chapter = ? AND language_code = ? AND footnote_id <> ''
		AND footnote_text <> '' AND status IN `+in, args...)
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

func (ss *SQLiteStorage) FootnoteTranslation(ctx context.Context, book, footnoteID, languageCode string) (*models.VerseTranslation, error) {
	in, statusArgs := doneStatusArgs()
	args := append([]any{book, footnoteID, languageCode}, statusArgs...)
	t, err := scanSQLiteTranslation(ss.db.QueryRowContext(ctx, `SELECT `+translationColumns+` FROM verse_translations
		WHERE book = ? AND footnote_id = ? AND language_code = ?
		AND footnote_text <> '' AND status IN `+in+`
		ORDER BY chapter LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("footnote %s %s [%s]: %w", book, footnoteID, languageCode, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get footnote translation: %w", err)
	}
	return t, nil
}

func (ss *SQLiteStorage) AppendUpdate(ctx context.Context, u *models.TranslationUpdate) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid update: %w", err)
	}
	if u.Date.IsZero() {
		u.Date = ss.now().UTC()
	}
	_, err := ss.db.ExecContext(ctx, `INSERT INTO translation_updates (date, version, reference, update_text)
		VALUES (?, ?, ?, ?)`, toMillis(u.Date), u.Version, u.Reference, u.UpdateText)
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("update at %s: %w", u.Date, ErrDuplicate)
		}
		return fmt.Errorf("failed to append update: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) ListUpdates(ctx context.Context, limit, offset int) ([]*models.TranslationUpdate, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := ss.db.QueryContext(ctx, `SELECT date, version, reference, update_text FROM translation_updates
		ORDER BY date DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	out := []*models.TranslationUpdate{}
	for rows.Next() {
		var (
			u    models.TranslationUpdate
			date int64
		)
		if err := rows.Scan(&date, &u.Version, &u.Reference, &u.UpdateText); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		u.Date = fromMillis(date)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (ss *SQLiteStorage) CountUpdates(ctx context.Context) (int, error) {
	var n int
	if err := ss.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translation_updates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return n, nil
}

func (ss *SQLiteStorage) ListUpdatesBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.TranslationUpdate, error) {
	from, to = rangeBounds(from, to)
	// LIMIT -1 is no limit.
	if limit <= 0 {
		limit = -1
	}
	rows, err := ss.db.QueryContext(ctx, `SELECT date, version, reference, update_text FROM translation_updates
		WHERE date >= ? AND date < ?
		ORDER BY date DESC LIMIT ? OFFSET ?`, toMillis(from), toMillis(to), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	out := []*models.TranslationUpdate{}
	for rows.Next() {
		var (
			u    models.TranslationUpdate
			date int64
		)
		if err := rows.Scan(&date, &u.Version, &u.Reference, &u.UpdateText); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		u.Date = fromMillis(date)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (ss *SQLiteStorage) CountUpdatesBetween(ctx context.Context, from, to time.Time) (int, error) {
	from, to = rangeBounds(from, to)
	var n int
	err := ss.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translation_updates WHERE date >= ? AND date < ?`,
		toMillis(from), toMillis(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return n, nil
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
