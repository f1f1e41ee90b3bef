package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sarkari-pulse/models"
	"sarkari-pulse/normalizer"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a scheme does not exist
	ErrNotFound = errors.New("scheme not found")
	// ErrEmptyName is returned when upserting a record without a name
	ErrEmptyName = errors.New("scheme name is empty")
)

// UpsertOp tells which branch an upsert took
type UpsertOp string

const (
	OpInserted UpsertOp = "inserted"
	OpUpdated  UpsertOp = "updated"
)

// UpsertResult is the outcome of UpsertScheme
type UpsertResult struct {
	Op UpsertOp
	ID int64
}

// SchemeFilter selects schemes for ListSchemes
type SchemeFilter struct {
	Page       int
	Limit      int
	Search     string
	Level      string
	State      string
	Source     string
	ActiveOnly bool
}

const schemeColumns = `id, scheme_id, scheme_id_generated, name, description, ministry, department,
	target_audience, sector, tags, level, beneficiary_state, launch_date, source, source_url,
	scraped_at, is_active, created_at, updated_at`

// UpsertScheme inserts rec or updates the stored scheme it matches.
// A scheme matches by scheme_id when rec carries a real one, otherwise by
// its normalized name. On update created_at is kept, and a stored real
// scheme_id is never replaced by a placeholder.
func (db *DB) UpsertScheme(ctx context.Context, rec models.SchemeRecord) (UpsertResult, error) {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return UpsertResult{}, ErrEmptyName
	}
	key := normalizer.Key(name)

	schemeID := strings.TrimSpace(rec.SchemeID)
	generated := rec.GeneratedID || schemeID == "" || normalizer.IsGeneratedID(schemeID)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	var existingSchemeID string
	var existingGenerated bool
	found := false

	if !generated {
		err = tx.QueryRowContext(ctx, db.rebind(`
			SELECT id, scheme_id, scheme_id_generated FROM schemes WHERE scheme_id = ?
		`), schemeID).Scan(&existingID, &existingSchemeID, &existingGenerated)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, sql.ErrNoRows):
			return UpsertResult{}, fmt.Errorf("failed to look up scheme by id %q: %w", schemeID, err)
		}
	}

	if !found {
		err = tx.QueryRowContext(ctx, db.rebind(`
			SELECT id, scheme_id, scheme_id_generated FROM schemes WHERE name_key = ?
		`), key).Scan(&existingID, &existingSchemeID, &existingGenerated)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, sql.ErrNoRows):
			return UpsertResult{}, fmt.Errorf("failed to look up scheme by name %q: %w", name, err)
		}
	}

	if generated {
		switch {
		case found:
			schemeID, generated = existingSchemeID, existingGenerated
		case schemeID == "":
			schemeID = "gen-" + uuid.NewString()
		}
	}

	now := db.timestamp()
	var result UpsertResult

	if found {
		_, err = tx.ExecContext(ctx, db.rebind(`
			UPDATE schemes SET
				scheme_id = ?, scheme_id_generated = ?, name = ?, name_key = ?, description = ?,
				ministry = ?, department = ?, target_audience = ?, sector = ?, tags = ?, level = ?,
				beneficiary_state = ?, launch_date = ?, source = ?, source_url = ?, scraped_at = ?,
				is_active = ?, updated_at = ?
			WHERE id = ?
		`),
			schemeID, generated, name, key, rec.Description,
			rec.Ministry, rec.Department, rec.TargetAudience, rec.Sector, rec.Tags, rec.Level,
			beneficiaryState(rec), nullTime(rec.LaunchDate), rec.Source, rec.SourceURL, nullTime(rec.ScrapedAt),
			rec.IsActive, now,
			existingID,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to update scheme %q (id=%d): %w", name, existingID, err)
		}
		result = UpsertResult{Op: OpUpdated, ID: existingID}
	} else {
		var id int64
		err = tx.QueryRowContext(ctx, db.rebind(`
			INSERT INTO schemes (
				scheme_id, scheme_id_generated, name, name_key, description,
				ministry, department, target_audience, sector, tags, level,
				beneficiary_state, launch_date, source, source_url, scraped_at,
				is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`),
			schemeID, generated, name, key, rec.Description,
			rec.Ministry, rec.Department, rec.TargetAudience, rec.Sector, rec.Tags, rec.Level,
			beneficiaryState(rec), nullTime(rec.LaunchDate), rec.Source, rec.SourceURL, nullTime(rec.ScrapedAt),
			true, now, now,
		).Scan(&id)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to insert scheme %q: %w", name, err)
		}
		result = UpsertResult{Op: OpInserted, ID: id}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// GetScheme retrieves a scheme by its row id
func (db *DB) GetScheme(ctx context.Context, id int64) (*models.SchemeRecord, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+schemeColumns+` FROM schemes WHERE id = ?`), id)
	rec, err := scanScheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheme %d: %w", id, err)
	}
	return rec, nil
}

// GetSchemeByName retrieves a scheme by its normalized name
func (db *DB) GetSchemeByName(ctx context.Context, name string) (*models.SchemeRecord, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+schemeColumns+` FROM schemes WHERE name_key = ?`), normalizer.Key(name))
	rec, err := scanScheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheme %q: %w", name, err)
	}
	return rec, nil
}

// ListSchemes returns one page of schemes matching f, newest first, and
// the total number of matches
func (db *DB) ListSchemes(ctx context.Context, f SchemeFilter) ([]models.SchemeRecord, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}

	where := []string{"1 = 1"}
	args := []any{}

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		where = append(where, `(name_key LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(ministry) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if f.Level != "" {
		where = append(where, "level = ?")
		args = append(args, f.Level)
	}
	if f.State != "" {
		where = append(where, `(LOWER(beneficiary_state) LIKE ? ESCAPE '\' OR beneficiary_state = ?)`)
		args = append(args, "%"+escapeLike(strings.ToLower(f.State))+"%", models.DefaultBeneficiaryState)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM schemes WHERE `+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count schemes: %w", err)
	}

	query := `SELECT ` + schemeColumns + ` FROM schemes WHERE ` + clause + ` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list schemes: %w", err)
	}
	defer rows.Close()

	schemes := []models.SchemeRecord{}
	for rows.Next() {
		rec, err := scanScheme(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan scheme: %w", err)
		}
		schemes = append(schemes, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate schemes: %w", err)
	}
	return schemes, total, nil
}

// CountSchemes returns the number of stored schemes
func (db *DB) CountSchemes(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schemes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count schemes: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheme(row rowScanner) (*models.SchemeRecord, error) {
	var rec models.SchemeRecord
	var launchDate, scrapedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.SchemeID, &rec.GeneratedID, &rec.Name, &rec.Description, &rec.Ministry, &rec.Department,
		&rec.TargetAudience, &rec.Sector, &rec.Tags, &rec.Level, &rec.BeneficiaryState, &launchDate, &rec.Source, &rec.SourceURL,
		&scrapedAt, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.LaunchDate = timePtr(launchDate)
	rec.ScrapedAt = timePtr(scrapedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func beneficiaryState(rec models.SchemeRecord) string {
	if strings.TrimSpace(rec.BeneficiaryState) == "" {
		return models.DefaultBeneficiaryState
	}
	return rec.BeneficiaryState
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC().Truncate(time.Microsecond), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// escapeLike escapes LIKE wildcards so user input matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
