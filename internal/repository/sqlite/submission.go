package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/repository"
)

var _ repository.SubmissionRepository = (*DB)(nil)

const submissionColumns = `s.id, s.title, s.genre, s.bpm, s.key, s.description, s.files,
	s.status, s.rating, s.feedback, s.userid, s.created_at, s.updated_at`

// CreateSubmission inserts s and fills in ID and timestamps.
// Files are stored as a JSON array of URLs.
func (db *DB) CreateSubmission(ctx context.Context, s *model.Submission) error {
	now := time.Now().UTC()
	s.ID = xid.New().String()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Files == nil {
		s.Files = []string{}
	}

	files, err := json.Marshal(s.Files)
	if err != nil {
		return fmt.Errorf("sqlite: encoding files: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO submissions (id, title, genre, bpm, key, description, files,
			status, rating, feedback, userid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Title, s.Genre, s.BPM, s.Key, s.Description, string(files),
		s.Status, nullInt(s.Rating), nullString(s.Feedback), s.UserID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating submission: %w", err)
	}
	return nil
}

// ListSubmissions returns the rows matching filter, newest first.
func (db *DB) ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	where, args := filterClause(filter)
	return db.querySubmissions(ctx, false,
		`SELECT `+submissionColumns+` FROM submissions s`+where+` ORDER BY s.created_at DESC, s.id DESC`,
		args...)
}

// ListSubmissionsWithOwner joins each row with its owner's id and name.
// A submission whose owner row has gone missing still appears, with Owner nil.
func (db *DB) ListSubmissionsWithOwner(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	where, args := filterClause(filter)
	return db.querySubmissions(ctx, true,
		`SELECT `+submissionColumns+`, u.id, u.name
		 FROM submissions s LEFT JOIN users u ON u.id = s.userid`+where+
			` ORDER BY s.created_at DESC, s.id DESC`,
		args...)
}

// UpdateSubmission runs apply against the matching row inside a transaction.
// filter.ID is required; filter.UserID narrows the match to one owner.
func (db *DB) UpdateSubmission(ctx context.Context, filter model.SubmissionFilter,
	apply func(*model.Submission) error) (*model.Submission, *model.Submission, error) {
	if filter.ID == "" {
		return nil, nil, apperror.ValidationFailed("id", "submission id is required")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	where, args := filterClause(filter)
	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions s`+where, args...)
	before, err := scanSubmission(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apperror.NotFound("submission", filter.ID)
		}
		return nil, nil, fmt.Errorf("sqlite: loading submission %s: %w", filter.ID, err)
	}

	after := cloneSubmission(before)
	if err := apply(after); err != nil {
		return nil, nil, err
	}
	after.UpdatedAt = time.Now().UTC()

	files, err := json.Marshal(after.Files)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: encoding files: %w", err)
	}

	// id, userid and created_at are immutable.
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions
		 SET title = ?, genre = ?, bpm = ?, key = ?, description = ?, files = ?,
			status = ?, rating = ?, feedback = ?, updated_at = ?
		 WHERE id = ?`,
		after.Title, after.Genre, after.BPM, after.Key, after.Description, string(files),
		after.Status, nullInt(after.Rating), nullString(after.Feedback), after.UpdatedAt,
		before.ID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: updating submission %s: %w", before.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("sqlite: committing submission %s: %w", before.ID, err)
	}
	return before, after, nil
}

func (db *DB) querySubmissions(ctx context.Context, withOwner bool, query string, args ...any) ([]model.Submission, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing submissions: %w", err)
	}
	defer rows.Close()

	out := []model.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows, withOwner)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning submission row: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating submissions: %w", err)
	}
	return out, nil
}

// filterClause turns the non-empty filter fields into a WHERE clause.
// Column names are fixed strings; only values are bound.
func filterClause(f model.SubmissionFilter) (string, []any) {
	var conds []string
	var args []any
	if f.ID != "" {
		conds = append(conds, "s.id = ?")
		args = append(args, f.ID)
	}
	if f.UserID != "" {
		conds = append(conds, "s.userid = ?")
		args = append(args, f.UserID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanSubmission(sc scanner, withOwner bool) (*model.Submission, error) {
	var (
		s        model.Submission
		files    string
		rating   sql.NullInt64
		feedback sql.NullString
		ownerID  sql.NullString
		owner    sql.NullString
	)
	dest := []any{&s.ID, &s.Title, &s.Genre, &s.BPM, &s.Key, &s.Description, &files,
		&s.Status, &rating, &feedback, &s.UserID, &s.CreatedAt, &s.UpdatedAt}
	if withOwner {
		dest = append(dest, &ownerID, &owner)
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(files), &s.Files); err != nil {
		return nil, fmt.Errorf("decoding files of %s: %w", s.ID, err)
	}
	if s.Files == nil {
		s.Files = []string{}
	}
	if rating.Valid {
		r := int(rating.Int64)
		s.Rating = &r
	}
	if feedback.Valid {
		f := feedback.String
		s.Feedback = &f
	}
	if withOwner && ownerID.Valid {
		s.Owner = &model.Owner{ID: ownerID.String, Name: owner.String}
	}
	return &s, nil
}

func cloneSubmission(s *model.Submission) *model.Submission {
	c := *s
	c.Files = append([]string(nil), s.Files...)
	if s.Rating != nil {
		r := *s.Rating
		c.Rating = &r
	}
	if s.Feedback != nil {
		f := *s.Feedback
		c.Feedback = &f
	}
	return &c
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
