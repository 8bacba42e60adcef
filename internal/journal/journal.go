// Package journal keeps a sqlite audit log of runs and publish attempts.
// It is write-only during a run and is never read back for deduplication
// or watermarks; the remote account history stays authoritative.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Post statuses.
const (
	StatusPosted = "posted"
	StatusFailed = "failed"
)

// Store is an open journal database.
type Store struct {
	db *sqlx.DB
}

// Destination is the recorded end state of one section in one run.
type Destination struct {
	RunID       string
	Section     string
	State       string
	Reason      string
	Watermark   time.Time
	FeedsOK     int
	FeedsFailed int
	Items       int
	RecordedAt  time.Time
}

// Post is one publish attempt.
type Post struct {
	ID          int64
	RunID       string
	Section     string
	Kind        string
	Fingerprint string
	Title       string
	Link        string
	Items       int
	Status      string
	Error       string
	RemoteID    string
	CreatedAt   time.Time
}

type postRow struct {
	ID          int64  `db:"id"`
	RunID       string `db:"run_id"`
	Section     string `db:"section"`
	Kind        string `db:"kind"`
	Fingerprint string `db:"fingerprint"`
	Title       string `db:"title"`
	Link        string `db:"link"`
	Items       int    `db:"items"`
	Status      string `db:"status"`
	Error       string `db:"error"`
	RemoteID    string `db:"remote_id"`
	CreatedAt   string `db:"created_at"`
}

// Open opens or creates the journal at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Destinations may record concurrently; one connection serializes writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records the beginning of a run.
func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time, dryRun bool) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not initialized")
	}
	if strings.TrimSpace(runID) == "" {
		return errors.New("run_id is required")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at, dry_run) VALUES (?, ?, ?)",
		runID, formatTime(startedAt), boolInt(dryRun),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stamps the end of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not initialized")
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ? WHERE id = ?",
		formatTime(finishedAt), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// RecordDestination stores how one section ended.
func (s *Store) RecordDestination(ctx context.Context, d Destination) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not initialized")
	}
	if d.Section == "" || d.State == "" {
		return errors.New("section and state are required")
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now()
	}

	watermark := ""
	if !d.Watermark.IsZero() {
		watermark = formatTime(d.Watermark)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destinations (
			run_id, section, state, reason, watermark, feeds_ok, feeds_failed, items, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.RunID,
		d.Section,
		d.State,
		d.Reason,
		watermark,
		d.FeedsOK,
		d.FeedsFailed,
		d.Items,
		formatTime(d.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("record destination: %w", err)
	}
	return nil
}

// RecordPost stores one publish attempt.
func (s *Store) RecordPost(ctx context.Context, p Post) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not initialized")
	}
	if p.Section == "" || p.Kind == "" || p.Status == "" {
		return errors.New("section, kind and status are required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (
			run_id, section, kind, fingerprint, title, link, items, status, error, remote_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.RunID,
		p.Section,
		p.Kind,
		p.Fingerprint,
		p.Title,
		p.Link,
		p.Items,
		p.Status,
		p.Error,
		p.RemoteID,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	return nil
}

// Filter narrows Recent.
type Filter struct {
	Section string
	Status  string
	Limit   int
}

// Recent returns publish attempts, newest first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Post, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not initialized")
	}

	query := `
		SELECT id, run_id, section, kind, fingerprint, title, link, items, status, error, remote_id, created_at
		FROM posts
		WHERE 1 = 1`
	var args []any
	if f.Section != "" {
		query += " AND section = ?"
		args = append(args, f.Section)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []postRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}

	posts := make([]Post, 0, len(rows))
	for _, r := range rows {
		createdAt, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		posts = append(posts, Post{
			ID:          r.ID,
			RunID:       r.RunID,
			Section:     r.Section,
			Kind:        r.Kind,
			Fingerprint: r.Fingerprint,
			Title:       r.Title,
			Link:        r.Link,
			Items:       r.Items,
			Status:      r.Status,
			Error:       r.Error,
			RemoteID:    r.RemoteID,
			CreatedAt:   createdAt,
		})
	}
	return posts, nil
}

type destinationRow struct {
	RunID       string `db:"run_id"`
	Section     string `db:"section"`
	State       string `db:"state"`
	Reason      string `db:"reason"`
	Watermark   string `db:"watermark"`
	FeedsOK     int    `db:"feeds_ok"`
	FeedsFailed int    `db:"feeds_failed"`
	Items       int    `db:"items"`
	RecordedAt  string `db:"recorded_at"`
}

// RecentDestinations returns per-section run outcomes, newest first.
func (s *Store) RecentDestinations(ctx context.Context, f Filter) ([]Destination, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not initialized")
	}

	query := `
		SELECT run_id, section, state, reason, watermark, feeds_ok, feeds_failed, items, recorded_at
		FROM destinations
		WHERE 1 = 1`
	var args []any
	if f.Section != "" {
		query += " AND section = ?"
		args = append(args, f.Section)
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []destinationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("recent destinations: %w", err)
	}

	out := make([]Destination, 0, len(rows))
	for _, r := range rows {
		watermark, err := parseTime(r.Watermark)
		if err != nil {
			return nil, fmt.Errorf("parse watermark: %w", err)
		}
		recordedAt, err := parseTime(r.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, Destination{
			RunID:       r.RunID,
			Section:     r.Section,
			State:       r.State,
			Reason:      r.Reason,
			Watermark:   watermark,
			FeedsOK:     r.FeedsOK,
			FeedsFailed: r.FeedsFailed,
			Items:       r.Items,
			RecordedAt:  recordedAt,
		})
	}
	return out, nil
}

// SectionStats aggregates publish attempts for one section.
type SectionStats struct {
	Section  string
	Posted   int
	Failed   int
	Digests  int
	Items    int
	LastPost time.Time
}

type sectionStatsRow struct {
	Section  string `db:"section"`
	Posted   int    `db:"posted"`
	Failed   int    `db:"failed"`
	Digests  int    `db:"digests"`
	Items    int    `db:"items"`
	LastPost string `db:"last_post"`
}

// Stats returns per-section aggregates for attempts since the given time.
func (s *Store) Stats(ctx context.Context, since time.Time) ([]SectionStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not initialized")
	}

	var rows []sectionStatsRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT section,
			SUM(CASE WHEN status = 'posted' THEN 1 ELSE 0 END) AS posted,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
			SUM(CASE WHEN kind = 'digest' AND status = 'posted' THEN 1 ELSE 0 END) AS digests,
			SUM(CASE WHEN status = 'posted' THEN items ELSE 0 END) AS items,
			COALESCE(MAX(CASE WHEN status = 'posted' THEN created_at END), '') AS last_post
		FROM posts
		WHERE created_at >= ?
		GROUP BY section
		ORDER BY section
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("section stats: %w", err)
	}

	stats := make([]SectionStats, 0, len(rows))
	for _, r := range rows {
		last, err := parseTime(r.LastPost)
		if err != nil {
			return nil, fmt.Errorf("parse last_post: %w", err)
		}
		stats = append(stats, SectionStats{
			Section:  r.Section,
			Posted:   r.Posted,
			Failed:   r.Failed,
			Digests:  r.Digests,
			Items:    r.Items,
			LastPost: last,
		})
	}
	return stats, nil
}

// PruneOld deletes runs older than retainDays along with their records.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("journal is not initialized")
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))

	// Child rows cascade.
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
