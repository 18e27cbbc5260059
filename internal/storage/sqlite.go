package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"dresswatch/internal/model"
)

// sqliteTime is fixed width so created_at orders lexicographically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:dresswatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Dispatch workers write concurrently; serialize them on one connection.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	var stmts []string
	for _, table := range []string{CollectionReview, CollectionNonViolation} {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+table+` (
				event_id TEXT PRIMARY KEY,
				camera_id TEXT NOT NULL,
				date TEXT NOT NULL,
				time TEXT NOT NULL,
				class_label TEXT NOT NULL,
				kind TEXT NOT NULL,
				confidence_pct REAL NOT NULL,
				frame_url TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+table+`_created ON `+table+`(created_at)`,
		)
	}
	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS `+CollectionSchedule+` (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		dress_code TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	return s.exec(ctx, stmts)
}

func (s *sqliteStore) UpsertEvent(ctx context.Context, collection string, ev model.DetectionEvent) error {
	table, err := eventTable(collection)
	if err != nil {
		return err
	}
	if s.db == nil {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (event_id, camera_id, date, time, class_label, kind, confidence_pct, frame_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			camera_id = excluded.camera_id,
			date = excluded.date,
			time = excluded.time,
			class_label = excluded.class_label,
			kind = excluded.kind,
			confidence_pct = excluded.confidence_pct,
			frame_url = excluded.frame_url,
			status = excluded.status`,
		ev.ID,
		ev.CameraID,
		ev.Date,
		ev.Time,
		ev.ClassLabel,
		string(ev.Kind),
		ev.ConfidencePct,
		ev.FrameURL,
		ev.Status,
		nowUTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (s *sqliteStore) ListEvents(ctx context.Context, collection string, limit int) ([]model.DetectionEvent, error) {
	table, err := eventTable(collection)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, camera_id, date, time, class_label, kind, confidence_pct, frame_url, status
		FROM `+table+` ORDER BY created_at DESC, event_id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *sqliteStore) ListExemptions(ctx context.Context) ([]model.ExemptionDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, dress_code, start_date, end_date FROM `+CollectionSchedule+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanExemptions(rows)
}

func (s *sqliteStore) SaveExemption(ctx context.Context, doc model.ExemptionDoc) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+CollectionSchedule+` (id, status, dress_code, start_date, end_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			dress_code = excluded.dress_code,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Status, doc.DressCode, doc.StartDate, doc.EndDate, nowUTC().Format(sqliteTime),
	)
	return err
}

func (s *sqliteStore) DeleteExemption(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+CollectionSchedule+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("exemption %q: %w", id, ErrNotFound)
	}
	return nil
}
