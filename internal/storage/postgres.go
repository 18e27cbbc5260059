package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dresswatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/dresswatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
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
				confidence_pct DOUBLE PRECISION NOT NULL,
				frame_url TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
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
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	return s.exec(ctx, stmts)
}

func (s *postgresStore) UpsertEvent(ctx context.Context, collection string, ev model.DetectionEvent) error {
	table, err := eventTable(collection)
	if err != nil {
		return err
	}
	if s.db == nil {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (event_id, camera_id, date, time, class_label, kind, confidence_pct, frame_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO UPDATE SET
			camera_id = EXCLUDED.camera_id,
			date = EXCLUDED.date,
			time = EXCLUDED.time,
			class_label = EXCLUDED.class_label,
			kind = EXCLUDED.kind,
			confidence_pct = EXCLUDED.confidence_pct,
			frame_url = EXCLUDED.frame_url,
			status = EXCLUDED.status`,
		ev.ID,
		ev.CameraID,
		ev.Date,
		ev.Time,
		ev.ClassLabel,
		string(ev.Kind),
		ev.ConfidencePct,
		ev.FrameURL,
		ev.Status,
		nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (s *postgresStore) ListEvents(ctx context.Context, collection string, limit int) ([]model.DetectionEvent, error) {
	table, err := eventTable(collection)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, camera_id, date, time, class_label, kind, confidence_pct, frame_url, status
		FROM `+table+` ORDER BY created_at DESC, event_id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *postgresStore) ListExemptions(ctx context.Context) ([]model.ExemptionDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, dress_code, start_date, end_date FROM `+CollectionSchedule+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanExemptions(rows)
}

func (s *postgresStore) SaveExemption(ctx context.Context, doc model.ExemptionDoc) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+CollectionSchedule+` (id, status, dress_code, start_date, end_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			dress_code = EXCLUDED.dress_code,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Status, doc.DressCode, doc.StartDate, doc.EndDate, nowUTC(),
	)
	return err
}

func (s *postgresStore) DeleteExemption(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+CollectionSchedule+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("exemption %q: %w", id, ErrNotFound)
	}
	return nil
}
