package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

const (
	CollectionReview       = "reviewlogs"
	CollectionNonViolation = "nonviolationlogs"
	CollectionSchedule     = "managements"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNotFound          = errors.New("not found")
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	UpsertEvent(ctx context.Context, collection string, ev model.DetectionEvent) error
	ListEvents(ctx context.Context, collection string, limit int) ([]model.DetectionEvent, error)
	ListExemptions(ctx context.Context) ([]model.ExemptionDoc, error)
	SaveExemption(ctx context.Context, doc model.ExemptionDoc) error
	DeleteExemption(ctx context.Context, id string) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

// CollectionFor returns the event collection a confirmation of this kind is written to.
func CollectionFor(kind model.Kind) string {
	if kind == model.KindViolation {
		return CollectionReview
	}
	return CollectionNonViolation
}

// eventTable validates a collection name before it is spliced into SQL.
func eventTable(collection string) (string, error) {
	switch collection {
	case CollectionReview, CollectionNonViolation:
		return collection, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Ping(ctx context.Context) error {
	if b.db == nil {
		return errors.New("store not open")
	}
	return b.db.PingContext(ctx)
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]model.DetectionEvent, error) {
	defer rows.Close()
	var out []model.DetectionEvent
	for rows.Next() {
		var ev model.DetectionEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.CameraID, &ev.Date, &ev.Time, &ev.ClassLabel, &kind,
			&ev.ConfidencePct, &ev.FrameURL, &ev.Status); err != nil {
			return nil, err
		}
		ev.Kind = model.Kind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanExemptions(rows *sql.Rows) ([]model.ExemptionDoc, error) {
	defer rows.Close()
	var out []model.ExemptionDoc
	for rows.Next() {
		var doc model.ExemptionDoc
		if err := rows.Scan(&doc.ID, &doc.Status, &doc.DressCode, &doc.StartDate, &doc.EndDate); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
