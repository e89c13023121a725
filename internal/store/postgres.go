package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Lllllllleong/signagedisplay/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL,
	category    TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	subcategory TEXT,
	active      BOOLEAN NOT NULL DEFAULT FALSE,
	page_count  INTEGER NOT NULL DEFAULT 0,
	render_status TEXT NOT NULL DEFAULT '',
	render_error  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Open connects to Postgres through the pgx driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Postgres is a polled document source.
type Postgres struct {
	db       *sql.DB
	interval time.Duration
	logger   *slog.Logger
}

func NewPostgres(db *sql.DB, interval time.Duration, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Postgres{db: db, interval: interval, logger: logger.With("component", "store", "source", "postgres")}
}

// EnsureSchema creates the documents table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]models.Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, url, category, kind, COALESCE(subcategory, ''), active, page_count, created_at
		FROM documents
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (p *Postgres) Watch(ctx context.Context, fn func([]models.Document)) error {
	p.logger.Info("Polling documents.", "interval", p.interval.String())
	return poll(ctx, p.interval, p.List, fn, p.logger)
}

func (p *Postgres) FindByURL(ctx context.Context, url string) (*models.Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, url, category, kind, COALESCE(subcategory, ''), active, page_count, created_at
		FROM documents
		WHERE url=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, url)
	if err != nil {
		return nil, fmt.Errorf("find document by url: %w", err)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

func (p *Postgres) RecordRender(ctx context.Context, documentID string, pageCount int, status, errDetails string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE documents
		SET page_count=CASE WHEN $2 > 0 THEN $2 ELSE page_count END, render_status=$3, render_error=$4
		WHERE id=$1
	`, documentID, pageCount, status, errDetails)
	if err != nil {
		return fmt.Errorf("record render status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDocuments(rows rowScanner) ([]models.Document, error) {
	items := make([]models.Document, 0)
	for rows.Next() {
		var item models.Document
		var category string
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &category, &item.Kind, &item.Subcategory, &item.Active, &item.PageCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		item.Category = models.Category(category)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}
