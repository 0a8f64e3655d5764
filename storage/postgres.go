package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"prism-board/domain"
)

const pgUniqueViolation = "23505"

// OpenPostgres opens a pooled connection through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Postgres stores each board as a JSONB document next to an integer version.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the boards table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS boards (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			document   JSONB NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS boards_project_id_idx ON boards (project_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure boards table: %w", err)
	}
	return nil
}

func (p *Postgres) LoadBoard(ctx context.Context, id string) (*domain.Board, error) {
	var (
		doc     []byte
		version int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT document, version FROM boards WHERE id = $1`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBoardNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", id, err)
	}
	var b domain.Board
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("decode board %s: %w", id, err)
	}
	b.Version = strconv.FormatInt(version, 10)
	return &b, nil
}

func (p *Postgres) SaveBoard(ctx context.Context, b *domain.Board) (string, error) {
	expected, err := strconv.ParseInt(b.Version, 10, 64)
	if err != nil {
		return "", fmt.Errorf("board %s has malformed version %q", b.ID, b.Version)
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	var next int64
	err = p.db.QueryRowContext(ctx, `
		UPDATE boards SET document = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING version
	`, b.ID, doc, expected).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the row is gone or someone else bumped the version.
		var exists bool
		if qerr := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM boards WHERE id = $1)`, b.ID).Scan(&exists); qerr != nil {
			return "", fmt.Errorf("check board %s: %w", b.ID, qerr)
		}
		if !exists {
			return "", fmt.Errorf("%w: %s", domain.ErrBoardNotFound, b.ID)
		}
		return "", fmt.Errorf("%w: board %s", domain.ErrConcurrentModification, b.ID)
	}
	if err != nil {
		return "", fmt.Errorf("save board %s: %w", b.ID, err)
	}
	return strconv.FormatInt(next, 10), nil
}

func (p *Postgres) CreateBoard(ctx context.Context, b *domain.Board) (string, error) {
	doc, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO boards (id, project_id, document, version) VALUES ($1, $2, $3, 1)
	`, b.ID, b.ProjectID, doc)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", fmt.Errorf("board %s already exists: %w", b.ID, err)
		}
		return "", fmt.Errorf("insert board %s: %w", b.ID, err)
	}
	return "1", nil
}

func (p *Postgres) DeleteBoard(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete board %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrBoardNotFound, id)
	}
	return nil
}
