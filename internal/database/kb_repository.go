package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/jonesrussell/gokb/internal/domain"
)

// kbSelectList is the column list for SELECT/RETURNING on kb_entries.
const kbSelectList = `id, tenant_id, file_id, title, summary, category, tags,
			metadata, created_at`

// KbRepository manages the kb_entries table.
type KbRepository struct {
	db *sql.DB
}

// NewKbRepository creates a new repository.
func NewKbRepository(db *sql.DB) *KbRepository {
	return &KbRepository{db: db}
}

// Create inserts a knowledge-base entry and returns the stored row. Entries
// are immutable once created.
func (r *KbRepository) Create(ctx context.Context, entry *domain.KbEntry) (*domain.KbEntry, error) {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO kb_entries (tenant_id, file_id, title, summary, category, tags, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + kbSelectList

	created, err := scanKbEntry(r.db.QueryRowContext(ctx, query,
		entry.TenantID, entry.FileID, entry.Title, entry.Summary,
		entry.Category, pq.Array(tags), nullableJSON(entry.Metadata),
	))
	if err != nil {
		return nil, fmt.Errorf("create kb entry: %w", err)
	}
	return created, nil
}

// List returns the tenant's entries, newest first. An empty category returns
// every entry.
func (r *KbRepository) List(ctx context.Context, tenantID string, category domain.Category) ([]domain.KbEntry, error) {
	query := `SELECT ` + kbSelectList + `
		FROM kb_entries
		WHERE tenant_id = $1 AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, string(category))
	if err != nil {
		return nil, fmt.Errorf("list kb entries: %w", err)
	}
	defer rows.Close()

	return scanKbEntries(rows)
}

// Search returns entries whose title or summary matches the query,
// case-insensitively, newest first.
func (r *KbRepository) Search(ctx context.Context, tenantID, query string) ([]domain.KbEntry, error) {
	pattern := "%" + query + "%"
	q := `SELECT ` + kbSelectList + `
		FROM kb_entries
		WHERE tenant_id = $1 AND (title ILIKE $2 OR summary ILIKE $2)
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, tenantID, pattern)
	if err != nil {
		return nil, fmt.Errorf("search kb entries: %w", err)
	}
	defer rows.Close()

	return scanKbEntries(rows)
}

// Count returns the tenant's entry count.
func (r *KbRepository) Count(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kb_entries WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count kb entries: %w", err)
	}
	return count, nil
}

func scanKbEntry(row rowScanner) (*domain.KbEntry, error) {
	var e domain.KbEntry
	var tags pq.StringArray
	var metadata []byte

	err := row.Scan(
		&e.ID, &e.TenantID, &e.FileID, &e.Title, &e.Summary, &e.Category,
		&tags, &metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Tags = tags
	e.Metadata = metadata
	return &e, nil
}

func scanKbEntries(rows *sql.Rows) ([]domain.KbEntry, error) {
	var entries []domain.KbEntry
	for rows.Next() {
		entry, err := scanKbEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kb entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
