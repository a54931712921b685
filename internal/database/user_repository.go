package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jonesrussell/gokb/internal/domain"
)

const userSelectList = `id, tenant_id, username, email, created_at`

// UserRepository manages the users table. It doubles as the tenant source
// for the dispatcher: the tenant set is enumerated fresh from it each tick.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user and returns the stored row.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (tenant_id, username, email)
		VALUES ($1, $2, $3)
		RETURNING ` + userSelectList

	created, err := scanUser(r.db.QueryRowContext(ctx, query,
		user.TenantID, user.Username, user.Email))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("create user: %w", domain.ErrDuplicate)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// GetByUsername returns a user by username, or domain.ErrNotFound.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userSelectList + ` FROM users WHERE username = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ListTenants returns every distinct tenant partition: provisioned accounts
// plus any tenant with queued work. The union keeps dispatch live for
// tenants that uploaded before being provisioned.
func (r *UserRepository) ListTenants(ctx context.Context) ([]string, error) {
	query := `
		SELECT tenant_id FROM users
		UNION
		SELECT tenant_id FROM jobs WHERE status = 'queued'
		ORDER BY tenant_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
