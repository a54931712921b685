package domain

import "time"

// User is an account record. Each user owns exactly one tenant partition;
// the dispatcher enumerates tenants from the user store every tick.
type User struct {
	ID        string    `db:"id"         json:"id"`
	TenantID  string    `db:"tenant_id"  json:"tenant_id"`
	Username  string    `db:"username"   json:"username"`
	Email     *string   `db:"email"      json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
