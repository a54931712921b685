package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrInvalidMirrorEntry is returned when creating a mirror entry with
// invalid fields.
var ErrInvalidMirrorEntry = fmt.Errorf("invalid mirror entry")

// MirrorEntity identifies which table a mirror entry replicates.
type MirrorEntity string

const (
	MirrorEntityJob     MirrorEntity = "job"
	MirrorEntityFile    MirrorEntity = "file"
	MirrorEntityKbEntry MirrorEntity = "kb_entry"
)

// MirrorStatus represents the state of a mirror outbox entry.
type MirrorStatus string

const (
	MirrorStatusPending    MirrorStatus = "pending"
	MirrorStatusPublishing MirrorStatus = "publishing"
	MirrorStatusPublished  MirrorStatus = "published"
	MirrorStatusFailed     MirrorStatus = "failed"
)

// MirrorEntry is a state-change event awaiting replication to the external
// mirror store. The outbox decouples recording (in the request/worker path)
// from delivery (the mirror publisher), so delivery failures never fail the
// originating operation.
type MirrorEntry struct {
	ID           string          `db:"id"            json:"id"`
	Entity       MirrorEntity    `db:"entity"        json:"entity"`
	EntityID     string          `db:"entity_id"     json:"entity_id"`
	TenantID     string          `db:"tenant_id"     json:"tenant_id"`
	Payload      json.RawMessage `db:"payload"       json:"payload"`
	Status       MirrorStatus    `db:"status"        json:"status"`
	RetryCount   int             `db:"retry_count"   json:"retry_count"`
	MaxRetries   int             `db:"max_retries"   json:"max_retries"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	NextRetryAt  *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
	PublishedAt  *time.Time      `db:"published_at"  json:"published_at,omitempty"`
}

// Channel returns the Redis channel this entry is published to.
func (m *MirrorEntry) Channel() string {
	switch m.Entity {
	case MirrorEntityJob:
		return "mirror:jobs"
	case MirrorEntityFile:
		return "mirror:files"
	case MirrorEntityKbEntry:
		return "mirror:kb"
	default:
		return "mirror:other"
	}
}

// IsExhausted reports whether all delivery retries have been used up.
func (m *MirrorEntry) IsExhausted() bool {
	return m.RetryCount >= m.MaxRetries
}

const defaultMirrorMaxRetries = 5

// NewMirrorEntry creates a pending mirror entry with validation.
func NewMirrorEntry(entity MirrorEntity, entityID, tenantID string, payload json.RawMessage) (*MirrorEntry, error) {
	if entity == "" {
		return nil, fmt.Errorf("%w: entity is required", ErrInvalidMirrorEntry)
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrInvalidMirrorEntry)
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidMirrorEntry)
	}

	now := time.Now().UTC()
	return &MirrorEntry{
		Entity:     entity,
		EntityID:   entityID,
		TenantID:   tenantID,
		Payload:    payload,
		Status:     MirrorStatusPending,
		MaxRetries: defaultMirrorMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// MirrorStats holds outbox statistics for monitoring.
type MirrorStats struct {
	Pending         int64 `json:"pending"`
	Publishing      int64 `json:"publishing"`
	Published       int64 `json:"published"`
	FailedRetryable int64 `json:"failed_retryable"`
	FailedExhausted int64 `json:"failed_exhausted"`
}
