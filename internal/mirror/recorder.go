// Package mirror replicates state changes to the external mirror store.
//
// Recording appends a change event to the mirror_outbox table; a background
// publisher drains the table and delivers events over Redis Pub/Sub. The
// mirror is best-effort from the caller's point of view: recording failures
// are logged and never fail the originating operation, while delivery
// failures are retried by the publisher.
package mirror

import (
	"context"
	"encoding/json"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
)

// OutboxAppender appends mirror entries; implemented by
// database.MirrorRepository.
type OutboxAppender interface {
	Append(ctx context.Context, entry *domain.MirrorEntry) error
}

// Recorder appends state-change events to the mirror outbox.
type Recorder struct {
	outbox  OutboxAppender
	logger  logger.Logger
	enabled bool
}

// NewRecorder creates a recorder. When enabled is false every Record call is
// a no-op.
func NewRecorder(outbox OutboxAppender, enabled bool, log logger.Logger) *Recorder {
	return &Recorder{outbox: outbox, logger: log, enabled: enabled}
}

// RecordJob mirrors a job state change.
func (r *Recorder) RecordJob(ctx context.Context, job *domain.Job) {
	r.record(ctx, domain.MirrorEntityJob, job.ID, job.TenantID, job)
}

// RecordFile mirrors a file state change.
func (r *Recorder) RecordFile(ctx context.Context, file *domain.File) {
	r.record(ctx, domain.MirrorEntityFile, file.ID, file.TenantID, file)
}

// RecordKbEntry mirrors a knowledge-base entry creation.
func (r *Recorder) RecordKbEntry(ctx context.Context, entry *domain.KbEntry) {
	r.record(ctx, domain.MirrorEntityKbEntry, entry.ID, entry.TenantID, entry)
}

func (r *Recorder) record(ctx context.Context, entity domain.MirrorEntity, entityID, tenantID string, payload any) {
	if !r.enabled {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal mirror payload",
			logger.String("entity", string(entity)),
			logger.String("entity_id", entityID),
			logger.Error(err))
		return
	}

	entry, err := domain.NewMirrorEntry(entity, entityID, tenantID, raw)
	if err != nil {
		r.logger.Error("failed to build mirror entry",
			logger.String("entity", string(entity)),
			logger.String("entity_id", entityID),
			logger.Error(err))
		return
	}

	if err := r.outbox.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append mirror entry",
			logger.String("entity", string(entity)),
			logger.String("entity_id", entityID),
			logger.Error(err))
	}
}
