// Package domain contains the core domain models for the gokb service.
package domain

import "errors"

// ErrNotFound is returned when an entity does not exist in the store or
// belongs to a different tenant.
var ErrNotFound = errors.New("entity not found")

// ErrInvalidJob is returned when creating a job with invalid fields.
var ErrInvalidJob = errors.New("invalid job")

// ErrInvalidFile is returned when creating a file record with invalid fields.
var ErrInvalidFile = errors.New("invalid file")

// ErrInvalidMetadata is returned when a job's metadata payload is missing or
// does not match the schema for its kind.
var ErrInvalidMetadata = errors.New("invalid job metadata")

// ErrInvalidTransition is returned when a requested status change is not
// allowed from the job's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("entity already exists")
