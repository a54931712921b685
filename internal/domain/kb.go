package domain

import (
	"encoding/json"
	"time"
)

// Category is the fixed taxonomy for knowledge-base entries.
type Category string

const (
	CategoryCode          Category = "Code"
	CategoryDocumentation Category = "Documentation"
	CategoryData          Category = "Data"
	CategoryImage         Category = "Image"
	CategoryDocument      Category = "Document"
	CategorySpreadsheet   Category = "Spreadsheet"
	CategoryPresentation  Category = "Presentation"
	CategoryArchive       Category = "Archive"
	CategoryOther         Category = "Other"
)

// Categories lists every valid category, in taxonomy order.
var Categories = []Category{
	CategoryCode,
	CategoryDocumentation,
	CategoryData,
	CategoryImage,
	CategoryDocument,
	CategorySpreadsheet,
	CategoryPresentation,
	CategoryArchive,
	CategoryOther,
}

// NormalizeCategory maps a free-text category to the taxonomy, falling back
// to Other for anything unrecognized. AI providers occasionally invent
// labels; the taxonomy is closed.
func NormalizeCategory(s string) Category {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryOther
}

// KbEntry is a derived knowledge-base record, created exactly once per
// successfully analyzed file and immutable thereafter.
type KbEntry struct {
	ID        string          `db:"id"         json:"id"`
	TenantID  string          `db:"tenant_id"  json:"tenant_id"`
	FileID    string          `db:"file_id"    json:"file_id"`
	Title     string          `db:"title"      json:"title"`
	Summary   string          `db:"summary"    json:"summary"`
	Category  Category        `db:"category"   json:"category"`
	Tags      []string        `db:"tags"       json:"tags"`
	Metadata  json.RawMessage `db:"metadata"   json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Analysis is the structured result returned by the AI analyzer collaborator.
type Analysis struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}
