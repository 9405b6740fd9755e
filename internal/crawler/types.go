package crawler

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata holds the refreshable fields of an item record. Nil means unknown.
type Metadata struct {
	Name        *string    `db:"name" json:"name,omitempty"`
	Description *string    `db:"description" json:"description,omitempty"`
	Version     *string    `db:"version" json:"version,omitempty"`
	Author      *string    `db:"author" json:"author,omitempty"`
	URL         *string    `db:"url" json:"url,omitempty"`
	Repository  *string    `db:"repository" json:"repository,omitempty"`
	License     *string    `db:"license" json:"license,omitempty"`
	Downloads   *int64     `db:"downloads" json:"downloads,omitempty"`
	Installs    *int64     `db:"installs" json:"installs,omitempty"`
	LastUpdated *time.Time `db:"last_updated" json:"last_updated,omitempty"`
	Categories  StringList `db:"categories" json:"categories,omitempty"`
	Tags        StringList `db:"tags" json:"tags,omitempty"`
	Rating      *float64   `db:"rating" json:"rating,omitempty"`
}

// Record is the persisted item, keyed by Identifier.
type Record struct {
	ID         int64  `db:"id" json:"id"`
	Identifier string `db:"identifier" json:"identifier"`
	Metadata
	LocalPath *string   `db:"local_path" json:"local_path,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Archived reports whether the record already points at an archive folder.
func (r Record) Archived() bool {
	return r.LocalPath != nil && *r.LocalPath != ""
}

// DisplayName returns the item name, falling back to the identifier.
func (r Record) DisplayName() string {
	if r.Name != nil && *r.Name != "" {
		return *r.Name
	}
	return r.Identifier
}

// StringList is an ordered list stored as JSON text, or NULL when empty.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*l = out
	return nil
}

// ItemFields is the raw observation produced by the metadata extractor.
type ItemFields struct {
	Identifier  string
	URL         string
	Name        string
	Description string
	Version     string
	Author      string
	Repository  string
	License     string
	Downloads   *int64
	Installs    *int64
	LastUpdated string
	Categories  []string
	Tags        []string
	Rating      *float64
}

// Outcome describes how an archive request finished.
type Outcome int

// Archive outcomes.
const (
	OutcomeNone Outcome = iota
	OutcomeArchived
	OutcomeAlreadyArchived
)

func (o Outcome) String() string {
	switch o {
	case OutcomeArchived:
		return "archived"
	case OutcomeAlreadyArchived:
		return "already_archived"
	default:
		return "none"
	}
}

// Failure is a permanently failed archive item for the current run.
type Failure struct {
	URL string
	Err string
}

// BatchSummary aggregates the archive phase results.
type BatchSummary struct {
	Total           int
	Archived        int
	AlreadyArchived int
	Skipped         int
	Failed          []Failure
	Elapsed         time.Duration
}

// Processed returns how many items reached a terminal state.
func (s BatchSummary) Processed() int {
	return s.Archived + s.AlreadyArchived + s.Skipped + len(s.Failed)
}

// ArchivedEvent is published after a new archive folder is written.
type ArchivedEvent struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	LocalPath  string    `json:"local_path"`
	ArchivedAt time.Time `json:"archived_at"`

	// ContentSHA256 is empty when no Hasher is configured.
	ContentSHA256 string `json:"content_sha256,omitempty"`
}
