package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

// Upserter writes extracted items, one record per identifier.
type Upserter struct {
	store  RecordStore
	logger *zap.Logger
}

// NewUpserter builds an Upserter.
func NewUpserter(store RecordStore, logger *zap.Logger) *Upserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upserter{store: store, logger: logger.Named("upserter")}
}

// Upsert creates the record on first sight and otherwise overwrites its
// metadata. local_path is never touched. Failures are logged and returned
// with a nil record.
func (u *Upserter) Upsert(ctx context.Context, fields ItemFields) (*Record, error) {
	if fields.Identifier == "" {
		u.logger.Error("refusing to store item without identifier", zap.String("url", fields.URL))
		metrics.ObserveItem("upsert", "missing_identifier")
		return nil, fmt.Errorf("upsert %s: %w", fields.URL, ErrMissingIdentifier)
	}
	log := u.logger.With(zap.String("identifier", fields.Identifier))
	meta := Normalize(fields)

	_, err := u.store.FindByIdentifier(ctx, fields.Identifier)
	var rec Record
	switch {
	case errors.Is(err, ErrRecordNotFound):
		rec, err = u.store.Create(ctx, fields.Identifier, meta)
		if err != nil {
			log.Error("create record", zap.Error(err))
			metrics.ObserveItem("upsert", "failed")
			return nil, fmt.Errorf("create %s: %w", fields.Identifier, err)
		}
		metrics.ObserveItem("upsert", "created")
		log.Info("stored new item", zap.Stringp("name", meta.Name))
	case err != nil:
		log.Error("find record", zap.Error(err))
		metrics.ObserveItem("upsert", "failed")
		return nil, fmt.Errorf("find %s: %w", fields.Identifier, err)
	default:
		rec, err = u.store.UpdateMetadata(ctx, fields.Identifier, meta)
		if err != nil {
			log.Error("update record", zap.Error(err))
			metrics.ObserveItem("upsert", "failed")
			return nil, fmt.Errorf("update %s: %w", fields.Identifier, err)
		}
		metrics.ObserveItem("upsert", "updated")
		log.Debug("refreshed item")
	}
	return &rec, nil
}

// Normalize converts raw fields to metadata: blank strings and empty lists
// become nil and unparseable dates become nil.
func Normalize(f ItemFields) Metadata {
	return Metadata{
		Name:        optString(f.Name),
		Description: optString(f.Description),
		Version:     optString(f.Version),
		Author:      optString(f.Author),
		URL:         optString(f.URL),
		Repository:  optString(f.Repository),
		License:     optString(f.License),
		Downloads:   nonNegative(f.Downloads),
		Installs:    nonNegative(f.Installs),
		LastUpdated: ParseDate(f.LastUpdated),
		Categories:  optList(f.Categories),
		Tags:        optList(f.Tags),
		Rating:      f.Rating,
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006, 3:04:05 PM",
	"1/2/2006, 3:04 PM",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseDate tries the known layouts and returns nil when none match.
func ParseDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optList(in []string) StringList {
	var out StringList
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func nonNegative(n *int64) *int64 {
	if n == nil || *n < 0 {
		return nil
	}
	v := *n
	return &v
}
