package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

// Extractor loads one item page and evaluates the field map against it.
type Extractor struct {
	store    RecordStore
	sessions SessionManager
	nav      *Navigator
	ids      IdentifierParser
	fields   []FieldSpec
	logger   *zap.Logger
}

// NewExtractor builds an Extractor. nav is used as given; discovery passes a
// single-attempt navigator.
func NewExtractor(
	store RecordStore,
	sessions SessionManager,
	nav *Navigator,
	ids IdentifierParser,
	fields []FieldSpec,
	logger *zap.Logger,
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		fields = DefaultFieldMap()
	}
	return &Extractor{
		store:    store,
		sessions: sessions,
		nav:      nav,
		ids:      ids,
		fields:   fields,
		logger:   logger.Named("extractor"),
	}
}

// Extract returns the item fields for rawURL. The boolean is false when the
// item is skipped: no identifier in the URL, or already stored.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (ItemFields, bool, error) {
	identifier, err := e.ids.Parse(rawURL)
	if err != nil {
		e.logger.Warn("skipping url without identifier", zap.String("url", rawURL))
		metrics.ObserveItem("extract", "missing_identifier")
		return ItemFields{}, false, nil
	}
	log := e.logger.With(zap.String("url", rawURL), zap.String("identifier", identifier))

	switch _, err := e.store.FindByIdentifier(ctx, identifier); {
	case err == nil:
		log.Debug("item already stored")
		metrics.ObserveItem("extract", "known")
		return ItemFields{}, false, nil
	case !errors.Is(err, ErrRecordNotFound):
		return ItemFields{}, false, fmt.Errorf("lookup %s: %w", identifier, err)
	}

	s, err := e.sessions.Acquire(ctx)
	if err != nil {
		return ItemFields{}, false, fmt.Errorf("acquire session: %w", err)
	}
	defer e.sessions.Release(s)

	if err := e.nav.Navigate(ctx, s, rawURL); err != nil {
		metrics.ObserveItem("extract", "failed")
		return ItemFields{}, false, err
	}
	html, err := s.HTML(ctx)
	if err != nil {
		metrics.ObserveItem("extract", "failed")
		return ItemFields{}, false, fmt.Errorf("read item html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ItemFields{}, false, fmt.Errorf("parse item html: %w", err)
	}
	base, _ := url.Parse(rawURL)
	fields := itemFieldsFrom(identifier, rawURL, EvaluateFields(doc, base, e.fields))
	metrics.ObserveItem("extract", "success")
	log.Debug("extracted item", zap.String("name", fields.Name))
	return fields, true, nil
}
