package crawler

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

const tracerName = "github.com/JakeFAU/marketplace-archiver/internal/crawler"

// ArchiverOptions holds the optional mirror and notification sinks.
type ArchiverOptions struct {
	Mirror       BlobStore
	MirrorPrefix string
	Publisher    Publisher
	Topic        string
	Hasher       Hasher
}

// Archiver mirrors one item page into a folder under the layout's root.
type Archiver struct {
	store    RecordStore
	sessions SessionManager
	nav      *Navigator
	ids      IdentifierParser
	layout   ArchiveLayout
	opts     ArchiverOptions
	clock    Clock
	logger   *zap.Logger
}

// NewArchiver builds an Archiver writing through layout.
func NewArchiver(
	store RecordStore,
	sessions SessionManager,
	nav *Navigator,
	ids IdentifierParser,
	layout ArchiveLayout,
	clock Clock,
	logger *zap.Logger,
	opts ArchiverOptions,
) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:    store,
		sessions: sessions,
		nav:      nav,
		ids:      ids,
		layout:   layout,
		opts:     opts,
		clock:    clock,
		logger:   logger.Named("archiver"),
	}
}

// Archive writes the cleaned page of rawURL and records the folder path.
// The record lookup and the folder check run before any navigation; an
// existing folder yields OutcomeAlreadyArchived without writing. When s is
// nil the archiver opens its own session and always releases it.
func (a *Archiver) Archive(ctx context.Context, rawURL string, s Session) (Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "archive", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	outcome, err := a.archive(ctx, rawURL, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	return outcome, err
}

func (a *Archiver) archive(ctx context.Context, rawURL string, s Session) (Outcome, error) {
	identifier, err := a.ids.Parse(rawURL)
	if err != nil {
		a.logger.Warn("skipping url without identifier", zap.String("url", rawURL))
		return OutcomeNone, err
	}
	log := a.logger.With(zap.String("url", rawURL), zap.String("identifier", identifier))

	rec, err := a.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		log.Warn("cannot archive unknown item", zap.Error(err))
		return OutcomeNone, fmt.Errorf("lookup %s: %w", identifier, err)
	}
	folder := folderFor(rec)
	exists, err := a.layout.Exists(folder)
	if err != nil {
		return OutcomeNone, fmt.Errorf("check folder %q: %w", folder, err)
	}
	if exists {
		log.Info("folder already exists", zap.String("folder", folder))
		metrics.ObserveArchive(OutcomeAlreadyArchived.String())
		return OutcomeAlreadyArchived, nil
	}

	if s == nil {
		own, err := a.sessions.Acquire(ctx)
		if err != nil {
			return OutcomeNone, fmt.Errorf("acquire session: %w", err)
		}
		defer a.sessions.Release(own)
		s = own
	}
	page, err := a.render(ctx, s, rawURL)
	if err != nil {
		metrics.ObserveArchive("failed")
		return OutcomeNone, err
	}
	content, err := CleanHTML(page)
	if err != nil {
		metrics.ObserveArchive("failed")
		return OutcomeNone, err
	}

	dir, err := a.layout.Write(folder, []byte(content), rawURL)
	if err != nil {
		metrics.ObserveArchive("failed")
		return OutcomeNone, fmt.Errorf("write archive %q: %w", folder, err)
	}
	if err := a.store.SetLocalPath(ctx, identifier, dir); err != nil {
		metrics.ObserveArchive("failed")
		return OutcomeNone, fmt.Errorf("record local path for %s: %w", identifier, err)
	}
	metrics.ObserveArchive(OutcomeArchived.String())
	log.Info("archived item", zap.String("name", rec.DisplayName()), zap.String("local_path", dir))

	a.mirror(ctx, log, folder, content)
	a.notify(ctx, log, rec, rawURL, dir, content)
	return OutcomeArchived, nil
}

// render holds the tab for the whole navigate and read sequence when the
// session is shared.
func (a *Archiver) render(ctx context.Context, s Session, rawURL string) (string, error) {
	if l, ok := s.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	if err := a.nav.Navigate(ctx, s, rawURL); err != nil {
		return "", err
	}
	html, err := s.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read item html: %w", err)
	}
	return html, nil
}

func (a *Archiver) mirror(ctx context.Context, log *zap.Logger, folder, content string) {
	if a.opts.Mirror == nil {
		return
	}
	key := path.Join(a.opts.MirrorPrefix, folder, ContentFileName)
	uri, err := a.opts.Mirror.PutObject(ctx, key, "text/html; charset=utf-8", []byte(content))
	if err != nil {
		log.Warn("mirror upload failed", zap.String("key", key), zap.Error(err))
		return
	}
	log.Debug("mirrored snapshot", zap.String("uri", uri))
}

func (a *Archiver) notify(ctx context.Context, log *zap.Logger, rec Record, rawURL, dir, content string) {
	if a.opts.Publisher == nil || a.opts.Topic == "" {
		return
	}
	event := ArchivedEvent{
		Identifier: rec.Identifier,
		Name:       rec.DisplayName(),
		URL:        rawURL,
		LocalPath:  dir,
		ArchivedAt: a.clock.Now(),
	}
	if a.opts.Hasher != nil {
		digest, err := a.opts.Hasher.Hash(strings.NewReader(content))
		if err != nil {
			log.Warn("hash snapshot failed", zap.Error(err))
		}
		event.ContentSHA256 = digest
	}
	id, err := a.opts.Publisher.Publish(ctx, a.opts.Topic, event)
	if err != nil {
		log.Warn("publish archive event failed", zap.String("topic", a.opts.Topic), zap.Error(err))
		return
	}
	log.Debug("published archive event", zap.String("message_id", id))
}

// ContentFileName is the snapshot file written into every archive folder.
const ContentFileName = "content.html"
