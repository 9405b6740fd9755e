package crawler

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixedHasher string

func (h fixedHasher) Hash(r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return string(h), err
}

type archiverFixture struct {
	store    *fakeStore
	sessions *fakeSessions
	layout   *fakeLayout
	clock    *fakeClock
	archiver *Archiver
}

func newArchiverFixture(t *testing.T, opts ArchiverOptions, records ...Record) *archiverFixture {
	t.Helper()
	sessions := &fakeSessions{newSession: func() *fakeSession {
		return &fakeSession{htmlPages: []string{itemPage}}
	}}
	f := &archiverFixture{
		store:    newFakeStore(records...),
		sessions: sessions,
		layout:   newFakeLayout(),
		clock:    newFakeClock(),
	}
	nav := NewNavigator(DefaultNavigationConfig(), f.clock, nil)
	f.archiver = NewArchiver(f.store, f.sessions, nav, NewIdentifierParser(""), f.layout, f.clock, nil, opts)
	return f
}

func pythonRecord(name string) Record {
	return Record{Identifier: "ms-python.python", Metadata: Metadata{Name: strPtr(name), URL: strPtr(pythonURL)}}
}

func TestArchiverWritesCleanSnapshot(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{}, pythonRecord("Python"))
	outcome, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, outcome)

	content := string(f.layout.folders["Python"])
	assert.Contains(t, content, `<h1 class="ux-item-name">Python</h1>`)
	assert.Contains(t, content, "application/ld+json")
	assert.NotContains(t, content, "window.tracking")
	assert.NotContains(t, content, "<style")
	assert.NotContains(t, content, "<img")
	assert.NotContains(t, content, "<svg")
	assert.NotContains(t, content, "<iframe")
	assert.NotContains(t, content, "<video")
	assert.NotContains(t, content, "banner")
	assert.NotContains(t, content, "\n")
	assert.Equal(t, pythonURL, f.layout.urls["Python"])

	rec := f.store.get("ms-python.python")
	require.NotNil(t, rec.LocalPath)
	assert.Equal(t, "/archive/Python", *rec.LocalPath)

	acquired, released := f.sessions.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}

func TestArchiverSanitizesFolderName(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{}, pythonRecord("A/B: Test*?"))
	_, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.NoError(t, err)
	assert.Contains(t, f.layout.folders, "A B_ Test__")
}

func TestArchiverExistingFolderIsNoop(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{}, pythonRecord("Python"))
	f.layout.folders["Python"] = nil

	outcome, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyArchived, outcome)
	assert.Zero(t, f.layout.writes())
	assert.Nil(t, f.store.get("ms-python.python").LocalPath)
	acquired, _ := f.sessions.counts()
	assert.Zero(t, acquired, "no navigation when the folder exists")
}

func TestArchiverMissingIdentifier(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{})
	_, err := f.archiver.Archive(context.Background(), "https://marketplace.visualstudio.com/items", nil)
	require.ErrorIs(t, err, ErrMissingIdentifier)
	acquired, _ := f.sessions.counts()
	assert.Zero(t, acquired)
	assert.Zero(t, f.layout.writes())
}

func TestArchiverRecordNotFound(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{})
	_, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.ErrorIs(t, err, ErrRecordNotFound)
	assert.Zero(t, f.store.count(), "archival never creates records")
	acquired, _ := f.sessions.counts()
	assert.Zero(t, acquired)
}

func TestArchiverReleasesOwnSessionOnNavigationError(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{}, pythonRecord("Python"))
	f.sessions.newSession = func() *fakeSession {
		return &fakeSession{navErrs: []error{errBoom, errBoom, errBoom}}
	}

	_, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.ErrorIs(t, err, ErrNavigation)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.clock.Pauses())
	_, released := f.sessions.counts()
	assert.Equal(t, 1, released)
	assert.True(t, f.sessions.acquired[0].closed)
	assert.Nil(t, f.store.get("ms-python.python").LocalPath)
}

func TestArchiverUsesSuppliedSession(t *testing.T) {
	t.Parallel()

	f := newArchiverFixture(t, ArchiverOptions{}, pythonRecord("Python"))
	supplied := newPooledSession(&fakeSession{htmlPages: []string{itemPage}})

	_, err := f.archiver.Archive(context.Background(), pythonURL, supplied)
	require.NoError(t, err)
	acquired, released := f.sessions.counts()
	assert.Zero(t, acquired)
	assert.Zero(t, released)
	assert.False(t, supplied.Session.(*fakeSession).closed, "caller keeps ownership")
}

func TestArchiverMirrorsAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := &MockBlobStore{}
	blobs.On("PutObject", mock.Anything, "snapshots/Python/content.html", "text/html; charset=utf-8", mock.Anything).
		Return("gs://bucket/snapshots/Python/content.html", nil).Once()
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, "archived", mock.MatchedBy(func(ev ArchivedEvent) bool {
		return ev.Identifier == "ms-python.python" && ev.LocalPath == "/archive/Python" && ev.Name == "Python" &&
			ev.ContentSHA256 == "digest"
	})).Return("msg-1", nil).Once()

	f := newArchiverFixture(t, ArchiverOptions{
		Mirror:       blobs,
		MirrorPrefix: "snapshots",
		Publisher:    pub,
		Topic:        "archived",
		Hasher:       fixedHasher("digest"),
	}, pythonRecord("Python"))

	_, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.NoError(t, err)
	blobs.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestArchiverSinkFailuresDoNotUndoArchive(t *testing.T) {
	t.Parallel()

	blobs := &MockBlobStore{}
	blobs.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errBoom)
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("", errBoom)

	f := newArchiverFixture(t, ArchiverOptions{Mirror: blobs, Publisher: pub, Topic: "t"}, pythonRecord("Python"))
	outcome, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, outcome)
	assert.NotNil(t, f.store.get("ms-python.python").LocalPath)
}

func TestArchiverRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newArchiverFixture(t, ArchiverOptions{})
	_, err := f.archiver.Archive(context.Background(), pythonURL, nil)
	require.ErrorIs(t, err, ErrRecordNotFound)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "archive", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestCleanHTML(t *testing.T) {
	t.Parallel()

	out, err := CleanHTML("<html><head><script src=a.js></script></head>\n<body>  <p>hello\n\n  world</p><!-- gone --></body></html>")
	require.NoError(t, err)
	assert.Equal(t, "<html><head></head> <body> <p>hello world</p></body></html>", out)
	assert.False(t, strings.HasPrefix(out, "<!DOCTYPE"))
}

func TestSanitizeFolderName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"A/B: Test*?":     "A B_ Test__",
		`back\slash`:      "back_slash",
		`quote"<pipe>|`:   "quote__pipe__",
		"Plain Name":      "Plain Name",
		"C/C++ Extension": "C C++ Extension",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFolderName(in), in)
	}
	assert.Equal(t, "ms-python.python", folderFor(Record{Identifier: "ms-python.python", Metadata: Metadata{Name: strPtr("/")}}))
	assert.Equal(t, "ms-python.python", folderFor(Record{Identifier: "ms-python.python"}))
	assert.Equal(t, "A ", folderFor(Record{Identifier: "pub.a", Metadata: Metadata{Name: strPtr("A/")}}))
	assert.Equal(t, "C_ Tools ", folderFor(Record{Identifier: "pub.c", Metadata: Metadata{Name: strPtr("C: Tools/")}}))
}
