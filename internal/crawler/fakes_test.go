package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// fakeClock records pauses instead of sleeping and advances Now by them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	pauses []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Pause(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauses = append(c.pauses, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Pauses() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.pauses...)
}

// fakeSession scripts navigation results and listing pages.
type fakeSession struct {
	mu sync.Mutex

	navErrs   []error // consumed per Navigate call; nil entries succeed
	waitErr   error
	htmlPages []string // HTML returns pages in order, repeating the last
	htmlErr   error
	scrollErr error

	navigations []navigation
	waits       []navigation
	htmlCalls   int
	scrolls     int
	closed      bool
}

type navigation struct {
	target  string
	timeout time.Duration
}

func (s *fakeSession) Navigate(_ context.Context, url string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, navigation{target: url, timeout: timeout})
	if len(s.navErrs) == 0 {
		return nil
	}
	err := s.navErrs[0]
	s.navErrs = s.navErrs[1:]
	return err
}

func (s *fakeSession) WaitVisible(_ context.Context, selector string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, navigation{target: selector, timeout: timeout})
	return s.waitErr
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.htmlCalls++
	if s.htmlErr != nil {
		return "", s.htmlErr
	}
	if len(s.htmlPages) == 0 {
		return "<html><body></body></html>", nil
	}
	idx := min(s.htmlCalls-1, len(s.htmlPages)-1)
	return s.htmlPages[idx], nil
}

func (s *fakeSession) Scroll(context.Context, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls++
	return s.scrollErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) navigationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.navigations)
}

// fakeSessions hands out sessions from a factory and tracks releases.
type fakeSessions struct {
	mu         sync.Mutex
	newSession func() *fakeSession
	acquireErr error
	acquired   []*fakeSession
	released   int
}

func (m *fakeSessions) Acquire(context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	s := &fakeSession{}
	if m.newSession != nil {
		s = m.newSession()
	}
	m.acquired = append(m.acquired, s)
	return s, nil
}

func (m *fakeSessions) Release(s Session) {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	_ = s.Close()
}

func (m *fakeSessions) counts() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acquired), m.released
}

// fakeStore is a map-backed RecordStore.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	nextID  int64
	findErr error
}

func newFakeStore(records ...Record) *fakeStore {
	s := &fakeStore{records: make(map[string]Record)}
	for _, r := range records {
		s.nextID++
		r.ID = s.nextID
		s.records[r.Identifier] = r
	}
	return s
}

func (s *fakeStore) FindByIdentifier(_ context.Context, identifier string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return Record{}, s.findErr
	}
	r, ok := s.records[identifier]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return r, nil
}

func (s *fakeStore) Create(_ context.Context, identifier string, meta Metadata) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[identifier]; ok {
		return Record{}, fmt.Errorf("duplicate identifier %s", identifier)
	}
	s.nextID++
	r := Record{ID: s.nextID, Identifier: identifier, Metadata: meta}
	s.records[identifier] = r
	return r, nil
}

func (s *fakeStore) UpdateMetadata(_ context.Context, identifier string, meta Metadata) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identifier]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	r.Metadata = meta
	s.records[identifier] = r
	return r, nil
}

func (s *fakeStore) SetLocalPath(_ context.Context, identifier, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identifier]
	if !ok {
		return ErrRecordNotFound
	}
	if r.LocalPath == nil {
		r.LocalPath = &path
		s.records[identifier] = r
	}
	return nil
}

func (s *fakeStore) ListUnarchived(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.LocalPath == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) get(identifier string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[identifier]
}

// fakeLayout keeps folders in memory.
type fakeLayout struct {
	mu       sync.Mutex
	folders  map[string][]byte
	urls     map[string]string
	writeErr error
	failFor  map[string]error
}

func newFakeLayout(existing ...string) *fakeLayout {
	l := &fakeLayout{folders: make(map[string][]byte), urls: make(map[string]string)}
	for _, f := range existing {
		l.folders[f] = nil
	}
	return l
}

func (l *fakeLayout) Exists(folder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.folders[folder]
	return ok, nil
}

func (l *fakeLayout) Write(folder string, content []byte, sourceURL string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return "", l.writeErr
	}
	if err := l.failFor[folder]; err != nil {
		return "", err
	}
	l.folders[folder] = content
	l.urls[folder] = sourceURL
	return "/archive/" + folder, nil
}

func (l *fakeLayout) writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.folders {
		if c != nil {
			n++
		}
	}
	return n
}

// MockBlobStore is a mock implementation of the BlobStore interface.
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1)
}

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

const itemPage = `<!DOCTYPE html>
<html><head>
<title>Python</title>
<style>body{color:red}</style>
<script>window.tracking = true;</script>
<script type="application/ld+json">{"@type":"SoftwareApplication"}</script>
</head>
<body>
<!-- banner -->
<h1 class="ux-item-name">Python</h1>
<div class="ux-item-shortdesc">  Python language   support </div>
<a class="ux-item-publisher-link" href="/publishers/ms-python">Microsoft</a>
<span class="installs-text"> 123,456,789 installs</span>
<table><tr><td id="version">Version</td><td>2024.6.0</td></tr>
<tr><td id="last-updated">Last updated</td><td>2024-05-01</td></tr></table>
<div class="ux-repository"><a href="https://github.com/microsoft/vscode-python">Repository</a></div>
<div class="meta-data-list-link">Programming Languages</div>
<div class="meta-data-list-link"> Debuggers </div>
<span itemprop="ratingValue">4.2 out of 5</span>
<img src="logo.png"><svg></svg><iframe src="x"></iframe><video></video>
</body></html>`
