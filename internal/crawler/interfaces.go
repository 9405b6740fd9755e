package crawler

import (
	"context"
	"io"
	"time"
)

// Session is one isolated browser tab.
type Session interface {
	// Navigate loads url and returns once the document content has loaded.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitVisible blocks until selector matches a visible element.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// HTML returns the serialized document element.
	HTML(ctx context.Context) (string, error)
	// Scroll moves the viewport forward by the given number of viewport heights.
	Scroll(ctx context.Context, viewports int) error
	Close() error
}

// SessionManager hands out sessions backed by a single browser.
type SessionManager interface {
	Acquire(ctx context.Context) (Session, error)
	// Release closes the session; failures are swallowed.
	Release(s Session)
}

// RecordStore is the persistence service keyed by item identifier.
type RecordStore interface {
	// FindByIdentifier returns ErrRecordNotFound when no record exists.
	FindByIdentifier(ctx context.Context, identifier string) (Record, error)
	Create(ctx context.Context, identifier string, meta Metadata) (Record, error)
	// UpdateMetadata overwrites every metadata field and leaves local_path alone.
	UpdateMetadata(ctx context.Context, identifier string, meta Metadata) (Record, error)
	// SetLocalPath sets local_path only if it is still null.
	SetLocalPath(ctx context.Context, identifier string, path string) error
	ListUnarchived(ctx context.Context) ([]Record, error)
	Close() error
}

// ArchiveLayout writes archive folders under one destination root.
type ArchiveLayout interface {
	// Exists reports whether folder is already present as a directory.
	Exists(folder string) (bool, error)
	// Write creates folder with the content snapshot and shortcut file and
	// returns the folder path.
	Write(folder string, content []byte, sourceURL string) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes archive events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher digests snapshot content as it streams past.
type Hasher interface {
	Hash(r io.Reader) (string, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	// Pause waits for d or until ctx is done.
	Pause(ctx context.Context, d time.Duration)
}

// ItemHandler processes one newly discovered item URL.
type ItemHandler interface {
	HandleItem(ctx context.Context, url string) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
