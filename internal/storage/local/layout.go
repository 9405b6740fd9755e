package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ContentFile is the snapshot written into every archive folder.
const ContentFile = "content.html"

// Layout writes one folder per archived item directly under the destination
// root: the content snapshot plus a `<folder>.url` shortcut.
type Layout struct {
	root string
}

// NewLayout prepares root, creating it when missing.
func NewLayout(root string) (*Layout, error) {
	abs, err := prepareDir(root)
	if err != nil {
		return nil, fmt.Errorf("prepare destination: %w", err)
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute destination root.
func (l *Layout) Root() string {
	return l.root
}

// Exists reports whether folder is already a directory under the root. A
// non-directory entry of the same name is an error.
func (l *Layout) Exists(folder string) (bool, error) {
	dir, err := within(l.root, folder)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists and is not a directory", dir)
	}
	return true, nil
}

// Write stages the snapshot and shortcut in a scratch directory under the
// root and renames it to folder once both files are on disk. A failed write
// leaves nothing behind, so Exists never sees a half-written folder.
func (l *Layout) Write(folder string, content []byte, sourceURL string) (string, error) {
	dir, err := within(l.root, folder)
	if err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(l.root, stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", folder, err)
	}
	if err := fill(staging, folder, content, sourceURL); err != nil {
		_ = os.RemoveAll(staging)
		return "", err
	}
	if err := os.Rename(staging, dir); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("publish %s: %w", dir, err)
	}
	return dir, nil
}

const stagingPrefix = ".staging-"

func fill(staging, folder string, content []byte, sourceURL string) error {
	// MkdirTemp creates 0700; archive folders are group readable.
	if err := os.Chmod(staging, 0o750); err != nil {
		return fmt.Errorf("chmod staging: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, ContentFile), content, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, folder+".url"), Shortcut(sourceURL), 0o600); err != nil {
		return fmt.Errorf("write shortcut: %w", err)
	}
	return nil
}

// Shortcut renders an Internet Shortcut file pointing at url.
func Shortcut(url string) []byte {
	return []byte("[InternetShortcut]\nURL=" + url + "\n")
}
