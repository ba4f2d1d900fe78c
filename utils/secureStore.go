package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StoredFile holds the fields a successful promotion produces; the caller
// copies them onto the order's ledger.
type StoredFile struct {
	StoredFilename   string
	StoragePath      string
	OriginalFilename string
	MimeType         string
	SizeBytes        int64
	UploadedAt       time.Time
}

// SecureStore persists customer ID files in a protected location.
// Callers are responsible for authorization; this layer only guarantees
// name generation and path confinement.
type SecureStore interface {
	// GenerateName produces a filename with no user-controlled path
	// segments; only the validated extension survives.
	GenerateName(orderID int, ext string) string

	// Promote moves the staged source into permanent storage and returns
	// the populated ledger fields. Failures come back as *StorageError and
	// must be recorded, not fatal to the surrounding request.
	Promote(ctx context.Context, sourcePath string, orderID int, originalFilename, mime string, size int64, now time.Time) (*StoredFile, error)

	// Open returns the stored bytes only if the path resolves inside the
	// store's root.
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Erase deletes the underlying file. An already-absent file is success.
	Erase(ctx context.Context, storagePath string) error
}

const (
	htaccessName = ".htaccess"
	indexName    = "index.html"
)

// DiskStore keeps files in a directory outside the web document root,
// protected by a deny-all .htaccess plus an empty index sentinel for
// stacks that serve the directory anyway.
type DiskStore struct {
	root string
}

// NewDiskStore ensures the root directory and its sentinel files exist.
// Existing sentinels are never overwritten.
func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, NewStorageError("ensure-root", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, NewStorageError("ensure-root", err)
	}
	if err := writeSentinel(filepath.Join(abs, htaccessName), "Order Deny,Allow\nDeny from all\n"); err != nil {
		return nil, err
	}
	if err := writeSentinel(filepath.Join(abs, indexName), ""); err != nil {
		return nil, err
	}
	return &DiskStore{root: abs}, nil
}

func writeSentinel(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return NewStorageError("ensure-root", err)
	}
	return nil
}

func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) GenerateName(orderID int, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("order-%d-%s.%s", orderID, uuid.NewString(), ext)
}

func (s *DiskStore) Promote(ctx context.Context, sourcePath string, orderID int, originalFilename, mime string, size int64, now time.Time) (*StoredFile, error) {
	name := s.GenerateName(orderID, filepath.Ext(originalFilename))
	dest := filepath.Join(s.root, name)

	if err := moveFile(sourcePath, dest); err != nil {
		return nil, NewStorageError("move", err)
	}

	return &StoredFile{
		StoredFilename:   name,
		StoragePath:      dest,
		OriginalFilename: filepath.Base(originalFilename),
		MimeType:         mime,
		SizeBytes:        size,
		UploadedAt:       now,
	}, nil
}

// moveFile renames when source and destination share a volume, otherwise
// copies and deletes the source.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	return os.Remove(src)
}

func (s *DiskStore) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	confined, err := s.confine(storagePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(confined)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, NewStorageError("open", err)
	}
	return f, nil
}

func (s *DiskStore) Erase(ctx context.Context, storagePath string) error {
	confined, err := s.confine(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(confined); err != nil && !os.IsNotExist(err) {
		return NewStorageError("erase", err)
	}
	return nil
}

// confine resolves a stored path and rejects anything outside the root.
func (s *DiskStore) confine(storagePath string) (string, error) {
	abs, err := filepath.Abs(storagePath)
	if err != nil {
		return "", ErrPathEscapesRoot
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", ErrPathEscapesRoot
	}
	if abs == s.root {
		return "", ErrPathEscapesRoot
	}
	return abs, nil
}
