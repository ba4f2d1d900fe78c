package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSStore keeps ID files as objects under a fixed key prefix in a private
// bucket. Path confinement becomes key-prefix confinement; the bucket is
// expected to deny public access.
type GCSStore struct {
	bucket string
	prefix string
}

func NewGCSStore(prefix string) (*GCSStore, error) {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required for the gcs storage provider")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "customer-id"
	}
	return &GCSStore{bucket: bucket, prefix: prefix}, nil
}

func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (service account / GOOGLE_APPLICATION_CREDENTIALS).
	// Explicit JSON can be provided via GCS_CREDENTIALS_JSON locally.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func (s *GCSStore) GenerateName(orderID int, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("order-%d-%s.%s", orderID, uuid.NewString(), ext)
}

func (s *GCSStore) Promote(ctx context.Context, sourcePath string, orderID int, originalFilename, mime string, size int64, now time.Time) (*StoredFile, error) {
	name := s.GenerateName(orderID, path.Ext(originalFilename))
	key := s.prefix + "/" + name

	in, err := os.Open(sourcePath)
	if err != nil {
		return nil, NewStorageError("move", err)
	}
	defer in.Close()

	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, NewStorageError("move", err)
	}
	defer client.Close()

	wc := client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = mime
	if _, err := io.Copy(wc, in); err != nil {
		return nil, NewStorageError("move", err)
	}
	if err := wc.Close(); err != nil {
		return nil, NewStorageError("move", err)
	}

	// The local staged copy is gone once the object exists.
	_ = os.Remove(sourcePath)

	return &StoredFile{
		StoredFilename:   name,
		StoragePath:      key,
		OriginalFilename: path.Base(originalFilename),
		MimeType:         mime,
		SizeBytes:        size,
		UploadedAt:       now,
	}, nil
}

func (s *GCSStore) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	key, err := s.confine(storagePath)
	if err != nil {
		return nil, err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, NewStorageError("open", err)
	}
	reader, err := client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, NewStorageError("open", err)
	}
	return &gcsReadCloser{reader: reader, client: client}, nil
}

func (s *GCSStore) Erase(ctx context.Context, storagePath string) error {
	key, err := s.confine(storagePath)
	if err != nil {
		return err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return NewStorageError("erase", err)
	}
	defer client.Close()

	if err := client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil &&
		!errors.Is(err, storage.ErrObjectNotExist) {
		return NewStorageError("erase", err)
	}
	return nil
}

func (s *GCSStore) confine(storagePath string) (string, error) {
	key := strings.TrimPrefix(storagePath, "/")
	if strings.Contains(key, "..") || !strings.HasPrefix(key, s.prefix+"/") {
		return "", ErrPathEscapesRoot
	}
	return key, nil
}

type gcsReadCloser struct {
	reader *storage.Reader
	client *storage.Client
}

func (r *gcsReadCloser) Read(p []byte) (int, error) { return r.reader.Read(p) }

func (r *gcsReadCloser) Close() error {
	err := r.reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
