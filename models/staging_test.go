package models_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
)

// memoryKeystore stands in for redis in unit tests. TTLs are checked
// lazily on read, the way redis expiry behaves from the caller's side.
type memoryKeystore struct {
	mu      sync.Mutex
	entries map[string]*models.StagingEntry
	expiry  map[string]time.Time
}

func newMemoryKeystore() *memoryKeystore {
	return &memoryKeystore{
		entries: make(map[string]*models.StagingEntry),
		expiry:  make(map[string]time.Time),
	}
}

func (m *memoryKeystore) Put(ctx context.Context, id string, entry *models.StagingEntry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.entries[id] = &copied
	m.expiry[id] = time.Now().Add(ttl)
	return nil
}

func (m *memoryKeystore) Get(ctx context.Context, id string) (*models.StagingEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok || time.Now().After(m.expiry[id]) {
		return nil, false, nil
	}
	copied := *entry
	return &copied, true, nil
}

func (m *memoryKeystore) Take(ctx context.Context, id string) (*models.StagingEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok || time.Now().After(m.expiry[id]) {
		return nil, false, nil
	}
	delete(m.entries, id)
	delete(m.expiry, id)
	return entry, true, nil
}

func (m *memoryKeystore) Members(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memoryKeystore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	delete(m.expiry, id)
	return nil
}

func newTestStaging(t *testing.T) (*models.StagingArea, *memoryKeystore) {
	t.Helper()
	ks := newMemoryKeystore()
	area, err := models.NewStagingArea(t.TempDir(), 24*time.Hour, ks, config.GetLogger())
	if err != nil {
		t.Fatalf("NewStagingArea: %v", err)
	}
	return area, ks
}

func TestStageAndFetch(t *testing.T) {
	area, _ := newTestStaging(t)
	ctx := context.Background()
	now := time.Now()

	uploadID, err := area.Stage(ctx, []byte("jpeg-bytes"), "passport.jpg", "image/jpeg", now)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if uploadID == "" {
		t.Fatal("empty upload id")
	}

	entry, err := area.Fetch(ctx, uploadID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if entry.OriginalFilename != "passport.jpg" || entry.SizeBytes != 10 || entry.MimeType != "image/jpeg" {
		t.Fatalf("entry = %+v", entry)
	}

	data, err := os.ReadFile(entry.TempPath)
	if err != nil {
		t.Fatalf("reading temp file: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("temp content = %q", data)
	}

	if _, err := area.Fetch(ctx, "no-such-id"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("Fetch unknown id = %v, want ErrNotFound", err)
	}
}

func TestStageStripsClientPath(t *testing.T) {
	area, _ := newTestStaging(t)
	ctx := context.Background()

	uploadID, err := area.Stage(ctx, []byte("x"), "../../etc/passwd.png", "image/png", time.Now())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	entry, err := area.Fetch(ctx, uploadID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.OriginalFilename != "passwd.png" {
		t.Fatalf("original filename = %q", entry.OriginalFilename)
	}
	if filepath.Dir(entry.TempPath) != area.Dir {
		t.Fatalf("temp file written outside staging dir: %s", entry.TempPath)
	}
}

func TestConsumePromotesOnce(t *testing.T) {
	area, _ := newTestStaging(t)
	store, err := utils.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Now()

	uploadID, err := area.Stage(ctx, []byte("jpeg-bytes"), "passport.jpg", "image/jpeg", now)
	if err != nil {
		t.Fatal(err)
	}

	stored, err := area.Consume(ctx, uploadID, 7, store, now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if stored.OriginalFilename != "passport.jpg" || stored.SizeBytes != 10 {
		t.Fatalf("stored = %+v", stored)
	}
	if _, err := os.Stat(stored.StoragePath); err != nil {
		t.Fatalf("promoted file missing: %v", err)
	}

	// second consume must not double-move
	if _, err := area.Consume(ctx, uploadID, 7, store, now); !errors.Is(err, utils.ErrAlreadyConsumed) {
		t.Fatalf("second Consume = %v, want ErrAlreadyConsumed", err)
	}
	// and the entry no longer reads as live
	if _, err := area.Fetch(ctx, uploadID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("Fetch after consume = %v, want ErrNotFound", err)
	}
}

// failingStore rejects every promotion with an operational error, the
// way a full disk or revoked bucket credentials would.
type failingStore struct {
	utils.SecureStore
}

func (failingStore) GenerateName(orderID int, ext string) string { return "unused" }

func (failingStore) Promote(ctx context.Context, sourcePath string, orderID int, originalFilename, mime string, size int64, now time.Time) (*utils.StoredFile, error) {
	return nil, utils.NewStorageError("move", errors.New("disk full"))
}

func TestConsumeStorageFailureBurnsEntry(t *testing.T) {
	area, _ := newTestStaging(t)
	ctx := context.Background()
	now := time.Now()

	uploadID, err := area.Stage(ctx, []byte("jpeg-bytes"), "passport.jpg", "image/jpeg", now)
	if err != nil {
		t.Fatal(err)
	}

	_, err = area.Consume(ctx, uploadID, 7, failingStore{}, now)
	var storageErr *utils.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Consume with failing store = %v, want *StorageError", err)
	}

	// the entry was tombstoned before the store failed; a retry cannot
	// recover the upload
	if _, err := area.Consume(ctx, uploadID, 7, failingStore{}, now); !errors.Is(err, utils.ErrAlreadyConsumed) {
		t.Fatalf("retry after storage failure = %v, want ErrAlreadyConsumed", err)
	}
}

func TestConsumeUnknownID(t *testing.T) {
	area, _ := newTestStaging(t)
	store, err := utils.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := area.Consume(context.Background(), "missing", 7, store, time.Now()); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("Consume unknown id = %v, want ErrNotFound", err)
	}
}

func TestSweepReapsExpiredEntries(t *testing.T) {
	area, ks := newTestStaging(t)
	ctx := context.Background()

	staleID, err := area.Stage(ctx, []byte("old"), "old.jpg", "image/jpeg", time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	freshID, err := area.Stage(ctx, []byte("new"), "new.jpg", "image/jpeg", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	stale, _ := area.Fetch(ctx, staleID)

	area.Sweep(ctx, time.Now())

	if _, err := os.Stat(stale.TempPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale temp file survived sweep: %v", err)
	}
	if _, found, _ := ks.Get(ctx, staleID); found {
		t.Fatal("stale entry survived sweep")
	}
	if _, err := area.Fetch(ctx, freshID); err != nil {
		t.Fatalf("fresh entry reaped: %v", err)
	}
}

func TestSweepReapsOrphanedTempFiles(t *testing.T) {
	area, _ := newTestStaging(t)
	ctx := context.Background()

	orphan := filepath.Join(area.Dir, "temp-orphan.jpg")
	if err := os.WriteFile(orphan, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatal(err)
	}

	area.Sweep(ctx, time.Now())

	if _, err := os.Stat(orphan); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("orphaned temp file survived sweep: %v", err)
	}
	// sentinels are never swept
	if _, err := os.Stat(filepath.Join(area.Dir, ".htaccess")); err != nil {
		t.Fatalf("sentinel removed by sweep: %v", err)
	}
}
