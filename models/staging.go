package models

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StagingEntry is the ephemeral record of an asynchronously uploaded file
// that no order claims yet. It lives in the keystore under its upload id
// until consumed or swept.
type StagingEntry struct {
	UploadID         string    `json:"upload_id"`
	TempPath         string    `json:"temp_path"`
	OriginalFilename string    `json:"original_filename"`
	SizeBytes        int64     `json:"size_bytes"`
	MimeType         string    `json:"mime_type"`
	CreatedAt        time.Time `json:"created_at"`

	// Consumed marks a tombstone left behind by Consume so a retry fails
	// fast instead of double-moving.
	Consumed bool `json:"consumed"`
}

// Keystore is the session-store surface StagingArea needs. Production
// uses redis; tests inject an in-memory implementation.
type Keystore interface {
	Put(ctx context.Context, id string, entry *StagingEntry, ttl time.Duration) error
	Get(ctx context.Context, id string) (*StagingEntry, bool, error)
	// Take atomically fetches and removes the entry.
	Take(ctx context.Context, id string) (*StagingEntry, bool, error)
	Members(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, id string) error
}

const stagingKeyPrefix = "photoid:staging:"
const stagingSetKey = "photoid:staging:ids"

// RedisKeystore stores staging entries in redis with a TTL, mirroring ids
// into a set so sweeps can enumerate them.
type RedisKeystore struct{}

func (RedisKeystore) Put(ctx context.Context, id string, entry *StagingEntry, ttl time.Duration) error {
	if err := config.SetRedisObject(ctx, stagingKeyPrefix+id, entry, ttl); err != nil {
		return err
	}
	return config.AddRedisSet(ctx, stagingSetKey, id)
}

func (RedisKeystore) Get(ctx context.Context, id string) (*StagingEntry, bool, error) {
	var entry StagingEntry
	found, err := config.GetRedisObject(ctx, stagingKeyPrefix+id, &entry)
	if err != nil || !found {
		return nil, false, err
	}
	return &entry, true, nil
}

func (RedisKeystore) Take(ctx context.Context, id string) (*StagingEntry, bool, error) {
	var entry StagingEntry
	found, err := config.TakeRedisObject(ctx, stagingKeyPrefix+id, &entry)
	if err != nil || !found {
		return nil, false, err
	}
	return &entry, true, nil
}

func (RedisKeystore) Members(ctx context.Context) ([]string, error) {
	return config.GetRedisSetMembers(ctx, stagingSetKey)
}

func (RedisKeystore) Remove(ctx context.Context, id string) error {
	if err := config.RemoveRedisKey(ctx, stagingKeyPrefix+id); err != nil {
		return err
	}
	return config.RemoveRedisSetMember(ctx, stagingSetKey, id)
}

// StagingArea is the holding pen for files uploaded before their order
// exists. Files land in a dedicated temp directory (with the same sentinel
// protection as the secure root); metadata lives in the keystore keyed by
// a random upload id that expires after TTL.
type StagingArea struct {
	Dir    string
	TTL    time.Duration
	Store  Keystore
	Logger *logrus.Logger
}

func NewStagingArea(dir string, ttl time.Duration, store Keystore, logger *logrus.Logger) (*StagingArea, error) {
	// reuse the disk-store sentinel setup for the temp directory
	disk, err := utils.NewDiskStore(dir)
	if err != nil {
		return nil, err
	}
	return &StagingArea{Dir: disk.Root(), TTL: ttl, Store: store, Logger: logger}, nil
}

// Stage writes the validated bytes to a temp file and records the entry.
// Returns the fresh upload id.
func (a *StagingArea) Stage(ctx context.Context, data []byte, originalFilename, mime string, now time.Time) (string, error) {
	uploadID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(originalFilename))
	tempPath := filepath.Join(a.Dir, "temp-"+uploadID+ext)

	if err := os.WriteFile(tempPath, data, 0o640); err != nil {
		return "", utils.NewStorageError("stage", err)
	}

	entry := &StagingEntry{
		UploadID:         uploadID,
		TempPath:         tempPath,
		OriginalFilename: filepath.Base(originalFilename),
		SizeBytes:        int64(len(data)),
		MimeType:         mime,
		CreatedAt:        now,
	}
	if err := a.Store.Put(ctx, uploadID, entry, a.TTL); err != nil {
		os.Remove(tempPath)
		return "", err
	}
	return uploadID, nil
}

// Fetch returns a live entry. Unknown, expired and consumed ids all fail.
func (a *StagingArea) Fetch(ctx context.Context, uploadID string) (*StagingEntry, error) {
	entry, found, err := a.Store.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !found || entry.Consumed {
		return nil, utils.ErrNotFound
	}
	return entry, nil
}

// Consume promotes the staged file into the secure store. This is the only
// path from staging to a permanent ledger, and it is at-most-once: the
// entry is removed (and tombstoned) before the move, so a second call with
// the same id fails ErrAlreadyConsumed instead of double-moving.
func (a *StagingArea) Consume(ctx context.Context, uploadID string, orderID int, store utils.SecureStore, now time.Time) (*utils.StoredFile, error) {
	entry, found, err := a.Store.Take(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, utils.ErrNotFound
	}
	if entry.Consumed {
		// put the tombstone back for later retries
		_ = a.Store.Put(ctx, uploadID, entry, a.TTL)
		return nil, utils.ErrAlreadyConsumed
	}

	tombstone := &StagingEntry{UploadID: uploadID, CreatedAt: entry.CreatedAt, Consumed: true}
	if err := a.Store.Put(ctx, uploadID, tombstone, a.TTL); err != nil {
		a.Logger.WithFields(logrus.Fields{
			"module":   "staging",
			"uploadId": uploadID,
		}).Warn("failed to write consumed marker: " + err.Error())
	}

	if _, err := os.Stat(entry.TempPath); errors.Is(err, os.ErrNotExist) {
		return nil, utils.ErrNotFound
	}

	stored, err := store.Promote(ctx, entry.TempPath, orderID, entry.OriginalFilename, entry.MimeType, entry.SizeBytes, now)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Sweep reaps staged files older than TTL. Best-effort: individual
// failures are logged and the sweep continues. The keystore's own TTL
// already expires entries; this pass reclaims orphaned temp files and
// prunes the id set.
func (a *StagingArea) Sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-a.TTL)

	ids, err := a.Store.Members(ctx)
	if err != nil {
		config.LogError(a.Logger, "staging", "Sweep", "listing staged ids", nil, err)
	}
	for _, id := range ids {
		entry, found, err := a.Store.Get(ctx, id)
		if err != nil {
			config.LogError(a.Logger, "staging", "Sweep", "fetching entry", id, err)
			continue
		}
		if !found {
			// TTL already expired the value; drop the id.
			_ = a.Store.Remove(ctx, id)
			continue
		}
		if entry.CreatedAt.Before(cutoff) {
			if entry.TempPath != "" {
				if err := os.Remove(entry.TempPath); err != nil && !os.IsNotExist(err) {
					config.LogError(a.Logger, "staging", "Sweep", "deleting temp file", entry.TempPath, err)
					continue
				}
			}
			if err := a.Store.Remove(ctx, id); err != nil {
				config.LogError(a.Logger, "staging", "Sweep", "removing entry", id, err)
			}
		}
	}

	// Orphaned temp files whose entries are long gone.
	matches, err := filepath.Glob(filepath.Join(a.Dir, "temp-*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				config.LogError(a.Logger, "staging", "Sweep", "deleting orphaned file", path, err)
			}
		}
	}
}
