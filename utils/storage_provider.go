package utils

import (
	"os"
	"strings"
)

const (
	StorageProviderLocal = "local"
	StorageProviderGCS   = "gcs"
)

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderLocal
	}
	return provider
}

// NewSecureStore picks the configured backend. The local disk store is the
// default; GCS keeps files in a private bucket instead of a protected
// directory.
func NewSecureStore(secureDir string) (SecureStore, error) {
	if GetStorageProvider() == StorageProviderGCS {
		return NewGCSStore(secureDir)
	}
	return NewDiskStore(secureDir)
}
