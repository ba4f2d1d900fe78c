package utils

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extensions considered equivalent to each allowed mime type; types not
// listed here fall back to the mimetype database
var mimeExtensions = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
}

func extensionsFor(mime string) []string {
	if exts, ok := mimeExtensions[mime]; ok {
		return exts
	}
	if m := mimetype.Lookup(mime); m != nil && m.Extension() != "" {
		return []string{m.Extension()}
	}
	return nil
}

// ValidateUpload screens an upload before any bytes are persisted. Pure:
// no disk or network I/O. The declared client mime is never trusted; the
// type is decided from the extension plus content sniffing over the
// buffered bytes.
//
// Checks run in a fixed order: presence, type, size.
func ValidateUpload(filename string, size int64, data []byte, maxBytes int64, allowedTypes []string) error {
	if size <= 0 || len(data) == 0 {
		return ErrMissingFile
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !extensionAllowed(ext, allowedTypes) {
		return ErrFileType
	}

	sniffed := mimetype.Detect(data)
	if !mimeAllowed(sniffed, allowedTypes) {
		return ErrFileType
	}

	if size > maxBytes {
		return ErrFileSize
	}
	return nil
}

func extensionAllowed(ext string, allowedTypes []string) bool {
	if ext == "" {
		return false
	}
	for _, mime := range allowedTypes {
		for _, allowed := range extensionsFor(mime) {
			if ext == allowed {
				return true
			}
		}
	}
	return false
}

func mimeAllowed(sniffed *mimetype.MIME, allowedTypes []string) bool {
	for _, mime := range allowedTypes {
		if sniffed.Is(mime) {
			return true
		}
	}
	return false
}

// CanonicalExtension maps an allowed mime type to the extension stored
// filenames use.
func CanonicalExtension(mime string) string {
	exts := extensionsFor(strings.ToLower(mime))
	if len(exts) == 0 {
		return ""
	}
	return exts[0]
}
