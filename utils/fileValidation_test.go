package utils_test

import (
	"bytes"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/photoid_backend/utils"
)

var (
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0x00}, 64)...)
	pngBytes  = append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R'}, bytes.Repeat([]byte{0x00}, 64)...)
	webpBytes = append([]byte{'R', 'I', 'F', 'F', 0x24, 0x00, 0x00, 0x00, 'W', 'E', 'B', 'P', 'V', 'P', '8', ' '}, bytes.Repeat([]byte{0x00}, 64)...)
	exeBytes  = append([]byte{'M', 'Z', 0x90, 0x00}, bytes.Repeat([]byte{0x00}, 64)...)
)

const maxBytes = 2 * 1024 * 1024

var allowed = []string{"image/jpeg", "image/png"}

func TestValidateUpload(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		data     []byte
		size     int64
		want     error
	}{
		{"valid jpeg", "passport.jpg", jpegBytes, int64(len(jpegBytes)), nil},
		{"valid jpeg alt extension", "passport.jpeg", jpegBytes, int64(len(jpegBytes)), nil},
		{"valid png", "id-card.png", pngBytes, int64(len(pngBytes)), nil},
		{"no file", "passport.jpg", nil, 0, utils.ErrMissingFile},
		{"empty file", "passport.jpg", []byte{}, 0, utils.ErrMissingFile},
		{"disallowed extension", "passport.gif", jpegBytes, int64(len(jpegBytes)), utils.ErrFileType},
		{"no extension", "passport", jpegBytes, int64(len(jpegBytes)), utils.ErrFileType},
		{"executable renamed to jpg", "passport.jpg", exeBytes, int64(len(exeBytes)), utils.ErrFileType},
		{"oversize", "passport.jpg", jpegBytes, maxBytes + 1, utils.ErrFileSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := utils.ValidateUpload(tc.filename, tc.size, tc.data, maxBytes, allowed)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ValidateUpload(%q) = %v, want %v", tc.filename, err, tc.want)
			}
		})
	}
}

func TestValidateUploadTypeCheckedBeforeSize(t *testing.T) {
	// an oversize file of the wrong type fails on type first
	err := utils.ValidateUpload("doc.pdf", maxBytes+1, exeBytes, maxBytes, allowed)
	if !errors.Is(err, utils.ErrFileType) {
		t.Fatalf("expected ErrFileType, got %v", err)
	}
}

func TestValidateUploadRestrictedAllowSet(t *testing.T) {
	// png uploads are rejected when only jpeg is allowed
	err := utils.ValidateUpload("id-card.png", int64(len(pngBytes)), pngBytes, maxBytes, []string{"image/jpeg"})
	if !errors.Is(err, utils.ErrFileType) {
		t.Fatalf("expected ErrFileType, got %v", err)
	}
}

func TestValidateUploadWidenedAllowSet(t *testing.T) {
	// types beyond the defaults take their extension from the mimetype
	// database instead of failing the extension check
	widened := []string{"image/jpeg", "image/png", "image/webp"}

	err := utils.ValidateUpload("selfie.webp", int64(len(webpBytes)), webpBytes, maxBytes, widened)
	if err != nil {
		t.Fatalf("ValidateUpload(selfie.webp) = %v, want nil", err)
	}

	// the default allow-set still rejects it
	err = utils.ValidateUpload("selfie.webp", int64(len(webpBytes)), webpBytes, maxBytes, allowed)
	if !errors.Is(err, utils.ErrFileType) {
		t.Fatalf("expected ErrFileType, got %v", err)
	}

	// a jpeg renamed to .webp fails the sniff
	err = utils.ValidateUpload("selfie.webp", int64(len(jpegBytes)), jpegBytes, maxBytes, []string{"image/webp"})
	if !errors.Is(err, utils.ErrFileType) {
		t.Fatalf("expected ErrFileType, got %v", err)
	}
}

func TestCanonicalExtension(t *testing.T) {
	if got := utils.CanonicalExtension("image/jpeg"); got != ".jpg" {
		t.Fatalf("CanonicalExtension(image/jpeg) = %q", got)
	}
	if got := utils.CanonicalExtension("image/png"); got != ".png" {
		t.Fatalf("CanonicalExtension(image/png) = %q", got)
	}
	if got := utils.CanonicalExtension("image/webp"); got != ".webp" {
		t.Fatalf("CanonicalExtension(image/webp) = %q", got)
	}
	if got := utils.CanonicalExtension("application/x-never-registered"); got != "" {
		t.Fatalf("CanonicalExtension(unknown) = %q, want empty", got)
	}
}
