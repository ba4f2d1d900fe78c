package main

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
)

func TestBlockOrderOnUploadError(t *testing.T) {
	blocking := config.Settings{BlockIfMissing: true}
	recording := config.Settings{BlockIfMissing: false}

	cases := []struct {
		name     string
		err      error
		settings config.Settings
		want     bool
	}{
		{"missing file blocks", utils.ErrMissingFile, blocking, true},
		{"expired upload blocks", utils.ErrNotFound, blocking, true},
		{"reused upload blocks", utils.ErrAlreadyConsumed, blocking, true},
		{"storage failure never blocks", utils.NewStorageError("move", errors.New("disk full")), blocking, false},
		{"wrapped storage failure never blocks", fmt.Errorf("consume: %w", utils.NewStorageError("move", errors.New("disk full"))), blocking, false},
		{"nothing blocks when recording", utils.ErrMissingFile, recording, false},
		{"storage failure records too", utils.NewStorageError("move", errors.New("disk full")), recording, false},
	}
	for _, tc := range cases {
		if got := blockOrderOnUploadError(tc.err, tc.settings); got != tc.want {
			t.Errorf("%s: blockOrderOnUploadError = %v, want %v", tc.name, got, tc.want)
		}
	}
}
