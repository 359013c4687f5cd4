package util

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sourcedrop/sourcedrop-server/types"
)

const overwriteBlockSize = 4096

// SecureDelete overwrites the file at path with random bytes, padded up to the
// next block boundary, syncs every pass, truncates and unlinks it.
//
// The file is always unlinked when possible. If any overwrite step failed, or
// the medium cannot guarantee in place overwrites, the returned error wraps
// types.ErrDeletionIncomplete.
func SecureDelete(path string, passes int) error {
	return SecureDeleteChecked(path, passes, CheckInPlaceMedium)
}

// SecureDeleteChecked is SecureDelete with a custom storage medium check
func SecureDeleteChecked(path string, passes int, mediumCheck func(path string) error) error {
	if passes < 1 {
		passes = 1
	}
	var incomplete error
	if mediumCheck == nil {
		mediumCheck = CheckInPlaceMedium
	}
	if err := mediumCheck(path); err != nil {
		incomplete = err
	}
	if err := overwrite(path, passes); err != nil {
		incomplete = errors.Join(incomplete, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", path, errors.Join(types.ErrStorageUnavailable, err))
	}
	if incomplete != nil {
		return fmt.Errorf("%w: %w", types.ErrDeletionIncomplete, incomplete)
	}
	return nil
}

func overwrite(path string, passes int) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open file for secure deletion: %w", err)
	}
	defer file.Close()

	if err := overwritePasses(file, passes); err != nil {
		return err
	}
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	return file.Sync()
}

// overwritePasses fills file with random bytes up to the next block boundary,
// syncing after each pass
func overwritePasses(file *os.File, passes int) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file for secure deletion: %w", err)
	}
	padded := paddedSize(info.Size())

	buffer := make([]byte, 8192)
	for pass := 0; pass < passes; pass++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind file: %w", err)
		}
		var written int64
		for written < padded {
			chunk := buffer
			if remaining := padded - written; remaining < int64(len(chunk)) {
				chunk = chunk[:remaining]
			}
			if _, err := io.ReadFull(rand.Reader, chunk); err != nil {
				return fmt.Errorf("failed to generate random data for secure deletion: %w", err)
			}
			n, err := file.Write(chunk)
			if err != nil {
				return fmt.Errorf("failed to overwrite file: %w", err)
			}
			written += int64(n)
		}
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file during secure deletion: %w", err)
		}
	}
	return nil
}

// paddedSize rounds size up to a whole number of blocks, at least one
func paddedSize(size int64) int64 {
	if size > 0 && size%overwriteBlockSize == 0 {
		return size
	}
	return ((size / overwriteBlockSize) + 1) * overwriteBlockSize
}
