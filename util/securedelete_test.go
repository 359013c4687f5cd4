package util

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noMediumCheck(string) error { return nil }

func TestSecureDeleteRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.WriteFile(path, []byte("sensitive content"), 0600))

	require.NoError(t, SecureDeleteChecked(path, 2, noMediumCheck))
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSecureDeleteEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	require.NoError(t, SecureDeleteChecked(path, 0, noMediumCheck))
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSecureDeleteIncompleteMedium(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cow")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))

	err := SecureDeleteChecked(path, 1, func(string) error { return errors.New("copy on write") })
	assert.ErrorIs(t, err, types.ErrDeletionIncomplete)
	// unlinked regardless
	_, sErr := os.Stat(path)
	assert.True(t, errors.Is(sErr, os.ErrNotExist))
}

func TestSecureDeleteMissingFile(t *testing.T) {
	err := SecureDeleteChecked(filepath.Join(t.TempDir(), "missing"), 1, noMediumCheck)
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestOverwriteTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pad")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	require.NoError(t, overwrite(path, 1))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestOverwritePassesReplacesContent(t *testing.T) {
	cases := map[string]struct {
		size   int
		padded int64
	}{
		"short":         {size: 5, padded: 4096},
		"one block":     {size: 4096, padded: 4096},
		"past a block":  {size: 5000, padded: 8192},
		"several block": {size: 3*4096 + 1, padded: 4 * 4096},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			original := make([]byte, tc.size)
			_, err := rand.Read(original)
			require.NoError(t, err)
			path := filepath.Join(t.TempDir(), "object")
			require.NoError(t, os.WriteFile(path, original, 0600))

			file, err := os.OpenFile(path, os.O_WRONLY, 0)
			require.NoError(t, err)
			require.NoError(t, overwritePasses(file, 2))
			require.NoError(t, file.Close())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.padded, int64(len(data)))
			assert.Zero(t, int64(len(data))%overwriteBlockSize)
			prefix := original
			if len(prefix) > 16 {
				prefix = prefix[:16]
			}
			assert.False(t, bytes.Contains(data, prefix), "original bytes survived the overwrite")
		})
	}
}
