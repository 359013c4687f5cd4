package services

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNamespaceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)

	assert.False(t, env.store.NamespaceExists(sid))
	require.NoError(t, env.store.CreateNamespace(sid))
	require.NoError(t, env.store.CreateNamespace(sid))
	assert.True(t, env.store.NamespaceExists(sid))

	_, err := env.store.Path("not-a-storage-id")
	assert.ErrorIs(t, err, types.ErrInvalidReference)
}

func TestSaveMessageSequenceNames(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)

	first, err := env.store.SaveMessage(src.StorageID, "first")
	require.NoError(t, err)
	second, err := env.store.SaveMessage(src.StorageID, "second")
	require.NoError(t, err)
	assert.Equal(t, "0000000001-msg.sde", first)
	assert.Equal(t, "0000000002-msg.sde", second)

	sealed, err := env.store.ReadObject(src.StorageID, second)
	require.NoError(t, err)
	plain, err := util.OpenEnvelope(env.operator, sealed)
	require.NoError(t, err)
	assert.Equal(t, "second", string(plain))
}

func TestConcurrentSavesNeverShareAName(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)

	const writers = 16
	var wg sync.WaitGroup
	names := make([]string, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i], errs[i] = env.store.SaveMessage(src.StorageID, "concurrent")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range names {
		require.NoError(t, errs[i])
		assert.False(t, seen[names[i]], "duplicate object name %s", names[i])
		seen[names[i]] = true
	}
	listed, err := env.store.ListSubmissions(src.StorageID)
	require.NoError(t, err)
	assert.Len(t, listed, writers)
}

func TestSaveFileArchivesSanitizedName(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)

	name, err := env.store.SaveFile(src.StorageID, &types.FileSubmission{
		Filename:  `C:\Users\me\..\.passport.txt`,
		Stream:    bytes.NewReader([]byte("document body")),
		Signature: bytes.NewReader([]byte("signature")),
	})
	require.NoError(t, err)
	assert.Equal(t, "0000000001-doc.sde", name)

	sealed, err := env.store.ReadObject(src.StorageID, name)
	require.NoError(t, err)
	plain, err := util.OpenEnvelope(env.operator, sealed)
	require.NoError(t, err)
	entries, err := util.UnpackArchive(plain)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "passport.txt", entries[0].Name)
	assert.Equal(t, []byte("document body"), entries[0].Content)
	assert.Equal(t, "passport.txt.sig", entries[1].Name)
}

func TestSaveFileTooLarge(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)
	env.store.maxUploadBytes = 8

	_, err := env.store.SaveFile(src.StorageID, &types.FileSubmission{
		Filename: "big.bin",
		Stream:   bytes.NewReader(make([]byte, 9)),
	})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	listed, err := env.store.ListSubmissions(src.StorageID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestMissingNamespace(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)

	_, err := env.store.SaveMessage(sid, "lost")
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
	_, err = env.store.ListReplies(sid, testPhrase)
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestSaveReplyWithoutKeypair(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)

	_, err := env.store.SaveReply(src.StorageID, "hello")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestListRepliesSkipsBrokenAndHidden(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)
	codename := src.Session.Codename
	require.NoError(t, env.vault.GenerateKeypair(src.StorageID, codename))

	_, err := env.store.SaveReply(src.StorageID, "first reply")
	require.NoError(t, err)
	_, err = env.store.SaveMessage(src.StorageID, "a message")
	require.NoError(t, err)
	_, err = env.store.SaveReply(src.StorageID, "second reply")
	require.NoError(t, err)

	dir, err := env.store.Path(src.StorageID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0000000099-reply.sde"), []byte("garbage"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-abc"), []byte("partial"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".del-abc"), []byte("tombstone"), 0600))

	replies, err := env.store.ListReplies(src.StorageID, codename)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "0000000001-reply.sde", replies[0].ID)
	assert.Equal(t, "first reply", replies[0].Message)
	assert.Equal(t, "0000000003-reply.sde", replies[1].ID)
	assert.Equal(t, "second reply", replies[1].Message)

	// hidden files never take a sequence number
	next, err := env.store.SaveMessage(src.StorageID, "after")
	require.NoError(t, err)
	assert.Equal(t, "0000000100-msg.sde", next)
}

func TestDeleteObject(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)
	require.NoError(t, env.vault.GenerateKeypair(src.StorageID, src.Session.Codename))

	name, err := env.store.SaveReply(src.StorageID, "to be deleted")
	require.NoError(t, err)

	require.NoError(t, env.store.DeleteObject(src.StorageID, name))
	dir, _ := env.store.Path(src.StorageID)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no object or tombstone may remain")

	assert.ErrorIs(t, env.store.DeleteObject(src.StorageID, name), types.ErrNotFound)
}

func TestDeleteObjectRejectsBadNames(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)

	for _, name := range []string{"../0000000001-reply.sde", "0000000001-reply.sde/..", "reply.sde", ".del-x", "", `0000000001-reply.sde\x`} {
		assert.ErrorIs(t, env.store.DeleteObject(src.StorageID, name), types.ErrInvalidReference, name)
	}
}

func TestDeleteObjectOnCopyOnWriteMedium(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)
	env.store.mediumCheck = func(string) error { return errors.New("btrfs") }

	name, err := env.store.SaveMessage(src.StorageID, "secret")
	require.NoError(t, err)

	err = env.store.DeleteObject(src.StorageID, name)
	assert.ErrorIs(t, err, types.ErrDeletionIncomplete)

	listed, err := env.store.ListSubmissions(src.StorageID)
	require.NoError(t, err)
	assert.Empty(t, listed, "the object is unlinked even when deletion is incomplete")
}

func TestNormalizeTimestamps(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)

	var names []string
	for _, m := range []string{"one", "two", "three"} {
		name, err := env.store.SaveMessage(src.StorageID, m)
		require.NoError(t, err)
		names = append(names, name)
	}
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range names[:2] {
		p, _ := env.store.Path(src.StorageID, name)
		require.NoError(t, os.Chtimes(p, old, old))
	}

	require.NoError(t, env.store.NormalizeTimestamps(src.StorageID, names))

	lastPath, _ := env.store.Path(src.StorageID, names[2])
	last, err := os.Stat(lastPath)
	require.NoError(t, err)
	for _, name := range names[:2] {
		p, _ := env.store.Path(src.StorageID, name)
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(last.ModTime()))
	}

	assert.NoError(t, env.store.NormalizeTimestamps(src.StorageID, names[:1]))
}

func TestSweepStale(t *testing.T) {
	env := newTestEnv(t)
	src := env.newSource(t)
	dir, _ := env.store.Path(src.StorageID)

	name, err := env.store.SaveMessage(src.StorageID, "keep")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	for _, hidden := range []string{".tmp-stale", ".del-stale"} {
		p := filepath.Join(dir, hidden)
		require.NoError(t, os.WriteFile(p, []byte("left over"), 0600))
		require.NoError(t, os.Chtimes(p, old, old))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-fresh"), []byte("in flight"), 0600))

	swept, err := env.store.SweepStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var remaining []string
	for _, e := range entries {
		remaining = append(remaining, e.Name())
	}
	assert.ElementsMatch(t, []string{name, ".tmp-fresh"}, remaining)
}
