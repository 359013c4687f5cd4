package services

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhrase = "abandon ability able about above absent absorb abstract"

func testSID(t *testing.T, env *testEnv, phrase string) string {
	sid, err := env.codec.HashCodename(phrase)
	require.NoError(t, err)
	return sid
}

func TestGenerateKeypairIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)

	assert.False(t, env.vault.HasKeypair(sid))
	require.NoError(t, env.vault.GenerateKeypair(sid, testPhrase))
	assert.True(t, env.vault.HasKeypair(sid))

	first, err := os.ReadFile(filepath.Join(env.dir, "keys", sid+keyringExt))
	require.NoError(t, err)

	require.NoError(t, env.vault.GenerateKeypair(sid, testPhrase))
	second, err := os.ReadFile(filepath.Join(env.dir, "keys", sid+keyringExt))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateKeypairConcurrentFirstWriterWins(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.vault.GenerateKeypair(sid, testPhrase)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(env.dir, "keys"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp keyrings must be cleaned up")

	sealed, err := env.vault.EncryptForSource(sid, []byte("hello"))
	require.NoError(t, err)
	text, err := env.vault.DecryptText(sid, testPhrase, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestDecryptWithWrongPhrase(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)
	require.NoError(t, env.vault.GenerateKeypair(sid, testPhrase))

	sealed, err := env.vault.EncryptForSource(sid, []byte("reply"))
	require.NoError(t, err)

	_, err = env.vault.DecryptWith(sid, "abandon ability able about above absent absorb zoo", sealed)
	assert.ErrorIs(t, err, types.ErrDecryptionFailed)

	// whitespace and case do not change the codename
	plain, err := env.vault.DecryptWith(sid, "  ABANDON ability able about above absent absorb   abstract ", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), plain)
}

func TestDecryptWithoutKeypair(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)

	_, err := env.vault.DecryptWith(sid, testPhrase, []byte("anything"))
	assert.ErrorIs(t, err, types.ErrDecryptionFailed)

	_, err = env.vault.EncryptForSource(sid, []byte("x"))
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestDecryptCorruptCiphertext(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)
	require.NoError(t, env.vault.GenerateKeypair(sid, testPhrase))

	sealed, err := env.vault.EncryptForSource(sid, []byte("reply"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = env.vault.DecryptWith(sid, testPhrase, sealed)
	assert.ErrorIs(t, err, types.ErrDecryptionFailed)
}

func TestDecryptTextMalformed(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)
	require.NoError(t, env.vault.GenerateKeypair(sid, testPhrase))

	sealed, err := env.vault.EncryptForSource(sid, []byte{0xff, 0xfe, 0xfd})
	require.NoError(t, err)
	_, err = env.vault.DecryptText(sid, testPhrase, sealed)
	assert.ErrorIs(t, err, types.ErrMalformedPlaintext)
}

func TestExportKeys(t *testing.T) {
	env := newTestEnv(t)
	sid := testSID(t, env, testPhrase)

	armored, name, err := env.vault.ExportOperatorKey()
	require.NoError(t, err)
	assert.Equal(t, "Operator.asc", name)
	pub, err := util.ParsePublicKeyPEM(armored)
	require.NoError(t, err)
	assert.Equal(t, env.operator.PublicKey.N, pub.N)

	_, err = env.vault.ExportPublicKey(sid)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	require.NoError(t, env.vault.GenerateKeypair(sid, testPhrase))
	sourcePub, err := env.vault.ExportPublicKey(sid)
	require.NoError(t, err)
	_, err = util.ParsePublicKeyPEM(sourcePub)
	assert.NoError(t, err)
}

func TestKeyVaultRejectsInvalidStorageID(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.vault.HasKeypair("../../etc/passwd"))
	assert.ErrorIs(t, env.vault.GenerateKeypair("../../etc/passwd", testPhrase), types.ErrInvalidReference)
}
