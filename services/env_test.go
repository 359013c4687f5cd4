package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/repository"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	dir        string
	operator   *rsa.PrivateKey
	codec      *util.Codec
	vault      *KeyVaultService
	store      *StoreService
	sources    *SourceService
	identity   *IdentityService
	scheduler  *fakeScheduler
	submission *SubmissionService
}

func testCodenameConfig() global.CodenameConfig {
	return global.CodenameConfig{
		DefaultWords:  8,
		MinWords:      7,
		MaxWords:      10,
		IDPepper:      "test-id-pepper",
		DisplayPepper: "test-display-pepper",
		ScryptN:       16,
		ScryptR:       1,
		ScryptP:       1,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	operator, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	operatorPEM, err := util.EncodePublicKeyPEM(&operator.PublicKey)
	require.NoError(t, err)
	operatorPath := filepath.Join(dir, "operator.pub")
	require.NoError(t, os.WriteFile(operatorPath, operatorPEM, 0600))

	vault, err := NewKeyVaultService(global.KeysConfig{
		Dir:           filepath.Join(dir, "keys"),
		Bits:          1024,
		Argon2Time:    1,
		Argon2Memory:  64,
		Argon2Threads: 1,
	}, global.OperatorConfig{PublicKeyPath: operatorPath, KeyName: "Operator"})
	require.NoError(t, err)

	store, err := NewStoreService(global.StorageConfig{
		StoreDir:           filepath.Join(dir, "store"),
		SecureDeletePasses: 1,
		MaxUploadBytes:     1 << 20,
	}, vault)
	require.NoError(t, err)
	store.mediumCheck = func(string) error { return nil }

	repo, err := repository.NewBadgerRepository("", repository.Sources, true)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	selector := repository.NewCouchDBSelector()
	selector.AddDB(repo)

	codec := util.NewCodec(testCodenameConfig())
	sources := NewSourceService(selector)
	identity := NewIdentityService(codec, sources, store, 8, time.Hour)
	scheduler := &fakeScheduler{}

	return &testEnv{
		dir:        dir,
		operator:   operator,
		codec:      codec,
		vault:      vault,
		store:      store,
		sources:    sources,
		identity:   identity,
		scheduler:  scheduler,
		submission: NewSubmissionService(store, vault, sources, scheduler),
	}
}

// newSource establishes a fresh source and returns its context
func (e *testEnv) newSource(t *testing.T) *types.SourceContext {
	t.Helper()
	sess, err := e.identity.StartNew(0)
	require.NoError(t, err)
	srcCtx, err := e.identity.Establish(context.Background(), sess)
	require.NoError(t, err)
	return srcCtx
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []*types.KeyGenJob
	err  error
}

func (f *fakeScheduler) Schedule(ctx context.Context, job *types.KeyGenJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.err
}

func (f *fakeScheduler) scheduled() []*types.KeyGenJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.KeyGenJob(nil), f.jobs...)
}
