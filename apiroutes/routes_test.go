package apiroutes

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/queue"
	"github.com/sourcedrop/sourcedrop-server/repository"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router  *gin.Engine
	store   *services.StoreService
	vault   *services.KeyVaultService
	sources *services.SourceService
	codec   *util.Codec
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	operator, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	operatorPEM, err := util.EncodePublicKeyPEM(&operator.PublicKey)
	require.NoError(t, err)
	operatorPath := filepath.Join(dir, "operator.pub")
	require.NoError(t, os.WriteFile(operatorPath, operatorPEM, 0600))

	conf := global.DefaultConfig()
	conf.Mode = "test"
	conf.Codename.IDPepper = "routes-id-pepper"
	conf.Codename.DisplayPepper = "routes-display-pepper"
	conf.Codename.ScryptN = 16
	conf.Codename.ScryptR = 1
	conf.Keys = global.KeysConfig{Dir: filepath.Join(dir, "keys"), Bits: 1024, Argon2Time: 1, Argon2Memory: 64, Argon2Threads: 1}
	conf.Storage.StoreDir = filepath.Join(dir, "store")
	conf.Storage.MaxUploadBytes = 1 << 20
	conf.Operator = global.OperatorConfig{PublicKeyPath: operatorPath, KeyName: "Operator"}
	conf.Session.SecretHex = strings.Repeat("ab", 32)
	global.Conf = conf

	vault, err := services.NewKeyVaultService(conf.Keys, conf.Operator)
	require.NoError(t, err)
	store, err := services.NewStoreService(conf.Storage, vault)
	require.NoError(t, err)

	repo, err := repository.NewBadgerRepository("", repository.Sources, true)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	selector := repository.NewCouchDBSelector()
	selector.AddDB(repo)

	var secret [32]byte
	runner := queue.NewLocalRunner(queue.NewKeyQueue(vault, &secret), 1, 10)
	t.Cleanup(runner.Shutdown)

	router := ConfigRoutes(NewAPIRouter(&conf), selector, vault, store, runner, types.NewEnvironment(nil))
	return &testServer{
		router:  router,
		store:   store,
		vault:   vault,
		sources: services.NewSourceService(selector),
		codec:   util.NewCodec(conf.Codename),
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) submit(t *testing.T, token string, fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("fh", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func lookup(t *testing.T, ts *testServer, token string) types.OutputLookup {
	t.Helper()
	w := ts.do(t, http.MethodGet, "/api/v1/lookup", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[types.OutputLookup](t, w)
}

func TestSourceJourney(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/generate", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	generated := decode[types.OutputCodename](t, w)
	assert.Len(t, strings.Fields(generated.Codename), 8)
	assert.NotContains(t, w.Header().Get("Set-Cookie"), "abandon")

	// not usable before create
	w = ts.do(t, http.MethodPost, "/api/v1/login", "", types.InputLogin{Codename: generated.Codename})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/lookup", generated.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/create", generated.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[types.OutputSession](t, w)
	assert.NotEmpty(t, created.DisplayID)
	token := created.Token

	w = ts.submit(t, token, map[string]string{"msg": "hello newsroom"}, "leak.txt", []byte("the documents"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decode[types.OutputSubmit](t, w)
	assert.Equal(t, 2, submitted.Received)
	assert.Equal(t, []string{
		"Thanks! We received your message.",
		"Thanks! We received your document 'leak.txt'.",
	}, submitted.Notifications)

	result := lookup(t, ts, token)
	assert.Equal(t, created.DisplayID, result.DisplayID)
	assert.Empty(t, result.Replies)
	assert.False(t, result.Flagged)
	assert.False(t, result.HasKey)

	// operator flags the source, the next lookup schedules key generation
	sid, err := ts.codec.HashCodename(generated.Codename)
	require.NoError(t, err)
	_, err = ts.sources.SetFlagged(context.Background(), sid, true)
	require.NoError(t, err)
	result = lookup(t, ts, token)
	assert.True(t, result.Flagged)
	assert.Eventually(t, func() bool { return ts.vault.HasKeypair(sid) }, 30*time.Second, 50*time.Millisecond)

	replyName, err := ts.store.SaveReply(sid, "we got it, thank you")
	require.NoError(t, err)

	// logout then login again with the codename
	w = ts.do(t, http.MethodPost, "/api/v1/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/login", "", types.InputLogin{Codename: "  " + strings.ToUpper(generated.Codename)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token = decode[types.OutputSession](t, w).Token

	result = lookup(t, ts, token)
	assert.True(t, result.HasKey)
	require.Len(t, result.Replies, 1)
	assert.Equal(t, replyName, result.Replies[0].ID)
	assert.Equal(t, "we got it, thank you", result.Replies[0].Message)

	w = ts.do(t, http.MethodPost, "/api/v1/delete", token, types.InputDelete{MsgID: replyName})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, lookup(t, ts, token).Replies)

	w = ts.do(t, http.MethodPost, "/api/v1/delete", token, types.InputDelete{MsgID: replyName})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitFailures(t *testing.T) {
	ts := newTestServer(t)
	generated := decode[types.OutputCodename](t, ts.do(t, http.MethodPost, "/api/v1/generate", "", nil))
	token := decode[types.OutputSession](t, ts.do(t, http.MethodPost, "/api/v1/create", generated.Token, nil)).Token

	w := ts.submit(t, token, map[string]string{}, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.submit(t, "", map[string]string{"msg": "anonymous"}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/delete", token, types.InputDelete{MsgID: "../../etc/passwd"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/delete", token, types.InputDelete{MsgID: "0000000001-msg.sde"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateRejectsWordCount(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/generate", "", types.InputGenerate{NumberWords: 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/generate", "", types.InputGenerate{NumberWords: 10})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, strings.Fields(decode[types.OutputCodename](t, w).Codename), 10)
}

func TestCreateWithoutCodename(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/create", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJournalistKeyAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/journalist-key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pgp-keys", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Operator.asc")
	assert.Contains(t, w.Body.String(), "BEGIN PUBLIC KEY")

	w = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTor2WebWarning(t *testing.T) {
	ts := newTestServer(t)
	generated := decode[types.OutputCodename](t, ts.do(t, http.MethodPost, "/api/v1/generate", "", nil))
	token := decode[types.OutputSession](t, ts.do(t, http.MethodPost, "/api/v1/create", generated.Token, nil)).Token

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookup", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tor2web", "1")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[types.OutputLookup](t, w).Warning)
}
