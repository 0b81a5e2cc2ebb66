package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YananZhang666/wopihost/pkg/wopi/access"
	"github.com/YananZhang666/wopihost/pkg/wopi/lock"
	"github.com/YananZhang666/wopihost/pkg/wopi/proofkey"
	"github.com/YananZhang666/wopihost/pkg/wopi/state"
	"github.com/YananZhang666/wopihost/pkg/wopi/storage/memory"
)

type testHarness struct {
	router http.Handler
	store  *memory.Store
	minter *access.Minter
	core   *Core
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	secret := []byte("test-secret-key-must-be-32-bytes!!")
	minter, err := access.NewMinter(secret, "wopihost-test", time.Hour)
	require.NoError(t, err)
	validator := access.NewValidator(secret)
	source := access.NewStaticSource(access.PermissionWrite)
	gate := access.NewGate(validator, source)

	store := memory.New("root", false)

	core := &Core{
		Locks:         lock.New(),
		Storage:       store,
		Gate:          gate,
		Minter:        minter,
		ProofKey:      proofkey.Permissive{},
		UserInfo:      state.NewUserInfo(),
		RevokedLinks:  state.NewRevokedLinks(),
		ServerVersion: "test",
		MachineName:   "test-host",
		RootName:      "root",
	}

	return &testHarness{router: newRouter(core), store: store, minter: minter, core: core}
}

func (h *testHarness) token(t *testing.T, user, fileID string) string {
	t.Helper()
	token, err := h.minter.Mint(user, fileID)
	require.NoError(t, err)
	return token
}

func (h *testHarness) do(method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestCheckFileInfo_Success(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hello")))
	token := h.token(t, "alice", "doc.docx")

	rec := h.do(http.MethodGet, "/wopi/files/doc.docx?access_token="+token, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"BaseFileName":"doc.docx"`)
	assert.Equal(t, "test", rec.Header().Get("X-WOPI-ServerVersion"))
}

func TestCheckFileInfo_MissingFileReturns404(t *testing.T) {
	h := newTestHarness(t)
	token := h.token(t, "alice", "missing.docx")
	rec := h.do(http.MethodGet, "/wopi/files/missing.docx?access_token="+token, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckFileInfo_InvalidTokenReturns401(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	rec := h.do(http.MethodGet, "/wopi/files/doc.docx?access_token=garbage", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLockUnlockRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	lockReq := map[string]string{"X-WOPI-Override": "LOCK", "X-WOPI-Lock": "L1"}
	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token, lockReq, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "LOCK", "X-WOPI-Lock": "L2"}, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "L1", rec.Header().Get("X-WOPI-Lock"))

	unlockReq := map[string]string{"X-WOPI-Override": "UNLOCK", "X-WOPI-Lock": "L1"}
	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token, unlockReq, "")
	require.Equal(t, http.StatusOK, rec.Code)

	getLockReq := map[string]string{"X-WOPI-Override": "GET_LOCK"}
	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token, getLockReq, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", rec.Header().Get("X-WOPI-Lock"))
}

func TestUnlockAndRelock(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "LOCK", "X-WOPI-Lock": "L"}, "")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "LOCK", "X-WOPI-Lock": "M", "X-WOPI-OldLock": "L"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "M", rec.Header().Get("X-WOPI-OldLock"))

	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "GET_LOCK"}, "")
	assert.Equal(t, "M", rec.Header().Get("X-WOPI-Lock"))
}

func TestPutFile_RequiresMatchingLock(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "LOCK", "X-WOPI-Lock": "L1"}, "")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx/contents?access_token="+token,
		map[string]string{"X-WOPI-Lock": "L1"}, "new content")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-WOPI-ItemVersion"))

	rec = h.do(http.MethodPost, "/wopi/files/doc.docx/contents?access_token="+token,
		map[string]string{"X-WOPI-Lock": "WRONG"}, "more")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "L1", rec.Header().Get("X-WOPI-Lock"))
}

func TestGetFile_StreamsBytes(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("payload")))
	token := h.token(t, "alice", "doc.docx")

	rec := h.do(http.MethodGet, "/wopi/files/doc.docx/contents?access_token="+token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
}

func TestDeleteFile_RejectedWhenLocked(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "LOCK", "X-WOPI-Lock": "L1"}, "")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "DELETE"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "UNLOCK", "X-WOPI-Lock": "L1"}, "")

	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "DELETE"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.store.Exists(nil, "doc.docx"))
}

func TestRenameFile_ConflictReturns400(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "a.docx", strings.NewReader("a")))
	require.NoError(t, h.store.CreateOrOverwrite(nil, "b.docx", strings.NewReader("b")))
	token := h.token(t, "alice", "a.docx")

	rec := h.do(http.MethodPost, "/wopi/files/a.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "RENAME_FILE", "X-WOPI-RequestedName": "b.docx"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-WOPI-InvalidFileNameError"))
}

func TestPutUserInfo_SurfacedByCheckFileInfo(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "PUT_USER_INFO"}, "x")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/wopi/files/doc.docx?access_token="+token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"UserInfo":"x"`)
}

func TestGetRestrictedLink_RevokedReturnsEmpty(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "GET_RESTRICTED_LINK", "X-WOPI-RestrictedUseLink": "FORMS"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-WOPI-RestrictedUseLink"))

	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "REVOKE_RESTRICTED_LINK", "X-WOPI-RestrictedUseLink": "FORMS"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "GET_RESTRICTED_LINK", "X-WOPI-RestrictedUseLink": "FORMS"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", rec.Header().Get("X-WOPI-RestrictedUseLink"))
}

func TestCobaltRequest_Always501(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "COBALT"}, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCheckFolderInfo_NameMismatchReturns404(t *testing.T) {
	h := newTestHarness(t)
	token := h.token(t, "alice", "wrong-root")
	rec := h.do(http.MethodGet, "/wopi/folders/wrong-root?access_token="+token, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckFolderInfo_Success(t *testing.T) {
	h := newTestHarness(t)
	token := h.token(t, "alice", "root")
	rec := h.do(http.MethodGet, "/wopi/folders/root?access_token="+token, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"FolderName":"root"`)
}

func TestEnumerateChildren_ListsFiles(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "a.docx", strings.NewReader("a")))
	require.NoError(t, h.store.CreateOrOverwrite(nil, "b.docx", strings.NewReader("b")))
	token := h.token(t, "alice", "root")

	rec := h.do(http.MethodGet, "/wopi/folders/root/children?access_token="+token, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.docx")
	assert.Contains(t, rec.Body.String(), "b.docx")
}

func TestPutRelativeFile_SuggestedTargetExtensionSwap(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.CreateOrOverwrite(nil, "doc.docx", strings.NewReader("hi")))
	token := h.token(t, "alice", "doc.docx")

	rec := h.do(http.MethodPost, "/wopi/files/doc.docx?access_token="+token,
		map[string]string{"X-WOPI-Override": "PUT_RELATIVE", "X-WOPI-SuggestedTarget": ".pdf"}, "pdf-bytes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Name":"doc.pdf"`)
}
