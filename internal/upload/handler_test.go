package upload

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/sdm/internal/middleware"
	"terminal-terrace/sdm/internal/staging"
	authsdk "terminal-terrace/sdm/packages/auth-sdk"
	"terminal-terrace/sdm/packages/response"
)

const testSecret = "test-secret"

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/api"), NewHandler(f.service), middleware.OptionalJWTAuth(testSecret), middleware.JWTAuth(testSecret))
	return r
}

func bearer(t *testing.T, email string) string {
	t.Helper()
	token, err := authsdk.SignToken(authsdk.Claims{Email: email}, testSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestIncrementalHandler_Phases(t *testing.T) {
	f := newFixture(t, false)
	r := newTestRouter(f)
	auth := bearer(t, "alice@example.org")

	body := []byte(scenarioMetadata)
	req := httptest.NewRequest(http.MethodPut, "/api/upload/incremental?filename=metadata.json", bytes.NewReader(body))
	req.Header.Set("Authorization", auth)
	req.Header.Set(DigestHeader, sha1hex(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var id string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &id))
	require.NotEmpty(t, id)

	chunk := []byte("pixels")
	req = httptest.NewRequest(http.MethodPut, "/api/upload/incremental?_id="+id+"&filename=img.dcm&complete=false", bytes.NewReader(chunk))
	req.Header.Set("Authorization", auth)
	req.Header.Set(DigestHeader, sha1hex([]byte("wrong")))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body400 response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body400))
	assert.Equal(t, response.ResponseCode(400), body400.Code)
	assert.Equal(t, "Content-MD5 mismatch.", body400.Detail)
	assert.Equal(t, "alice@example.org", body400.UID)

	req = httptest.NewRequest(http.MethodPut, "/api/upload/incremental?_id="+id+"&filename=img.dcm", bytes.NewReader(chunk))
	req.Header.Set("Authorization", auth)
	req.Header.Set(DigestHeader, sha1hex(chunk))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/upload/incremental/"+id, nil)
	req.Header.Set("Authorization", auth)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sess staging.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, staging.StateAppending, sess.State)
	assert.Len(t, sess.Members, 2)

	// 无项目权限的用户不能查看
	req = httptest.NewRequest(http.MethodGet, "/api/upload/incremental/"+id, nil)
	req.Header.Set("Authorization", bearer(t, "bob@example.org"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 状态查询必须登录
	req = httptest.NewRequest(http.MethodGet, "/api/upload/incremental/"+id, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/upload/incremental?_id="+id+"&complete=1", nil)
	req.Header.Set("Authorization", auth)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.ingester.calls, 1)
}

func TestIncrementalHandler_AnonymousDenied(t *testing.T) {
	f := newFixture(t, false)
	r := newTestRouter(f)

	body := []byte(scenarioMetadata)
	req := httptest.NewRequest(http.MethodPut, "/api/upload/incremental?filename=metadata.json", bytes.NewReader(body))
	req.Header.Set(DigestHeader, sha1hex(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIncrementalHandler_UnknownUpload(t *testing.T) {
	f := newFixture(t, false)
	r := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPut, "/api/upload/incremental?_id=missing&complete=true", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadHandler_UnsupportedFormat(t *testing.T) {
	f := newFixture(t, false)
	r := newTestRouter(f)

	payload := []byte("plain text")
	req := httptest.NewRequest(http.MethodPut, "/api/upload?filename=notes.txt", bytes.NewReader(payload))
	req.Header.Set(DigestHeader, sha1hex(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Only tar files are accepted.", body.Detail)
}
