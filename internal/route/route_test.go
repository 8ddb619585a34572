package route

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/sdm/internal/download"
	"terminal-terrace/sdm/internal/logging"
	"terminal-terrace/sdm/internal/upload"
	"terminal-terrace/sdm/packages/response"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logging.Discard()
	return SetupRouter(Deps{
		Upload:      upload.NewHandler(nil),
		Download:    download.NewHandler(nil, download.NewAssembler(false, log), 0, log),
		JWTSecret:   "secret",
		FrontendURL: "https://sdm.example.org",
	})
}

func TestHealth(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, response.ResponseCode(response.Success), body.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/api", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/upload/incremental", nil)
	req.Header.Set("Origin", "https://sdm.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://sdm.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadStatusRequiresLogin(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/upload/incremental/abc", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
