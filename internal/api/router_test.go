package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"facebooth-go/config"
	"facebooth-go/internal/api/middleware"
	"facebooth-go/internal/locale"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type langEcho struct{}

func (langEcho) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/lang", func(c *gin.Context) {
		c.String(http.StatusOK, middleware.Language(c))
	})
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	translator, err := locale.NewTranslator(config.I18nConfig{DefaultLanguage: "en"})
	require.NoError(t, err)

	router := NewRouter(config.ServerConfig{CORSOrigins: []string{"http://kiosk.local"}}, translator, langEcho{})

	req := httptest.NewRequest(http.MethodGet, "/api/lang", nil)
	req.Header.Set("Origin", "http://kiosk.local")
	req.Header.Set("Accept-Language", "de-CH")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "de", w.Body.String())
	assert.Equal(t, "http://kiosk.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/lang", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
