package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"battleserver/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TokenAuthentication(secret, zap.NewNop()))
	r.GET("/rooms", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("operator"))
	})
	return r
}

func get(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTokenAuthentication(t *testing.T) {
	secret := []byte("s3cret")
	r := newRouter(secret)
	token, err := auth.GenerateToken(secret, "ops", time.Hour)
	require.NoError(t, err)

	w := get(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer junk").Code)
}

func TestTokenAuthentication_Disabled(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(newRouter(nil), "").Code)
}
