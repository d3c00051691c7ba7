package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/mayegue-core/pkg/middleware/requestid"
)

func TestResponseMetaCarriesRequestIDAndCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestid.Middleware(), WithResponseMeta())
	r.GET("/counts", func(c *gin.Context) {
		SetCacheHit(c, true)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	rec := perform(r, http.MethodGet, "/counts", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"cache_hit":true`)
	assert.Contains(t, body, `"processing_time_ms"`)
	assert.Contains(t, body, rec.Header().Get("X-Request-ID"))
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/counts", func(c *gin.Context) {
		SetCacheHit(c, false)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	rec := perform(r, http.MethodGet, "/counts", "")
	assert.JSONEq(t, `{"cache_hit":false}`, rec.Body.String())
}
