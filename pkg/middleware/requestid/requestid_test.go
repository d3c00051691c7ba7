package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareReusesOrReplacesInboundID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, Value(c)) })

	cases := map[string]bool{
		"abc-123_x.y":            true,
		"":                       false,
		"has space":              false,
		"<script>":               false,
		strings.Repeat("a", 129): false,
	}
	for inbound, kept := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if inbound != "" {
			req.Header.Set(Header, inbound)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		got := w.Header().Get(Header)
		assert.Equal(t, got, w.Body.String())
		if kept {
			assert.Equal(t, inbound, got)
		} else {
			assert.NotEqual(t, inbound, got)
			assert.Len(t, got, 36)
		}
	}
}
