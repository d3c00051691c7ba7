package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func maintenanceRouter(on bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OptionalJWT(testSessions), Maintenance(maintenanceStub(on)))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/progress", ok)
	r.PUT("/progress", ok)
	return r
}

func TestMaintenanceBlocksNonAdminWrites(t *testing.T) {
	r := maintenanceRouter(true)

	w := perform(r, http.MethodPut, "/progress", "student-token")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "true", w.Header().Get(maintenanceHeader))
	assert.Contains(t, w.Body.String(), "MAINTENANCE")

	assert.Equal(t, http.StatusServiceUnavailable, perform(r, http.MethodPut, "/progress", "").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPut, "/progress", "admin-token").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/progress", "student-token").Code)
}

func TestMaintenanceOffPassesThrough(t *testing.T) {
	r := maintenanceRouter(false)

	w := perform(r, http.MethodPut, "/progress", "student-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(maintenanceHeader))
}
