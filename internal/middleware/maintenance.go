package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

const maintenanceHeader = "X-Maintenance-Mode"

// MaintenanceChecker reports whether maintenance mode is on.
type MaintenanceChecker interface {
	MaintenanceMode(ctx context.Context) bool
}

// Maintenance rejects writes from non-admins while maintenance mode is on.
// Reads keep working so clients can still show cached progress.
func Maintenance(checker MaintenanceChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil || isRead(c.Request.Method) {
			c.Next()
			return
		}
		if !checker.MaintenanceMode(c.Request.Context()) {
			c.Next()
			return
		}
		c.Writer.Header().Set(maintenanceHeader, "true")
		if claims := Claims(c); claims != nil && claims.Role == models.RoleAdmin {
			c.Next()
			return
		}
		response.Error(c, appErrors.New("MAINTENANCE", http.StatusServiceUnavailable, "service is in maintenance mode"))
		c.Abort()
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
