package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/middleware"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// callerID returns the remote id of the signed-in caller or writes a 401.
func callerID(c *gin.Context) (string, bool) {
	claims := middleware.Claims(c)
	if claims == nil || claims.RemoteID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.RemoteID, true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.ErrValidation.Wrap(err, "invalid payload"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return fallback
}
