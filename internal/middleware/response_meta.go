package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/pkg/middleware/requestid"
)

const (
	metaKey      = "responseMeta"
	metaStartKey = "responseMetaStart"
)

// WithResponseMeta opens a per-request metadata map that handlers attach to
// their envelope. It starts out holding the request id.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := map[string]interface{}{}
		if id := requestid.Value(c); id != "" {
			meta["request_id"] = id
		}
		c.Set(metaKey, meta)
		c.Set(metaStartKey, time.Now())
		c.Next()
	}
}

// SetCacheHit marks whether the payload was served from the cache.
func SetCacheHit(c *gin.Context, hit bool) {
	responseMeta(c)["cache_hit"] = hit
}

// ExtractMeta returns the request metadata with the time spent so far.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	meta := responseMeta(c)
	if start, ok := c.Get(metaStartKey); ok {
		if t, ok := start.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(t).Milliseconds()
		}
	}
	return meta
}

func responseMeta(c *gin.Context) map[string]interface{} {
	if v, ok := c.Get(metaKey); ok {
		if meta, ok := v.(map[string]interface{}); ok {
			return meta
		}
	}
	meta := map[string]interface{}{}
	c.Set(metaKey, meta)
	return meta
}
