package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsPolicy lists the browser origins allowed to call the API. The web
// client reads ETag to make conditional state reads.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool
}

func newCORSPolicy(originsCSV string) corsPolicy {
	p := corsPolicy{origins: map[string]bool{}}
	for _, part := range strings.Split(originsCSV, ",") {
		if v := strings.TrimSpace(part); v != "" {
			p.origins[v] = true
		}
	}
	p.anyOrigin = len(p.origins) == 0 || p.origins["*"]
	return p
}

func (p corsPolicy) allows(origin string) bool {
	return origin != "" && (p.anyOrigin || p.origins[origin])
}

func (p corsPolicy) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := strings.TrimSpace(c.GetHeader("Origin")); p.allows(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", "ETag")
			if c.Request.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Client-ID, X-Client-Info, If-None-Match")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Max-Age", "600")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
