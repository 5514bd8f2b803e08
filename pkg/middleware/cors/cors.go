package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders  = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	exposeHeaders = "Content-Disposition, X-Request-ID"
)

// Options configures the middleware.
type Options struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// Policy decides which browser origins may call the API. An empty list or a
// "*" entry allows every origin. Trailing slashes are ignored.
type Policy struct {
	allowAll bool
	origins  map[string]struct{}
}

// NewPolicy builds a Policy from configured origins.
func NewPolicy(allowedOrigins []string) Policy {
	p := Policy{allowAll: len(allowedOrigins) == 0, origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			p.allowAll = true
			continue
		}
		p.origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return p
}

// Allows reports whether origin may access the API.
func (p Policy) Allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[strings.TrimRight(origin, "/")]
	return ok
}

// New returns a CORS middleware enforcing opts.
func New(opts Options) gin.HandlerFunc {
	policy := NewPolicy(opts.AllowedOrigins)
	maxAge := ""
	if opts.MaxAge > 0 {
		maxAge = strconv.Itoa(int(opts.MaxAge / time.Second))
	}

	return func(c *gin.Context) {
		header := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && policy.Allows(origin):
			header.Set("Access-Control-Allow-Origin", origin)
			if opts.AllowCredentials {
				header.Set("Access-Control-Allow-Credentials", "true")
			}
		case origin == "" && policy.allowAll:
			header.Set("Access-Control-Allow-Origin", "*")
		}

		header.Add("Vary", "Origin")
		header.Set("Access-Control-Allow-Headers", allowHeaders)
		header.Set("Access-Control-Allow-Methods", allowMethods)
		header.Set("Access-Control-Expose-Headers", exposeHeaders)
		if maxAge != "" {
			header.Set("Access-Control-Max-Age", maxAge)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
