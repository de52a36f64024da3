package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestObserver records HTTP request metrics.
type RequestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
	TrackInFlight(delta int)
}

const unmatchedRoute = "unmatched"

// Metrics records every request under its route template so label cardinality stays bounded.
// Requests for excluded routes, such as the scrape endpoint itself, are not observed.
func Metrics(observer RequestObserver, excluded ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(excluded))
	for _, route := range excluded {
		skip[route] = struct{}{}
	}

	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := skip[route]; ok && route != "" {
			c.Next()
			return
		}

		observer.TrackInFlight(1)
		defer observer.TrackInFlight(-1)

		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		observer.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
