package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a recorded availability response.
type snapshot struct {
	status int
	header http.Header
	body   []byte
}

// recorder tees the handler's output into a buffer.
type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// cacheKey orders the query so ?end=..&start=.. and ?start=..&end=.. share
// one entry.
func cacheKey(c *gin.Context) string {
	return c.Request.URL.Path + "?" + c.Request.URL.Query().Encode()
}

// Cache serves repeated availability reads from memory for ttl.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(c)
		if v, found := store.Get(key); found {
			snap := v.(*snapshot)
			for k, vals := range snap.header {
				c.Writer.Header()[k] = vals
			}
			c.Header("X-Cache", "HIT")
			c.Data(snap.status, snap.header.Get("Content-Type"), snap.body)
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")
		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			header := rec.Header().Clone()
			header.Del("X-Cache")
			store.Set(key, &snapshot{status: status, header: header, body: rec.buf.Bytes()}, ttl)
		}
	}
}

// Invalidate flushes the response cache after any successful request that
// may have changed pod occupancy or bookings.
func Invalidate(store *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.Method != http.MethodGet && c.Writer.Status() < 300 {
			store.Flush()
		}
	}
}
