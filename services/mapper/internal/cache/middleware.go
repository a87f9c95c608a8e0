package cache

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// storeTimeout bounds each cache round trip so a slow store never holds a
// request.
const storeTimeout = 500 * time.Millisecond

type recorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware serves GET responses from store, keyed by the exact request URI.
// Only 2xx responses are stored. Store errors are logged and bypassed.
func Middleware(store Store, ttl time.Duration, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if store == nil || ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := r.URL.RequestURI()

			gctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
			e, ok, err := store.Get(gctx, key)
			cancel()
			if err != nil {
				log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
			}
			if ok {
				if e.ContentType != "" {
					w.Header().Set("Content-Type", e.ContentType)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(e.Status)
				_, _ = w.Write(e.Body)
				return
			}

			w.Header().Set("X-Cache", "MISS")
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status > 299 {
				return
			}
			sctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), storeTimeout)
			defer cancel()
			entry := Entry{Status: rec.status, ContentType: rec.Header().Get("Content-Type"), Body: rec.buf.Bytes()}
			if err := store.Set(sctx, key, entry, ttl); err != nil {
				log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
