package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxtrust/rxtrust/internal/platform/auth"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotency-Replayed"
)

// Middleware replays the first response recorded for an Idempotency-Key.
// Keys are scoped to the authenticated user. A duplicate that arrives while
// the first request is still running gets 409. A key reused with a different
// method, path or body gets 422. Server errors are not cached so the client
// can retry them.
func Middleware(store Store, ttl time.Duration, logger zerolog.Logger) echo.MiddlewareFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost {
				return next(c)
			}
			idemKey := req.Header.Get(HeaderKey)
			if idemKey == "" {
				return next(c)
			}
			if len(idemKey) > 128 {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key too long")
			}

			ctx := req.Context()
			key := auth.UserIDFromContext(ctx) + ":" + idemKey

			bodyHash, err := fingerprint(req)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
			}

			cached, found, err := store.Get(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency lookup failed, executing request")
				return next(c)
			}
			if found {
				if cached == nil {
					return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
				}
				if cached.Method != req.Method || cached.Path != req.URL.Path || cached.BodyHash != bodyHash {
					return echo.NewHTTPError(http.StatusUnprocessableEntity, "Idempotency-Key was already used for a different operation")
				}
				return replay(c, cached)
			}

			reserved, err := store.Reserve(ctx, key, ttl)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency reserve failed, executing request")
				return next(c)
			}
			if !reserved {
				return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
			}

			origWriter := c.Response().Writer
			rec := &recorder{ResponseWriter: origWriter, body: &bytes.Buffer{}, statusCode: http.StatusOK, headers: make(http.Header)}
			c.Response().Writer = rec

			herr := next(c)
			if herr != nil {
				// Render the error into the recorder so it can be cached too.
				c.Error(herr)
			}
			c.Response().Writer = origWriter

			if rec.statusCode >= 500 {
				if err := store.Delete(ctx, key); err != nil {
					logger.Warn().Err(err).Msg("idempotency release failed")
				}
			} else {
				entry := &Entry{
					Method:     req.Method,
					Path:       req.URL.Path,
					BodyHash:   bodyHash,
					StatusCode: rec.statusCode,
					Headers:    rec.headers.Clone(),
					Body:       rec.body.Bytes(),
				}
				if err := store.Set(ctx, key, entry, ttl); err != nil {
					logger.Warn().Err(err).Msg("idempotency store failed")
				}
			}

			for k, vals := range rec.headers {
				origWriter.Header()[k] = vals
			}
			origWriter.WriteHeader(rec.statusCode)
			_, err = origWriter.Write(rec.body.Bytes())
			return err
		}
	}
}

// fingerprint hashes the request body and puts it back for the handler.
func fingerprint(req *http.Request) (string, error) {
	if req.Body == nil || req.Body == http.NoBody {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:]), nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return "", err
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func replay(c echo.Context, e *Entry) error {
	resp := c.Response()
	for k, vals := range e.Headers {
		resp.Header()[k] = vals
	}
	resp.Header().Set(HeaderReplayed, "true")
	resp.WriteHeader(e.StatusCode)
	_, err := resp.Write(e.Body)
	return err
}

// recorder buffers the downstream response.
type recorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	headers    http.Header
	wroteHead  bool
}

func (r *recorder) Header() http.Header {
	return r.headers
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.statusCode = code
	r.wroteHead = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
