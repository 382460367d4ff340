package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nestorgt/go-settlement/core"
)

const SecretHeader = "X-Api-Secret"

func requireSecret(secret string) func(http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := []byte(r.Header.Get(SecretHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
				writeError(w, goerrors.New("missing or invalid api secret", goerrors.CategoryAuth).
					WithCode(http.StatusUnauthorized).
					WithTextCode(core.ErrorAuth))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func observeRequests(observer core.Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startedAt := time.Now()
			recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(recorder, r)

			status := recorder.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var err error
			if status >= http.StatusInternalServerError {
				err = goerrors.New(http.StatusText(status), goerrors.CategoryExternal).WithCode(status)
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			observer.ObserveOperation(r.Context(), startedAt, "http_request", err, map[string]any{
				"method":      r.Method,
				"route":       route,
				"status_code": status,
				"provider_id": chi.URLParam(r, "provider"),
				"request_id":  middleware.GetReqID(r.Context()),
			})
		})
	}
}
