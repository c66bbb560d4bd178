package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestPropagateRequestID(t *testing.T) {
	var observed string
	handler := PropagateRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed = GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("copies chi request id and echoes header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		chimiddleware.RequestID(handler).ServeHTTP(w, req)

		assert.NotEmpty(t, observed)
		assert.Equal(t, observed, w.Header().Get("X-Request-ID"))
	})

	t.Run("no chi request id leaves context empty", func(t *testing.T) {
		observed = "sentinel"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Empty(t, observed)
		assert.Empty(t, w.Header().Get("X-Request-ID"))
	})
}
