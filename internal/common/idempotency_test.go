package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/academyhq/academy-api/internal/common"
)

func TestIdemMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	handler := common.Idem{R: rdb, TTL: time.Minute}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			common.JSONSuccess(w, "ok", nil)
		}))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/pay", nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, do("abc").Code)
	require.Equal(t, http.StatusConflict, do("abc").Code, "repeat key is refused")
	require.Equal(t, http.StatusOK, do("def").Code, "different key passes")
	require.Equal(t, http.StatusOK, do("").Code, "missing key bypasses the guard")
	require.Equal(t, 3, calls)
}
