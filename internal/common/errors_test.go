package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/academyhq/academy-api/internal/common"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := common.NewGatewayError("provider unreachable", cause)

	require.ErrorIs(t, err, cause)
	require.True(t, common.HasCode(err, common.CodeGateway))
	require.False(t, common.HasCode(err, common.CodeValidation))

	wrapped := fmt.Errorf("initiate payment: %w", err)
	app, ok := common.AsAppError(wrapped)
	require.True(t, ok)
	require.Equal(t, http.StatusBadGateway, app.HTTPStatus)
}

func TestJSONAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	common.JSONAppError(rec, common.NewNotFoundError("no such payment"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"success":false,"message":"no such payment"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	common.JSONAppError(rec, errors.New("pq: deadlock detected"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "deadlock", "internal details must not leak")
}
