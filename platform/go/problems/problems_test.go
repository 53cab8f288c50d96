package problems

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteValidationProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, Validation("invalid body", map[string][]string{"slug": {"is required"}}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, ContentType, rec.Header().Get("Content-Type"))

	var body Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, TypeValidation, body.Type)
	require.Equal(t, []string{"is required"}, body.Errors["slug"])
}

func TestNewOmitsEmptyErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, New(http.StatusNotFound, TypeNotFound, "Not found", "tenant not found"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, rec.Body.String(), "errors")
}
