package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusCreated, map[string]any{"status": "OK"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())
}

func TestRespondErrorOmitsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "Endpoint not found")
	assert.JSONEq(t, `{"error":"Endpoint not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	RespondError(rec, http.StatusBadGateway, "Failed to contact webhook service", "dial tcp: refused")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to contact webhook service","details":"dial tcp: refused"}`, rec.Body.String())
}
