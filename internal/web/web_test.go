package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerServesIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Phantom Track")
	assert.Contains(t, rec.Body.String(), `name="tracks"`)
}

func TestHandlerMissingFile(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndexWorksUnderPathPrefix(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	page := rec.Body.String()

	// Root-absolute API paths break behind a notebook proxy prefix.
	assert.NotContains(t, page, `"/api/`)
	assert.NotContains(t, page, `'/api/`)
	assert.Contains(t, page, `fetch("api/generate"`)
	// Plain-http share URLs have no crypto.randomUUID.
	assert.Contains(t, page, "if (crypto.randomUUID)")
	assert.Contains(t, page, "crypto.getRandomValues")
}
