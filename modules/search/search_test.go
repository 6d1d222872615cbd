package search

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/airband/pkg/radiobrowser"
)

func testLogger() slog.Logger {
	return *slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSearch(t *testing.T, directoryURL string) *mux.Router {
	t.Helper()

	router := mux.NewRouter()
	_, err := New(Config{DirectoryURL: directoryURL}, testLogger(), router)
	require.NoError(t, err)

	return router
}

func TestHandleSearch(t *testing.T) {
	directory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "jazz", q.Get("name"))
		assert.Equal(t, "jazz", q.Get("tagList"))
		assert.Equal(t, "true", q.Get("hidebroken"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Jazz24","url":"http://stream.example/jazz24","tags":"jazz","countrycode":"US"}]`))
	}))
	defer directory.Close()

	router := newTestSearch(t, directory.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?query=jazz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stations []radiobrowser.Station
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stations))
	require.Len(t, stations, 1)
	assert.Equal(t, "Jazz24", stations[0].Name)
	assert.Equal(t, "US", stations[0].CountryCode)
}

func TestHandleSearch_DirectoryFailure(t *testing.T) {
	directory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer directory.Close()

	router := newTestSearch(t, directory.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?query=jazz", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error retrieving stations")
}

func TestStaticPage(t *testing.T) {
	router := newTestSearch(t, "http://directory.invalid")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "searchButton")
}
