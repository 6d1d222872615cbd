package radiobrowser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	var gotQuery map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/stations/search", r.URL.Path)

		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Shark FM","url":"http://stream.example/shark","countrycode":"NL","bitrate":128}]`))
	}))
	defer server.Close()

	c := New(server.URL)

	station, err := c.Resolve(context.Background(), "Shark")
	require.NoError(t, err)
	assert.Equal(t, "Shark FM", station.Name)
	assert.Equal(t, "http://stream.example/shark", station.StreamURL())

	assert.Equal(t, "Shark", gotQuery["name"])
	assert.Equal(t, "1", gotQuery["limit"])
	assert.Equal(t, "name", gotQuery["order"])
}

func TestResolve_NoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New(server.URL)

	_, err := c.Resolve(context.Background(), "Nonexistent123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_DirectoryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL)

	_, err := c.Resolve(context.Background(), "Shark")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolve_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	c := New(server.URL)

	_, err := c.Resolve(context.Background(), "Shark")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "jazz", q.Get("name"))
		assert.Equal(t, "jazz", q.Get("tagList"))
		assert.Equal(t, "name", q.Get("order"))
		assert.Equal(t, "true", q.Get("hidebroken"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Jazz24","url":"http://stream.example/jazz24"},{"name":"Smooth Jazz","url":"http://stream.example/smooth"}]`))
	}))
	defer server.Close()

	c := New(server.URL)

	stations, err := c.Search(context.Background(), "jazz")
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "Jazz24", stations[0].Name)
}

func TestStreamURL_PrefersResolved(t *testing.T) {
	s := Station{URL: "http://stream.example/index.pls", URLResolved: "http://stream.example/direct"}
	assert.Equal(t, "http://stream.example/direct", s.StreamURL())

	s = Station{URL: "http://stream.example/direct"}
	assert.Equal(t, "http://stream.example/direct", s.StreamURL())
}
