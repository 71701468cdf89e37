package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "riptide-test", RespectRobots: false, MaxBodyBytes: 1 << 20})
	status, headers, body, err := f.Get(context.Background(), srv.URL, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "yes", headers["X-Test"])
	assert.Equal(t, "hello world", string(body))
}

func TestGetSendsCustomHeaders(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "riptide-test", RespectRobots: false})
	_, _, _, err := f.Get(context.Background(), srv.URL, map[string]string{"X-Custom": "abc"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc", seen)
}

func TestGetRespectsDisallowingRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "riptide-test", RespectRobots: true})
	_, _, _, err := f.Get(context.Background(), srv.URL+"/private/page", nil, time.Second)
	assert.Error(t, err)
}

func TestGetAllowsWhenRobotsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "riptide-test", RespectRobots: true})
	status, _, _, err := f.Get(context.Background(), srv.URL+"/anything", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestGetBoundsBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "riptide-test", RespectRobots: false, MaxBodyBytes: 16})
	_, _, body, err := f.Get(context.Background(), srv.URL, nil, time.Second)
	require.NoError(t, err)
	assert.Len(t, body, 16)
}
