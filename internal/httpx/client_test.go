package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	var gotHeader, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", http.Header{"X-Api-Key": {"k"}})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: map[string]int{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, "k", gotHeader)
	require.Equal(t, "application/json", gotType)
	require.JSONEq(t, `{"a":1}`, gotBody)

	var out struct{ OK bool }
	require.NoError(t, resp.JSON(&out))
	require.True(t, out.OK)
}

func TestDoStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, nil)
	c.Delay = 0

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/missing"})
	require.True(t, IsStatus(err, http.StatusNotFound))
	require.Equal(t, 1, calls)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/missing", Accept: []int{http.StatusNotFound}})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.Status)

	calls = 0
	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/down"})
	require.True(t, IsStatus(err, http.StatusServiceUnavailable))
	require.Equal(t, 3, calls)
}
