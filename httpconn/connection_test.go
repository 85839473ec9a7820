package httpconn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiamondLightSource/odinmirror/errors"
)

type recordedRequest struct {
	method string
	path   string
	accept string
	body   string
}

func newTestConnection(t *testing.T, handler http.HandlerFunc) (*Connection, *[]recordedRequest) {
	t.Helper()

	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			accept: r.Header.Get("Accept"),
			body:   string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return NewURL(server.URL), &requests
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func TestGet(t *testing.T) {
	conn, requests := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{"status": map[string]any{"frames": 7}})
	})

	response, err := conn.Get(context.Background(), "fp/0")
	require.NoError(t, err)

	status, ok := response["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("7"), status["frames"])

	require.Len(t, *requests, 1)
	request := (*requests)[0]
	assert.Equal(t, http.MethodGet, request.method)
	assert.Equal(t, "/api/0.1/fp/0", request.path)
	assert.NotContains(t, request.accept, "metadata")
}

func TestGetMetadataRequestsMetadata(t *testing.T) {
	conn, requests := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{"module": map[string]any{"value": "SysAdapter"}})
	})

	_, err := conn.GetMetadata(context.Background(), "sys")
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	assert.Contains(t, (*requests)[0].accept, "metadata=true")
}

func TestPut(t *testing.T) {
	conn, requests := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{"frames": 10})
	})

	response, err := conn.Put(context.Background(), "fp/0/config/hdf/frames", 10)
	require.NoError(t, err)
	assert.Equal(t, json.Number("10"), response["frames"])

	require.Len(t, *requests, 1)
	request := (*requests)[0]
	assert.Equal(t, http.MethodPut, request.method)
	assert.Equal(t, "/api/0.1/fp/0/config/hdf/frames", request.path)
	assert.Equal(t, "10", strings.TrimSpace(request.body))
}

func TestPutRejectsNonScalarValues(t *testing.T) {
	conn, requests := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{})
	})

	_, err := conn.Put(context.Background(), "fp/0/config/hdf/frames", []int{1, 2})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.Empty(t, *requests)
}

func TestGetAdapters(t *testing.T) {
	conn, _ := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{"adapters": []string{"fp", "mw", "sys"}})
	})

	adapters, err := conn.GetAdapters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fp", "mw", "sys"}, adapters)
}

func TestGetAdaptersRejectsMalformedList(t *testing.T) {
	conn, _ := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{"adapters": "fp"})
	})

	_, err := conn.GetAdapters(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrBadResponse)
}

func TestErrorStatusIsTransient(t *testing.T) {
	conn, _ := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "adapter not ready", http.StatusServiceUnavailable)
	})

	_, err := conn.Get(context.Background(), "fp")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrBadResponse)
	assert.Contains(t, err.Error(), "status 503")
}

func TestNonJSONBodyIsTransient(t *testing.T) {
	conn, _ := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>proxy error</html>"))
	})

	_, err := conn.Get(context.Background(), "fp")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrBadResponse)
}

func TestURLJoinsPrefix(t *testing.T) {
	conn := New("localhost", 8888, WithAPIPrefix("api/0.2"))
	assert.Equal(t, "http://localhost:8888/api/0.2/fp/0", conn.URL("fp/0"))
}
