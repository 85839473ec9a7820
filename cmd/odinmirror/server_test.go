package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiamondLightSource/odinmirror/adapters"
	"github.com/DiamondLightSource/odinmirror/httpconn"
	"github.com/DiamondLightSource/odinmirror/logging"
	"github.com/DiamondLightSource/odinmirror/metric"
)

// fakeOdin serves a single generic adapter with one status and one config
// parameter.
func fakeOdin(t *testing.T) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri := strings.TrimPrefix(r.URL.Path, "/api/0.1/")

		if r.Method == http.MethodPut {
			decoder := json.NewDecoder(r.Body)
			decoder.UseNumber()
			var value any
			_ = decoder.Decode(&value)
			elems := strings.Split(uri, "/")
			writeJSON(w, map[string]any{elems[len(elems)-1]: value})
			return
		}

		switch uri {
		case "adapters":
			writeJSON(w, map[string]any{"adapters": []string{"sys"}})
		case "sys":
			if strings.Contains(r.Header.Get("Accept"), "metadata=true") {
				writeJSON(w, map[string]any{
					"module": map[string]any{"value": "SystemInfoAdapter", "type": "str", "writeable": false},
					"status": map[string]any{
						"uptime": map[string]any{"value": 3600, "type": "int", "writeable": false},
					},
					"config": map[string]any{
						"poll_period": map[string]any{"value": 1.0, "type": "float", "writeable": true},
					},
				})
				return
			}
			writeJSON(w, map[string]any{
				"module": "SystemInfoAdapter",
				"status": map[string]any{"uptime": 3600},
				"config": map[string]any{"poll_period": 1.0},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"error": "not found"})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	odin := fakeOdin(t)
	conn := httpconn.NewURL(odin.URL)
	root := adapters.NewRoot(conn, adapters.WithUpdatePeriod(time.Hour))
	require.NoError(t, root.Initialise(context.Background()))

	server := newMirrorServer(root, metric.NewRegistry(), logging.New("test", "test", nil, nil))
	mirror := httptest.NewServer(server.routes())
	t.Cleanup(mirror.Close)
	return mirror
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthEndpoint(t *testing.T) {
	mirror := newTestServer(t)

	status, body := getJSON(t, mirror.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestListParameters(t *testing.T) {
	mirror := newTestServer(t)

	status, body := getJSON(t, mirror.URL+"/parameters/")
	require.Equal(t, http.StatusOK, status)

	parameters, ok := body["parameters"].([]any)
	require.True(t, ok)

	names := make([]string, 0, len(parameters))
	for _, entry := range parameters {
		info := entry.(map[string]any)
		names = append(names, info["name"].(string))
	}
	assert.Contains(t, names, "SYS.status_uptime")
	assert.Contains(t, names, "SYS.config_poll_period")
}

func TestReadParameter(t *testing.T) {
	mirror := newTestServer(t)

	status, body := getJSON(t, mirror.URL+"/parameters/SYS.status_uptime")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3600), body["value"])
}

func TestReadUnknownParameterIs404(t *testing.T) {
	mirror := newTestServer(t)

	status, body := getJSON(t, mirror.URL+"/parameters/NOPE.missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "unknown parameter")
}

func TestWriteParameter(t *testing.T) {
	mirror := newTestServer(t)

	// Prime the cache so the write-through has a tree to patch
	status, _ := getJSON(t, mirror.URL+"/parameters/SYS.config_poll_period")
	require.Equal(t, http.StatusOK, status)

	req, err := http.NewRequest(http.MethodPut,
		mirror.URL+"/parameters/SYS.config_poll_period", strings.NewReader("2.5"))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := getJSON(t, mirror.URL+"/parameters/SYS.config_poll_period")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.5, body["value"])
}

func TestWriteReadOnlyParameterRejected(t *testing.T) {
	mirror := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut,
		mirror.URL+"/parameters/SYS.status_uptime", strings.NewReader("0"))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	mirror := newTestServer(t)

	resp, err := http.Get(mirror.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	mirror := newTestServer(t)

	status, _ := getJSON(t, mirror.URL+"/parameters/SYS.status_uptime")
	require.Equal(t, http.StatusOK, status)

	status, body := getJSON(t, mirror.URL+"/stats")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "sys")
}
