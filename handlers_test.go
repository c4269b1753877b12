package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/lodmesh/cloud"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// builtApp returns an app with one successful build named "hall"
func builtApp(t *testing.T) *App {
	t.Helper()
	app, _, _ := newTestApp(t)
	require.NoError(t, app.RunConvert(context.Background(), cloud.ConvertRequest{Input: writeXYZ(t, "hall.xyz")}))
	return app
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		app       func(t *testing.T) *App
		wantCloud bool
		wantCount int
	}{
		{"empty", func(t *testing.T) *App { a, _, _ := newTestApp(t); return a }, false, 0},
		{"built", builtApp, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := tt.app(t)
			rr := get(t, app.newHTTPServer(context.Background()), "/health")
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body struct {
				Status        string `json:"status"`
				Builds        int    `json:"builds"`
				HasCloud      bool   `json:"hasCloud"`
				MQTTConnected bool   `json:"mqttConnected"`
			}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, "ok", body.Status)
			assert.Equal(t, tt.wantCount, body.Builds)
			assert.Equal(t, tt.wantCloud, body.HasCloud)
			assert.False(t, body.MQTTConnected)
		})
	}
}

// ---------------------------------------------------------------------------
// /viewer-config.json
// ---------------------------------------------------------------------------

func TestViewerConfigEndpoint(t *testing.T) {
	t.Run("no build yet", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		rr := get(t, app.newHTTPServer(context.Background()), "/viewer-config.json")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("latest build", func(t *testing.T) {
		app := builtApp(t)
		rr := get(t, app.newHTTPServer(context.Background()), "/viewer-config.json")
		require.Equal(t, http.StatusOK, rr.Code)

		var cfg cloud.ViewerConfig
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&cfg))
		assert.Equal(t, "/pointclouds/hall/", cfg.BaseURL)
		assert.EqualValues(t, cloud.DefaultViewerHeight, cfg.Height)
		assert.EqualValues(t, cloud.DefaultFOV, cfg.Camera.FOV)
	})

	t.Run("named", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		require.NoError(t, os.MkdirAll(filepath.Join(app.Config.Output.Root, "site"), 0o755))
		rr := get(t, app.newHTTPServer(context.Background()), "/viewer-config.json?name=site")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"base_url":"/pointclouds/site/"`)
	})

	t.Run("named but never built", func(t *testing.T) {
		app := builtApp(t)
		rr := get(t, app.newHTTPServer(context.Background()), "/viewer-config.json?name=foo")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("bad name", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		rr := get(t, app.newHTTPServer(context.Background()), "/viewer-config.json?name=../etc")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("configured base url", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		app.Config.Viewer.BaseURL = "https://cdn.example.com/pc/"
		rr := get(t, app.newHTTPServer(context.Background()), "/viewer-config.json")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "https://cdn.example.com/pc/")
	})
}

// ---------------------------------------------------------------------------
// /builds and /convert
// ---------------------------------------------------------------------------

func TestBuildsEndpoints(t *testing.T) {
	app := builtApp(t)
	h := app.newHTTPServer(context.Background())

	rr := get(t, h, "/builds")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []cloud.BuildRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, cloud.StateSucceeded, list[0].State)

	rr = get(t, h, "/builds/"+list[0].ID)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec cloud.BuildRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, "hall", rec.Name)
	assert.Equal(t, 4, rec.PointCount)

	rr = get(t, h, "/builds/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConvertEndpoint(t *testing.T) {
	app, b, _ := newTestApp(t)
	h := app.newHTTPServer(context.Background())
	input := writeXYZ(t, "posted.xyz")

	body := `{"input":"` + filepath.ToSlash(input) + `","name":"lobby"}`
	req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var rec cloud.BuildRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, "lobby", rec.Name)
	assert.Equal(t, "/builds/"+rec.ID, rr.Header().Get("Location"))

	app.pending.Wait()
	final, ok := app.Tracker.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, cloud.StateSucceeded, final.State)
	assert.Len(t, b.inputs, 1)
	assert.FileExists(t, filepath.Join(app.Config.Output.Root, "lobby", "metadata.json"))
}

func TestConvertEndpoint_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"input":`},
		{"unknown field", `{"input":"a.las","color":"red"}`},
		{"missing input", `{"name":"x"}`},
		{"bad name", `{"input":"a.las","name":"a/b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _, _ := newTestApp(t)
			req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			app.newHTTPServer(context.Background()).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, app.Tracker.List())
		})
	}
}

func TestConvertEndpoint_MethodNotAllowed(t *testing.T) {
	app, _, _ := newTestApp(t)
	rr := get(t, app.newHTTPServer(context.Background()), "/convert")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// ---------------------------------------------------------------------------
// previews
// ---------------------------------------------------------------------------

func TestPreviewEndpoints(t *testing.T) {
	app := builtApp(t)
	h := app.newHTTPServer(context.Background())

	rr := get(t, h, "/preview.png?view=side")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "\x89PNG"))

	rr = get(t, h, "/preview.svg")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "<svg")

	rr = get(t, h, "/preview.png?view=iso")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPreviewEndpoints_NoCloud(t *testing.T) {
	app, _, _ := newTestApp(t)
	h := app.newHTTPServer(context.Background())

	for _, path := range []string{"/preview.png", "/preview.svg"} {
		rr := get(t, h, path)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

// ---------------------------------------------------------------------------
// /pointclouds/
// ---------------------------------------------------------------------------

func TestPointcloudsFileServer(t *testing.T) {
	app := builtApp(t)
	h := app.newHTTPServer(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/pointclouds/hall/metadata.json", nil)
	req.Header.Set("Origin", "http://viewer.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"version":"2.0"}`, rr.Body.String())
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = get(t, h, "/pointclouds/hall/missing.bin")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPointcloudsFileServer_RestrictedOrigins(t *testing.T) {
	app := builtApp(t)
	app.Config.HTTP.AllowedOrigins = []string{"http://allowed.example.com"}
	h := app.newHTTPServer(context.Background())

	for origin, want := range map[string]string{
		"http://allowed.example.com": "http://allowed.example.com",
		"http://other.example.com":   "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/pointclouds/hall/metadata.json", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestPointcloudsFileServer_Range(t *testing.T) {
	app := builtApp(t)
	dest := filepath.Join(app.Config.Output.Root, "hall")
	require.NoError(t, os.WriteFile(filepath.Join(dest, "octree.bin"), []byte("0123456789"), 0644))

	req := httptest.NewRequest(http.MethodGet, "/pointclouds/hall/octree.bin", nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	app.newHTTPServer(context.Background()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "2345", rr.Body.String())
}

// ---------------------------------------------------------------------------
// index
// ---------------------------------------------------------------------------

func TestIndexPage(t *testing.T) {
	app, _, _ := newTestApp(t)
	rr := get(t, app.newHTTPServer(context.Background()), "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "No builds yet")

	app = builtApp(t)
	h := app.newHTTPServer(context.Background())
	rr = get(t, h, "/")
	body := rr.Body.String()
	assert.Contains(t, body, "/viewer-config.json?name=hall")
	assert.Contains(t, body, "succeeded")
	assert.Contains(t, body, `<img src="/preview.svg"`)

	rr = get(t, h, "/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
