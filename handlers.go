package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/cors"

	"github.com/kwv/lodmesh/cloud"
)

// maxRequestBody bounds POST /convert payloads
const maxRequestBody = 1 << 20

// pointcloudsPrefix is where the output root is served
const pointcloudsPrefix = "/pointclouds/"

// newHTTPServer creates an HTTP handler with all endpoints. Builds started
// through POST /convert run under ctx.
func (a *App) newHTTPServer(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, hasCloud := a.Tracker.LatestCloud()
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			Builds        int       `json:"builds"`
			HasCloud      bool      `json:"hasCloud"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			Builds:        len(a.Tracker.List()),
			HasCloud:      hasCloud,
			MQTTConnected: a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		a.writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /viewer-config.json", a.handleViewerConfig)

	mux.HandleFunc("GET /builds", func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, http.StatusOK, a.Tracker.List())
	})

	mux.HandleFunc("GET /builds/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := a.Tracker.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "Build not found", http.StatusNotFound)
			return
		}
		a.writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("POST /convert", func(w http.ResponseWriter, r *http.Request) {
		var req cloud.ConvertRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		rec, err := a.submit(ctx, req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, cloud.ErrInvalidInput) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Location", "/builds/"+rec.ID)
		a.writeJSON(w, http.StatusAccepted, rec)
	})

	// Preview of the last successful build
	mux.HandleFunc("GET /preview.png", func(w http.ResponseWriter, r *http.Request) {
		renderer, c, ok := a.previewRequest(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.WritePNG(w, c); err != nil {
			a.Logger.Warnw("encoding preview PNG", "error", err)
		}
	})

	mux.HandleFunc("GET /preview.svg", func(w http.ResponseWriter, r *http.Request) {
		renderer, c, ok := a.previewRequest(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w, c); err != nil {
			a.Logger.Warnw("encoding preview SVG", "error", err)
		}
	})

	// Pyramid files, fetched by a viewer that is usually served from another origin
	files := http.StripPrefix(pointcloudsPrefix, http.FileServer(http.Dir(a.Config.Output.Root)))
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: a.Config.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"Range"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges"},
	})
	mux.Handle(pointcloudsPrefix, corsHandler.Handler(files))

	mux.HandleFunc("GET /{$}", a.handleIndex)

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.Logger.Debugw("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// handleViewerConfig serves the resolved viewer payload. base_url points at
// the pyramid named by ?name=, which must exist under the output root, or else the configured base URL, or else the
// last successful build.
func (a *App) handleViewerConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Viewer

	if name := r.URL.Query().Get("name"); name != "" {
		req, err := cloud.ConvertRequest{Input: name, Name: name}.Normalize()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := os.Stat(filepath.Join(a.Config.Output.Root, req.Name)); err != nil {
			http.Error(w, "Point cloud not found", http.StatusNotFound)
			return
		}
		cfg.BaseURL = pointcloudsPrefix + req.Name + "/"
	} else if cfg.BaseURL == "" {
		rec, ok := a.latestSucceeded()
		if !ok {
			http.Error(w, "No point cloud built yet", http.StatusServiceUnavailable)
			return
		}
		cfg.BaseURL = pointcloudsPrefix + rec.Name + "/"
	}

	resolved := cfg.Resolve()
	if err := resolved.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	a.writeJSON(w, http.StatusOK, resolved)
}

// latestSucceeded returns the newest build that produced a pyramid
func (a *App) latestSucceeded() (cloud.BuildRecord, bool) {
	for _, rec := range a.Tracker.List() {
		if rec.State == cloud.StateSucceeded {
			return rec, true
		}
	}
	return cloud.BuildRecord{}, false
}

// previewRequest resolves the renderer for ?view= and the cloud to draw.
// It writes the error response itself and returns false on failure.
func (a *App) previewRequest(w http.ResponseWriter, r *http.Request) (*cloud.PreviewRenderer, cloud.ColoredCloud, bool) {
	view, err := cloud.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, cloud.ColoredCloud{}, false
	}
	c, ok := a.Tracker.LatestCloud()
	if !ok {
		http.Error(w, "No point cloud built yet", http.StatusServiceUnavailable)
		return nil, cloud.ColoredCloud{}, false
	}
	return cloud.NewPreviewRenderer(view), c, true
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Warnw("encoding JSON response", "error", err)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>lodmesh</title>
<style>
body{font-family:sans-serif;margin:2em;background:#1a1a1a;color:#eee}
a{color:#8cf}
table{border-collapse:collapse}
td,th{padding:4px 12px;text-align:left;border-bottom:1px solid #333}
img{max-width:100%;margin-top:1em;background:#f0f0f0}
</style>
</head>
<body>
<h1>lodmesh</h1>
{{if .Builds}}
<table>
<tr><th>Name</th><th>State</th><th>Points</th><th>Started</th><th>Input</th></tr>
{{range .Builds}}<tr>
<td>{{if eq .State.String "succeeded"}}<a href="/viewer-config.json?name={{.Name}}">{{.Name}}</a>{{else}}{{.Name}}{{end}}</td>
<td><a href="/builds/{{.ID}}">{{.State}}</a></td>
<td>{{.PointCount}}</td>
<td>{{.StartedAt.Format "2006-01-02 15:04:05"}}</td>
<td>{{.Input}}</td>
</tr>
{{end}}</table>
{{else}}
<p>No builds yet. POST {"input": "..."} to /convert.</p>
{{end}}
{{if .HasCloud}}<img src="/preview.svg" alt="Preview of the last build">{{end}}
</body>
</html>`))

// handleIndex serves an HTML page listing builds with the latest preview
func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	_, hasCloud := a.Tracker.LatestCloud()
	data := struct {
		Builds   []cloud.BuildRecord
		HasCloud bool
	}{a.Tracker.List(), hasCloud}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := indexTemplate.Execute(w, data); err != nil {
		a.Logger.Warnw("rendering index", "error", err)
	}
}
