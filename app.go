package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tdewolff/canvas"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kwv/lodmesh/cloud"
)

// historyFile is the build history cache kept next to the pyramids
const historyFile = ".lodmesh-builds.json"

// App encapsulates the application state and dependencies
type App struct {
	Config     *cloud.Config
	Converter  *cloud.Converter
	Tracker    *cloud.BuildTracker
	MQTTClient *cloud.MQTTClient
	Publisher  *cloud.Publisher
	Logger     *zap.SugaredLogger

	// Out receives command output
	Out io.Writer

	// Fetch downloads remote inputs; replaced in tests
	Fetch func(ctx context.Context, url, dir string) (string, error)

	opts    AppOptions
	pending sync.WaitGroup
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	return &App{
		Out:    out,
		Logger: zap.NewNop().Sugar(),
		Fetch: func(ctx context.Context, url, dir string) (string, error) {
			return cloud.FetchCloudFile(ctx, url, dir)
		},
	}
}

// ApplyOptions loads the configuration and builds the pipeline from it.
// Command line options win over config.yaml and the environment.
func (a *App) ApplyOptions(opts AppOptions) error {
	a.opts = opts

	logger, err := newLogger(opts.LogLevel, opts.JSONLogs)
	if err != nil {
		return err
	}
	a.Logger = logger

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.OutputRoot != "" {
		cfg.Output.Root = opts.OutputRoot
	}
	if opts.Builder != "" {
		cfg.Builder.Path = opts.Builder
	}
	if opts.HTTPPort != 0 {
		cfg.HTTP.Port = opts.HTTPPort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.configure(cfg)
	return nil
}

// configure wires the converter and an in-memory tracker for cfg
func (a *App) configure(cfg *cloud.Config) {
	a.Config = cfg

	builder := cloud.NewExecBuilder(cfg.Builder.Path, cfg.Builder.ExtraArgs, a.Logger)
	conv := cloud.NewConverter(builder, a.Logger)
	conv.Header = cfg.Header()
	conv.TempDir = cfg.Encoding.TempDir
	conv.MinPoints = cfg.Encoding.MinPoints
	a.Converter = conv

	if a.Tracker == nil {
		a.Tracker = cloud.NewBuildTracker(a.Logger)
	}
}

// loadConfig reads path. A missing default config.yaml is not an error: the
// defaults plus environment overrides are used instead.
func loadConfig(path string) (*cloud.Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		cfg := cloud.DefaultConfig()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cloud.LoadConfig(path)
}

// newLogger builds a console logger, or a JSON production logger when asked
func newLogger(level string, jsonLogs bool) (*zap.SugaredLogger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if jsonLogs {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}

// RunConvert converts one input into a pyramid under the output root
func (a *App) RunConvert(ctx context.Context, req cloud.ConvertRequest) error {
	req, err := req.Normalize()
	if err != nil {
		return err
	}
	rec := a.Tracker.Start(req.Name, req.Input, req.Destination(a.Config.Output.Root))
	rec, err = a.execute(ctx, rec)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "Built %s -> %s\n", rec.Input, rec.Destination)
	fmt.Fprintf(a.Out, "  points:   %d\n", rec.PointCount)
	if rec.Centroid != nil {
		fmt.Fprintf(a.Out, "  centroid: (%.4f, %.4f, %.4f)\n", rec.Centroid.X, rec.Centroid.Y, rec.Centroid.Z)
	}
	if rec.CleanupErr != "" {
		fmt.Fprintf(a.Out, "  warning:  %s\n", rec.CleanupErr)
	}
	return nil
}

// submit validates req, registers the build and runs it in the background.
// The returned record is in StateIdle.
func (a *App) submit(ctx context.Context, req cloud.ConvertRequest) (cloud.BuildRecord, error) {
	req, err := req.Normalize()
	if err != nil {
		return cloud.BuildRecord{}, err
	}
	rec := a.Tracker.Start(req.Name, req.Input, req.Destination(a.Config.Output.Root))

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		_, _ = a.execute(ctx, rec)
	}()
	return rec, nil
}

// execute loads the input of rec and converts it, holding the destination
// lock so two builds never write the same pyramid at once.
func (a *App) execute(ctx context.Context, rec cloud.BuildRecord) (cloud.BuildRecord, error) {
	unlock := a.Tracker.LockDestination(rec.Destination)
	defer unlock()

	log := a.Logger.With("build", rec.ID, "name", rec.Name)

	pc, err := a.loadInput(ctx, rec.Input)
	if err != nil {
		log.Errorw("loading input failed", "input", rec.Input, "error", err)
		return a.Tracker.Finish(rec.ID, cloud.ConvertResult{}, err), err
	}

	conv := *a.Converter
	conv.Logger = log
	// terminal states are recorded by Finish together with the result
	conv.OnTransition = func(from, to cloud.State) {
		if !to.Terminal() {
			a.Tracker.Transition(rec.ID, to)
		}
	}

	res, err := conv.Convert(ctx, pc, rec.Destination)
	final := a.Tracker.Finish(rec.ID, res, err)
	if err != nil {
		log.Errorw("build failed", "error", err)
		return final, err
	}
	log.Infow("build succeeded", "points", res.PointCount, "duration", res.Duration)
	return final, nil
}

// loadInput reads a local file or downloads a remote one first
func (a *App) loadInput(ctx context.Context, input string) (cloud.PointCloud, error) {
	if !cloud.IsRemote(input) {
		return cloud.LoadFile(input)
	}

	path, err := a.Fetch(ctx, input, a.Config.Encoding.TempDir)
	if err != nil {
		return cloud.PointCloud{}, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			a.Logger.Warnw("removing downloaded input", "path", path, "error", err)
		}
	}()
	return cloud.LoadFile(path)
}

// RunInspect prints the header and statistics of an encoded file
func (a *App) RunInspect(path string) error {
	decoded, err := cloud.DecodeFile(path)
	if err != nil {
		return err
	}

	h := decoded.Header
	fmt.Fprintf(a.Out, "file:     %s\n", path)
	fmt.Fprintf(a.Out, "version:  %d.%d\n", h.VersionMajor, h.VersionMinor)
	fmt.Fprintf(a.Out, "format:   %d\n", h.PointFormat)
	fmt.Fprintf(a.Out, "system:   %s\n", h.SystemID)
	fmt.Fprintf(a.Out, "software: %s\n", h.Software)
	fmt.Fprintf(a.Out, "scale:    (%g, %g, %g)\n", h.Scale.X, h.Scale.Y, h.Scale.Z)
	fmt.Fprintf(a.Out, "offset:   (%g, %g, %g)\n", h.Offset.X, h.Offset.Y, h.Offset.Z)
	fmt.Fprint(a.Out, cloud.Summarize(decoded.Cloud()).String())
	return nil
}

// RunPreview renders the normalized, colored input the way it would be encoded
func (a *App) RunPreview(ctx context.Context, input, output string) error {
	view, err := cloud.ParseView(a.opts.View)
	if err != nil {
		return err
	}

	pc, err := a.loadInput(ctx, input)
	if err != nil {
		return err
	}
	colored, _, err := a.Converter.Prepare(pc)
	if err != nil {
		return err
	}

	renderer := cloud.NewPreviewRenderer(view)
	if err := writePreview(renderer, colored, a.opts.Format, output); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote %s view of %d points to %s\n", view, colored.Len(), output)
	return nil
}

// writePreview renders in the requested format to path
func writePreview(r *cloud.PreviewRenderer, c cloud.ColoredCloud, format, path string) (err error) {
	switch format {
	case "", "raster", "png":
		return r.SavePNG(path, c)
	case "svg", "vector-png":
	default:
		return fmt.Errorf("%w: unknown preview format %q (want raster, svg or vector-png)", cloud.ErrInvalidInput, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if format == "svg" {
		return r.RenderToSVG(f, c)
	}
	return r.RenderToVectorPNG(f, c, canvas.DPI(150))
}

// RunViewerConfig prints the resolved viewer payload
func (a *App) RunViewerConfig() error {
	cfg := a.Config.Viewer.Resolve()
	if err := cfg.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// RunServe runs the HTTP service, and MQTT when a broker is configured, until
// ctx is cancelled or the process receives SIGINT/SIGTERM.
func (a *App) RunServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := a.Config.Output.Root
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating output root: %w", err)
	}
	a.Tracker = cloud.NewBuildTrackerWithCache(filepath.Join(root, historyFile), a.Logger)

	if err := a.startMQTT(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.HTTP.Port),
		Handler:           a.newHTTPServer(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infow("HTTP server listening", "addr", srv.Addr, "root", root)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.printServiceInfo()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.Logger.Info("shutting down service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warnw("HTTP shutdown", "error", err)
	}
	stop()
	a.pending.Wait()
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	_ = a.Logger.Sync()
	return serveErr
}

// startMQTT connects to the broker when one is configured
func (a *App) startMQTT(ctx context.Context) error {
	client := cloud.NewMQTTClient(a.Config.MQTT, a.mqttConvertHandler(ctx), a.Logger)
	if client == nil {
		return nil
	}
	a.MQTTClient = client
	a.attachPublisher(client.Client(), client.PublishPrefix())
	client.Start(ctx)
	return nil
}

// mqttConvertHandler runs convert requests received over MQTT like POST /convert
func (a *App) mqttConvertHandler(ctx context.Context) cloud.ConvertHandler {
	return func(req cloud.ConvertRequest) {
		rec, err := a.submit(ctx, req)
		if err != nil {
			a.Logger.Warnw("rejected MQTT convert request", "error", err)
			return
		}
		a.Logger.Infow("accepted MQTT convert request", "build", rec.ID, "name", rec.Name)
	}
}

// attachPublisher publishes every build change of the tracker
func (a *App) attachPublisher(client mqtt.Client, prefix string) {
	a.Publisher = cloud.NewPublisher(client, prefix, a.Logger)
	a.Tracker.Subscribe(a.Publisher.Listener())
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	fmt.Fprintf(a.Out, "Output root: %s\n", a.Config.Output.Root)
	fmt.Fprintf(a.Out, "Builder:     %s\n", a.Config.Builder.Path)

	if a.MQTTClient != nil {
		prefix := a.MQTTClient.PublishPrefix()
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Convert requests: %s\n", a.MQTTClient.ConvertTopic())
		fmt.Fprintf(a.Out, "  Build events:     %s/builds/{id}, %s/builds/latest\n", prefix, prefix)
	}

	fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.Config.HTTP.Port)
	fmt.Fprintln(a.Out, strings.Join([]string{
		"  GET  /health              - Health check",
		"  GET  /viewer-config.json  - Viewer payload for the latest pyramid (?name= for another)",
		"  GET  /builds              - Build history",
		"  GET  /builds/{id}         - One build",
		"  POST /convert             - Start a build: {\"input\": ..., \"name\": ...}",
		"  GET  /preview.png|svg     - Preview of the last successful build",
		"  GET  /pointclouds/...     - Pyramid files",
	}, "\n"))
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
