package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kwv/lodmesh/cloud"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Runner is what the CLI dispatches to; *App in production, a mock in tests
type Runner interface {
	ApplyOptions(opts AppOptions) error
	RunConvert(ctx context.Context, req cloud.ConvertRequest) error
	RunServe(ctx context.Context) error
	RunInspect(path string) error
	RunPreview(ctx context.Context, input, output string) error
	RunViewerConfig() error
}

// AppOptions carries the command line settings that override config.yaml
type AppOptions struct {
	ConfigFile string
	LogLevel   string
	JSONLogs   bool
	OutputRoot string
	Builder    string
	HTTPPort   int
	View       string
	Format     string
}

const (
	flagConfig     = "config"
	flagLogLevel   = "log-level"
	flagJSONLogs   = "json-logs"
	flagOutputRoot = "output-root"
	flagBuilder    = "builder"
	flagName       = "name"
	flagHTTPPort   = "http-port"
	flagOutput     = "output"
	flagView       = "view"
	flagFormat     = "format"
)

func main() {
	app := NewApp(os.Stdout)
	if err := run(os.Args, os.Stdout, app); err != nil {
		fmt.Fprintf(os.Stderr, "lodmesh: %v\n", err)
		os.Exit(1)
	}
}

// run parses args (including the program name) and executes the chosen command
func run(args []string, out io.Writer, app Runner) error {
	return newCLI(out, app).Run(args)
}

func newCLI(out io.Writer, app Runner) *cli.App {
	outputRootFlag := &cli.StringFlag{
		Name:  flagOutputRoot,
		Usage: "directory pyramids are written to (overrides output.root)",
	}
	builderFlag := &cli.StringFlag{
		Name:  flagBuilder,
		Usage: "pyramid builder executable (overrides builder.path)",
	}

	// apply copies the global and command flags into the app before a command runs
	apply := func(c *cli.Context) error {
		return app.ApplyOptions(AppOptions{
			ConfigFile: c.String(flagConfig),
			LogLevel:   c.String(flagLogLevel),
			JSONLogs:   c.Bool(flagJSONLogs),
			OutputRoot: c.String(flagOutputRoot),
			Builder:    c.String(flagBuilder),
			HTTPPort:   c.Int(flagHTTPPort),
			View:       c.String(flagView),
			Format:     c.String(flagFormat),
		})
	}

	return &cli.App{
		Name:    "lodmesh",
		Usage:   "turn point clouds into streamable level-of-detail pyramids",
		Version: Version,
		Writer:  out,
		// errors are reported by main
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to configuration file",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "log level: debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  flagJSONLogs,
				Usage: "emit JSON logs instead of console output",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "convert",
				Usage:     "convert a point cloud file (.las, .xyz) or URL into a pyramid",
				ArgsUsage: "<input>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagName,
						Usage: "pyramid name under the output root (default: input base name)",
					},
					outputRootFlag,
					builderFlag,
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("convert: expected exactly one input, got %d", c.NArg())
					}
					if err := apply(c); err != nil {
						return err
					}
					return app.RunConvert(c.Context, cloud.ConvertRequest{
						Input: c.Args().First(),
						Name:  c.String(flagName),
					})
				},
			},
			{
				Name:  "serve",
				Usage: "serve pyramids over HTTP and accept convert requests over HTTP and MQTT",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagHTTPPort,
						Usage: "HTTP port (overrides http.port)",
					},
					outputRootFlag,
					builderFlag,
				},
				Action: func(c *cli.Context) error {
					if err := apply(c); err != nil {
						return err
					}
					return app.RunServe(c.Context)
				},
			},
			{
				Name:      "inspect",
				Usage:     "print the header and statistics of an encoded LAS file",
				ArgsUsage: "<file.las>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("inspect: expected exactly one file, got %d", c.NArg())
					}
					if err := apply(c); err != nil {
						return err
					}
					return app.RunInspect(c.Args().First())
				},
			},
			{
				Name:      "preview",
				Usage:     "render an orthographic preview of a point cloud",
				ArgsUsage: "<input>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Value:   "preview.png",
						Usage:   "output file",
					},
					&cli.StringFlag{
						Name:  flagView,
						Value: string(cloud.ViewTop),
						Usage: "view: top, front or side",
					},
					&cli.StringFlag{
						Name:  flagFormat,
						Value: "raster",
						Usage: "raster (PNG), svg, or vector-png",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("preview: expected exactly one input, got %d", c.NArg())
					}
					if err := apply(c); err != nil {
						return err
					}
					return app.RunPreview(c.Context, c.Args().First(), c.String(flagOutput))
				},
			},
			{
				Name:  "viewer-config",
				Usage: "print the resolved viewer configuration as JSON",
				Action: func(c *cli.Context) error {
					if err := apply(c); err != nil {
						return err
					}
					return app.RunViewerConfig()
				},
			},
		},
	}
}
