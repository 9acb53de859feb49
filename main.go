package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	BuildingFile string
	Route        string
	RenderFloor  string
	OutputFile   string
	Summary      bool
	Serve        bool
	MqttMode     bool
	HttpPort     int
}

// Application is the set of run modes main dispatches to
type Application interface {
	ApplyOptions(opts AppOptions)
	RunSummary() error
	RunRoute(pair string) error
	RunRender(floor string) error
	RunService() error
}

func main() {
	app := NewApp()
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "tudonav: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to exactly one mode of app
func run(args []string, stdout io.Writer, app Application) error {
	fs := flag.NewFlagSet("tudonav", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.BuildingFile, "building", "", "Building JSON file (overrides building.path from the config)")
	fs.StringVar(&opts.Route, "route", "", "Compute a route and exit: FROM=TO (zone or POI ids, or zone names)")
	fs.StringVar(&opts.RenderFloor, "render", "", "Render a floor (id or name) and exit")
	fs.StringVar(&opts.OutputFile, "output", "floor.svg", "Output file for -render; .png selects raster output")
	fs.BoolVar(&opts.Summary, "summary", false, "Print a building summary and exit")
	fs.BoolVar(&opts.Serve, "serve", false, "Run the HTTP and websocket server")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Consume BLE scans from MQTT and publish zone estimates")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (overrides http.listen)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "tudonav version: %s\n", Version)
	if *showVersion {
		return nil
	}

	app.ApplyOptions(opts)

	switch {
	case opts.Route != "":
		return app.RunRoute(opts.Route)
	case opts.RenderFloor != "":
		return app.RunRender(opts.RenderFloor)
	case opts.Summary:
		return app.RunSummary()
	case opts.Serve || opts.MqttMode:
		return app.RunService()
	}

	fmt.Fprintln(stdout, "Nothing to do.")
	fmt.Fprintln(stdout, "Use -summary to inspect a building file")
	fmt.Fprintln(stdout, "Use -route FROM=TO to compute a route")
	fmt.Fprintln(stdout, "Use -render FLOOR -output floor.svg to draw a floor")
	fmt.Fprintln(stdout, "Use -mqtt to track from the MQTT scan stream")
	fmt.Fprintln(stdout, "Use -serve to run the HTTP server (combine with -mqtt for live tracking)")
	return nil
}
