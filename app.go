package main

import (
	"context"
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

	"github.com/google/uuid"
	"github.com/kwv/tudonav/nav"
	"go.uber.org/zap"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *nav.Config
	Logger     *zap.Logger
	Building   *nav.Building // geometry as loaded; calibration lives in Store
	Store      nav.FingerprintStore
	Tracker    *nav.Tracker
	MQTTClient *nav.MQTTClient
	Publisher  *nav.Publisher
	Hub        *Hub
	Out        io.Writer

	// CLI flags
	ConfigFile   string
	BuildingFile string
	OutputFile   string
	HttpPort     int
	MqttMode     bool
	Serve        bool

	ctx   context.Context // lifetime of tracking sessions
	calMu sync.Mutex

	statusMu   sync.RWMutex
	scanStatus error
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Hub:        NewHub(),
		Out:        os.Stdout,
		ConfigFile: "config.yaml",
		ctx:        context.Background(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.BuildingFile = opts.BuildingFile
	a.OutputFile = opts.OutputFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.Serve = opts.Serve
}

// loadConfig reads the config file. Without one, -building alone is enough
// to run with defaults.
func (a *App) loadConfig() (*nav.Config, error) {
	var cfg *nav.Config
	if _, err := os.Stat(a.ConfigFile); os.IsNotExist(err) && a.BuildingFile != "" {
		cfg = nav.DefaultConfig()
		cfg.Building.Path = a.BuildingFile
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := nav.LoadConfig(a.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if a.BuildingFile != "" {
			cfg.Building.Path = a.BuildingFile
		}
	}
	if a.HttpPort > 0 {
		cfg.HTTP.Listen = fmt.Sprintf(":%d", a.HttpPort)
	}
	return cfg, nil
}

func loadBuilding(ctx context.Context, src nav.BuildingSource) (*nav.Building, error) {
	if src.Path != "" {
		return nav.ParseBuildingFile(src.Path)
	}
	return nav.FetchBuildingFromURL(ctx, src.URL)
}

// Init loads config, logger, building and calibration store and builds the
// tracker. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	if a.Tracker != nil {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.Config = cfg

	logger, err := nav.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	a.Logger = logger
	a.Hub.logger = logger.Named("ws")

	b, err := loadBuilding(ctx, cfg.Building)
	if err != nil {
		return fmt.Errorf("loading building: %w", err)
	}
	a.Building = b

	store, err := nav.OpenFingerprintStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening fingerprint store: %w", err)
	}
	a.Store = store

	seeded, err := nav.SeedFromBuilding(ctx, store, b)
	if err != nil {
		a.closeStore()
		return err
	}
	if seeded > 0 {
		logger.Info("seeded fingerprint store from building file", zap.Int("fingerprints", seeded))
	}

	opts := append(cfg.Tracking.TrackerOptions(), nav.WithLogger(logger.Named("tracker")))
	tracker := nav.NewTracker(nav.NewObservationBuffer(0), nav.KNNClassifier{K: cfg.Tracking.K}, opts...)
	a.Tracker = tracker
	if err := a.refreshCalibration(ctx); err != nil {
		a.Tracker = nil
		a.closeStore()
		return err
	}
	a.Tracker.Subscribe(a.onEstimate)

	if a.Publisher == nil {
		a.Publisher = nav.NewPublisher(nil, cfg.MQTT.PublishPrefix)
	}

	logger.Info("building loaded",
		zap.Stringer("id", b.ID),
		zap.Int("floors", len(b.Floors)),
		zap.Int("zones", len(b.Zones())),
		zap.Int("calibration", a.Tracker.Building().CalibrationCount()))
	return nil
}

// Close releases the store and the MQTT connection
func (a *App) Close() {
	if a.Tracker != nil {
		a.Tracker.Stop()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	a.closeStore()
}

func (a *App) closeStore() {
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil && a.Logger != nil {
		a.Logger.Warn("closing fingerprint store", zap.Error(err))
	}
	a.Store = nil
}

// --- event plumbing ---

func (a *App) onObservations(obs []nav.Observation) {
	if !a.Tracker.Running() {
		return
	}
	a.Tracker.Buffer().Add(obs...)
}

func (a *App) onScanStatus(scanErr error) {
	a.statusMu.Lock()
	a.scanStatus = scanErr
	a.statusMu.Unlock()

	if scanErr != nil {
		a.Logger.Warn("scanner reported an error", zap.Error(scanErr))
	}
	if err := a.Publisher.PublishStatus(scanErr); err != nil {
		a.Logger.Debug("status not published", zap.Error(err))
	}
	a.Hub.Broadcast(statusEvent(scanErr))
}

// ScanStatus returns the last status reported by the scanner
func (a *App) ScanStatus() error {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.scanStatus
}

func (a *App) onEstimate(est nav.ZoneEstimate) {
	if err := a.Publisher.PublishLocation(est); err != nil {
		a.Logger.Debug("location not published", zap.Error(err))
	}
	a.Hub.Broadcast(locationEvent(&est))
}

// --- tracking ---

// StartTracking begins a tracking session bound to the app's lifetime
func (a *App) StartTracking() error {
	if err := a.Tracker.Start(a.ctx); err != nil {
		return err
	}
	a.Hub.Broadcast(trackingEvent(a.Tracker.State()))
	return nil
}

// StopTracking ends the session and clears the published location
func (a *App) StopTracking() {
	a.Tracker.Stop()
	a.Tracker.Buffer().Clear()
	if err := a.Publisher.ClearLocation(); err != nil {
		a.Logger.Debug("location not cleared", zap.Error(err))
	}
	a.Hub.Broadcast(locationEvent(nil))
	a.Hub.Broadcast(trackingEvent(nav.StateIdle))
}

// --- calibration ---

// refreshCalibration rebuilds the tracker's building snapshot from the store
func (a *App) refreshCalibration(ctx context.Context) error {
	a.calMu.Lock()
	defer a.calMu.Unlock()

	b, err := nav.CalibratedBuilding(ctx, a.Store, a.Building)
	if err != nil {
		return err
	}
	a.Tracker.SetBuilding(b)
	return nil
}

// AddCalibration records a fingerprint for a zone and refreshes the snapshot
func (a *App) AddCalibration(ctx context.Context, zoneID uuid.UUID, fp nav.Fingerprint) error {
	if !a.Building.Contains(zoneID) {
		return nav.ErrUnknownZone
	}
	if err := a.Store.Add(ctx, zoneID, fp); err != nil {
		return fmt.Errorf("adding calibration: %w", err)
	}
	return a.refreshCalibration(ctx)
}

// ClearCalibration drops a zone's fingerprints and refreshes the snapshot
func (a *App) ClearCalibration(ctx context.Context, zoneID uuid.UUID) error {
	if !a.Building.Contains(zoneID) {
		return nav.ErrUnknownZone
	}
	if err := a.Store.ClearZone(ctx, zoneID); err != nil {
		return fmt.Errorf("clearing calibration: %w", err)
	}
	return a.refreshCalibration(ctx)
}

// Calibration returns the stored fingerprints of a zone
func (a *App) Calibration(ctx context.Context, zoneID uuid.UUID) ([]nav.Fingerprint, error) {
	if !a.Building.Contains(zoneID) {
		return nil, nav.ErrUnknownZone
	}
	return a.Store.ByZone(ctx, zoneID)
}

// --- lookups ---

// ResolveZone accepts a zone id, a POI id or a zone name (case-insensitive)
func (a *App) ResolveZone(ref string) *nav.Zone {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		if z := a.Building.Zone(id); z != nil {
			return z
		}
		return a.Building.ZoneForPointOfInterest(id)
	}
	for _, z := range a.Building.Zones() {
		if strings.EqualFold(z.Name, ref) {
			return z
		}
	}
	return nil
}

// ResolveFloor accepts a floor id or name
func (a *App) ResolveFloor(ref string) *nav.Floor {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return a.Building.Floor(id)
	}
	for _, f := range a.Building.Floors {
		if strings.EqualFold(f.Name, ref) {
			return f
		}
	}
	return nil
}

// FindRoute resolves both ends and runs the pathfinder. An unreachable
// destination yields a nil route and no error.
func (a *App) FindRoute(from, to string) (*nav.Route, error) {
	start := a.ResolveZone(from)
	if start == nil {
		return nil, fmt.Errorf("%w: %s", nav.ErrUnknownZone, from)
	}
	end := a.ResolveZone(to)
	if end == nil {
		return nil, fmt.Errorf("%w: %s", nav.ErrUnknownZone, to)
	}
	return nav.FindPath(a.Tracker.Building(), start.ID, end.ID), nil
}

// --- run modes ---

// RunSummary prints the loaded building
func (a *App) RunSummary() error {
	if err := a.Init(a.ctx); err != nil {
		return err
	}
	defer a.Close()

	s := nav.Summarize(a.Tracker.Building())
	fmt.Fprintf(a.Out, "=== Building %s ===\n", s.ID)
	for _, f := range s.Floors {
		fmt.Fprintf(a.Out, "Floor %d %q: %d zones (%d stairs/elevators), %d walls, %d points of interest\n",
			f.Index, f.Name, len(f.ZoneNames), f.VerticalZones, f.Walls, f.PointsOfInterest)
		if len(f.ZoneNames) > 0 {
			fmt.Fprintf(a.Out, "  [%s]\n", strings.Join(f.ZoneNames, ", "))
		}
	}
	fmt.Fprintf(a.Out, "Zones: %d, connections: %d (%d between floors)\n", s.ZoneCount, s.Connections, s.InterFloorLinks)
	fmt.Fprintf(a.Out, "Calibration fingerprints: %d\n", s.CalibrationSamples)
	if len(s.UncalibratedZoneIDs) > 0 {
		fmt.Fprintf(a.Out, "Uncalibrated zones: %d\n", len(s.UncalibratedZoneIDs))
	}
	return nil
}

// RunRoute prints the route for a FROM=TO pair
func (a *App) RunRoute(pair string) error {
	from, to, ok := strings.Cut(pair, "=")
	if !ok || from == "" || to == "" {
		return fmt.Errorf("invalid route %q, expected FROM=TO", pair)
	}
	if err := a.Init(a.ctx); err != nil {
		return err
	}
	defer a.Close()

	route, err := a.FindRoute(from, to)
	if err != nil {
		return err
	}
	if route == nil {
		fmt.Fprintf(a.Out, "No route from %s to %s\n", from, to)
		return nil
	}

	fmt.Fprintf(a.Out, "Route %s -> %s: %d zones, cost %.2f, %d floor changes\n",
		from, to, len(route.Zones), route.Cost, route.FloorChanges())
	for _, seg := range route.Segments() {
		floor := a.Building.Floor(seg.FloorID)
		names := make([]string, len(seg.Zones))
		for i, z := range seg.Zones {
			names[i] = z.Name
		}
		fmt.Fprintf(a.Out, "  %s: %s\n", floor.Name, strings.Join(names, " -> "))
	}
	return nil
}

// RunRender draws one floor to OutputFile; a .png extension selects raster output
func (a *App) RunRender(floorRef string) error {
	if err := a.Init(a.ctx); err != nil {
		return err
	}
	defer a.Close()

	floor := a.ResolveFloor(floorRef)
	if floor == nil {
		return fmt.Errorf("floor %q not found", floorRef)
	}

	out := a.OutputFile
	if out == "" {
		out = "floor.svg"
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	r := nav.NewFloorRenderer(a.Tracker.Building(), floor.ID)
	if strings.EqualFold(filepath.Ext(out), ".png") {
		err = r.RenderToPNG(f)
	} else {
		err = r.RenderToSVG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering floor %s: %w", floor.Name, err)
	}
	fmt.Fprintf(a.Out, "Rendered floor %q to %s\n", floor.Name, out)
	return nil
}

// startMQTT connects to the broker and routes scans into the tracker
func (a *App) startMQTT() error {
	client, err := nav.InitMQTT(a.Config, a.onObservations, a.onScanStatus)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if client == nil {
		return errors.New("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
	}
	a.MQTTClient = client
	a.Publisher = nav.NewPublisher(client.GetClient(), a.Config.MQTT.PublishPrefix)
	return nil
}

// RunService runs MQTT tracking and/or the HTTP server until interrupted
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.ctx = ctx

	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(a.Out, "Starting tudonav service...")

	if a.MqttMode {
		if err := a.startMQTT(); err != nil {
			return err
		}
		if err := a.StartTracking(); err != nil {
			return err
		}
	}

	var srv *http.Server
	if a.Serve {
		go a.Hub.Run(ctx)
		srv = &http.Server{
			Addr:              a.Config.HTTP.Listen,
			Handler:           newRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("HTTP server error", zap.Error(err))
				stop()
			}
		}()
	}

	a.printServiceInfo()
	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("HTTP shutdown", zap.Error(err))
		}
	}
	if a.Tracker.Running() {
		a.StopTracking()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Scan topic:   %s\n", a.Config.MQTT.ScanTopic)
		if a.Config.MQTT.StatusTopic != "" {
			fmt.Fprintf(a.Out, "  Status topic: %s\n", a.Config.MQTT.StatusTopic)
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s, %s, %s\n",
			a.Publisher.Topic("location"), a.Publisher.Topic("route"), a.Publisher.Topic("status"))
	}

	if a.Serve {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (%s):\n", a.Config.HTTP.Listen)
		fmt.Fprintln(a.Out, "  GET  /health                  - Health check")
		fmt.Fprintln(a.Out, "  GET  /building                - Building summary")
		fmt.Fprintln(a.Out, "  GET  /floors/{id}.svg|.png    - Floor plan")
		fmt.Fprintln(a.Out, "  GET  /route?from=&to=         - Shortest route")
		fmt.Fprintln(a.Out, "  GET  /location                - Current zone")
		fmt.Fprintln(a.Out, "  POST /tracking/start|stop     - Tracking session")
		fmt.Fprintln(a.Out, "  POST /classify                - One-shot classification")
		fmt.Fprintln(a.Out, "  *    /zones/{id}/fingerprints - Calibration")
		fmt.Fprintln(a.Out, "  GET  /ws                      - Live events")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
