package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/kwv/tudonav/nav"
	"go.uber.org/zap"
)

type ctxKey string

const zoneCtxKey ctxKey = "zone"

// ErrResponse is the JSON body of every failed request
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errResponse(status int, err error) render.Renderer {
	resp := &ErrResponse{Err: err, HTTPStatusCode: status, StatusText: http.StatusText(status)}
	if err != nil {
		resp.ErrorText = err.Error()
	}
	return resp
}

func errInvalidRequest(err error) render.Renderer { return errResponse(http.StatusBadRequest, err) }
func errNotFound(err error) render.Renderer       { return errResponse(http.StatusNotFound, err) }
func errConflict(err error) render.Renderer       { return errResponse(http.StatusConflict, err) }
func errUnexpected(err error) render.Renderer     { return errResponse(http.StatusInternalServerError, err) }

// newRouter builds the HTTP surface for a.
func newRouter(a *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.Logger))
	r.Use(middleware.Recoverer)

	// websocket connections outlive the request timeout
	r.Get("/ws", a.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", a.handleHealth)
		r.Get("/building", a.handleBuilding)
		r.Get("/building.json", a.handleBuildingJSON)
		r.Get("/floors/{floorFile}", a.handleFloor)
		r.Get("/route", a.handleRoute)
		r.Get("/location", a.handleLocation)
		r.Post("/tracking/start", a.handleTrackingStart)
		r.Post("/tracking/stop", a.handleTrackingStop)
		r.Post("/classify", a.handleClassify)

		r.Route("/zones/{zoneID}", func(r chi.Router) {
			r.Use(a.zoneCtx)
			r.Get("/fingerprints", a.handleGetFingerprints)
			r.Post("/fingerprints", a.handleAddFingerprint)
			r.Delete("/fingerprints", a.handleClearFingerprints)
		})
	})

	return r
}

// requestLogger logs each request through zap
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr))
		})
	}
}

func (a *App) zoneCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "zoneID"))
		if err != nil {
			_ = render.Render(w, r, errInvalidRequest(fmt.Errorf("invalid zone id: %w", err)))
			return
		}
		z := a.Building.Zone(id)
		if z == nil {
			_ = render.Render(w, r, errNotFound(nav.ErrUnknownZone))
			return
		}
		ctx := context.WithValue(r.Context(), zoneCtxKey, z)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func zoneFromCtx(ctx context.Context) *nav.Zone {
	z, _ := ctx.Value(zoneCtxKey).(*nav.Zone)
	return z
}

// --- status ---

type healthResponse struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Tracking      nav.TrackingState `json:"tracking"`
	Zones         int               `json:"zones"`
	Calibration   int               `json:"calibration"`
	MQTTConnected bool              `json:"mqttConnected"`
	ScanError     *string           `json:"scanError"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	b := a.Tracker.Building()
	resp := healthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		Tracking:    a.Tracker.State(),
		Zones:       len(b.Zones()),
		Calibration: b.CalibrationCount(),
	}
	if a.MQTTClient != nil {
		resp.MQTTConnected = a.MQTTClient.IsConnected()
	}
	if scanErr := a.ScanStatus(); scanErr != nil {
		code := nav.ScanErrorCode(scanErr)
		resp.ScanError = &code
	}
	render.JSON(w, r, resp)
}

func (a *App) handleBuilding(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, nav.Summarize(a.Tracker.Building()))
}

// handleBuildingJSON exports the building with the current calibration
func (a *App) handleBuildingJSON(w http.ResponseWriter, r *http.Request) {
	data, err := nav.EncodeBuilding(a.Tracker.Building())
	if err != nil {
		_ = render.Render(w, r, errUnexpected(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// handleFloor renders /floors/{id}.svg or .png. ?route=from,to overlays a
// route; the current zone is highlighted.
func (a *App) handleFloor(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "floorFile")
	ext := path.Ext(file)
	floor := a.ResolveFloor(strings.TrimSuffix(file, ext))
	if floor == nil {
		_ = render.Render(w, r, errNotFound(fmt.Errorf("floor %q not found", strings.TrimSuffix(file, ext))))
		return
	}

	renderer := nav.NewFloorRenderer(a.Tracker.Building(), floor.ID)
	if est, ok := a.Tracker.Current(); ok {
		renderer.Highlight = est.ZoneID
	}
	if pair := r.URL.Query().Get("route"); pair != "" {
		from, to, ok := strings.Cut(pair, ",")
		if !ok {
			_ = render.Render(w, r, errInvalidRequest(errors.New("route must be from,to")))
			return
		}
		route, err := a.FindRoute(from, to)
		if err != nil {
			_ = render.Render(w, r, errNotFound(err))
			return
		}
		renderer.Route = route
	}

	w.Header().Set("Cache-Control", "no-cache")
	var err error
	switch strings.ToLower(ext) {
	case ".svg":
		w.Header().Set("Content-Type", "image/svg+xml")
		err = renderer.RenderToSVG(w)
	case ".png":
		w.Header().Set("Content-Type", "image/png")
		err = renderer.RenderToPNG(w)
	default:
		_ = render.Render(w, r, errInvalidRequest(fmt.Errorf("unsupported format %q", ext)))
		return
	}
	if err != nil {
		a.Logger.Error("rendering floor", zap.String("floor", floor.Name), zap.Error(err))
	}
}

// --- routing ---

type routeResponse struct {
	nav.RouteSummary
	Segments []routeSegment `json:"segments"`
}

type routeSegment struct {
	FloorID   string   `json:"floorId"`
	FloorName string   `json:"floorName"`
	Zones     []string `json:"zones"`
}

func (a *App) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		_ = render.Render(w, r, errInvalidRequest(errors.New("from and to are required")))
		return
	}

	route, err := a.FindRoute(from, to)
	if err != nil {
		_ = render.Render(w, r, errNotFound(err))
		return
	}
	if route == nil {
		_ = render.Render(w, r, errNotFound(fmt.Errorf("no route from %s to %s", from, to)))
		return
	}

	summary := nav.SummarizeRoute(route)
	if err := a.Publisher.PublishRoute(route); err != nil {
		a.Logger.Debug("route not published", zap.Error(err))
	}
	a.Hub.Broadcast(Event{Type: EventRoute, Route: &summary, Timestamp: time.Now()})

	resp := routeResponse{RouteSummary: summary, Segments: []routeSegment{}}
	for _, seg := range route.Segments() {
		rs := routeSegment{FloorID: seg.FloorID.String()}
		if f := a.Building.Floor(seg.FloorID); f != nil {
			rs.FloorName = f.Name
		}
		for _, z := range seg.Zones {
			rs.Zones = append(rs.Zones, z.Name)
		}
		resp.Segments = append(resp.Segments, rs)
	}
	render.JSON(w, r, resp)
}

// --- tracking ---

type locationResponse struct {
	Tracking nav.TrackingState `json:"tracking"`
	Location *nav.ZoneEstimate `json:"location"`
}

func (a *App) currentLocation() locationResponse {
	resp := locationResponse{Tracking: a.Tracker.State()}
	if est, ok := a.Tracker.Current(); ok {
		resp.Location = &est
	}
	return resp
}

func (a *App) handleLocation(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, a.currentLocation())
}

func (a *App) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	if err := a.StartTracking(); err != nil {
		if errors.Is(err, nav.ErrAlreadyTracking) {
			_ = render.Render(w, r, errConflict(err))
			return
		}
		_ = render.Render(w, r, errUnexpected(err))
		return
	}
	render.JSON(w, r, a.currentLocation())
}

func (a *App) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	a.StopTracking()
	render.JSON(w, r, a.currentLocation())
}

// --- classification ---

type classifyRequest struct {
	Fingerprint  *nav.Fingerprint  `json:"fingerprint,omitempty"`
	Observations []nav.Observation `json:"observations,omitempty"`
	K            int               `json:"k,omitempty"`
}

type zoneView struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	FloorID uuid.UUID `json:"floorId"`
}

type classifyResponse struct {
	Zone        *zoneView       `json:"zone"`
	Fingerprint nav.Fingerprint `json:"fingerprint"`
	Neighbors   []nav.Neighbor  `json:"neighbors"`
}

// fingerprint returns the request's fingerprint, aggregating raw
// observations when no fingerprint was sent
func (req classifyRequest) fingerprint() nav.Fingerprint {
	if req.Fingerprint != nil && !req.Fingerprint.IsEmpty() {
		return *req.Fingerprint
	}
	return nav.Aggregate(req.Observations)
}

func (a *App) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	fp := req.fingerprint()
	if fp.IsEmpty() {
		_ = render.Render(w, r, errInvalidRequest(errors.New("fingerprint or observations required")))
		return
	}

	k := req.K
	if k < 1 {
		k = a.Config.Tracking.K
	}
	b := a.Tracker.Building()
	resp := classifyResponse{Fingerprint: fp, Neighbors: nav.Neighbors(fp, b, k)}
	if z := nav.Classify(fp, b, k); z != nil {
		resp.Zone = &zoneView{ID: z.ID, Name: z.Name, FloorID: z.FloorID}
	}
	if resp.Neighbors == nil {
		resp.Neighbors = []nav.Neighbor{}
	}
	render.JSON(w, r, resp)
}

// --- calibration ---

type fingerprintsResponse struct {
	ZoneID       uuid.UUID         `json:"zoneId"`
	ZoneName     string            `json:"zoneName"`
	Fingerprints []nav.Fingerprint `json:"fingerprints"`
}

func (a *App) handleGetFingerprints(w http.ResponseWriter, r *http.Request) {
	z := zoneFromCtx(r.Context())
	fps, err := a.Calibration(r.Context(), z.ID)
	if err != nil {
		_ = render.Render(w, r, errUnexpected(err))
		return
	}
	if fps == nil {
		fps = []nav.Fingerprint{}
	}
	render.JSON(w, r, fingerprintsResponse{ZoneID: z.ID, ZoneName: z.Name, Fingerprints: fps})
}

// handleAddFingerprint accepts a fingerprint body, or {"observations":[...]}
// which is aggregated first
func (a *App) handleAddFingerprint(w http.ResponseWriter, r *http.Request) {
	z := zoneFromCtx(r.Context())

	var req struct {
		Measurements []nav.Measurement `json:"measurements"`
		Observations []nav.Observation `json:"observations"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	fp := nav.NewFingerprint(req.Measurements...)
	if fp.IsEmpty() {
		fp = nav.Aggregate(req.Observations)
	}
	if fp.IsEmpty() {
		_ = render.Render(w, r, errInvalidRequest(errors.New("empty fingerprint")))
		return
	}

	if err := a.AddCalibration(r.Context(), z.ID, fp); err != nil {
		_ = render.Render(w, r, errUnexpected(err))
		return
	}
	a.Logger.Info("calibration fingerprint added", zap.String("zone", z.Name), zap.Int("tags", len(fp.Measurements)))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, fp)
}

func (a *App) handleClearFingerprints(w http.ResponseWriter, r *http.Request) {
	z := zoneFromCtx(r.Context())
	if err := a.ClearCalibration(r.Context(), z.ID); err != nil {
		_ = render.Render(w, r, errUnexpected(err))
		return
	}
	a.Logger.Info("calibration cleared", zap.String("zone", z.Name))
	w.WriteHeader(http.StatusNoContent)
}

// --- websocket ---

func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	loc := a.currentLocation()
	a.Hub.ServeWS(w, r,
		trackingEvent(loc.Tracking),
		locationEvent(loc.Location),
		statusEvent(a.ScanStatus()))
}
