package nav

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAlreadyTracking is returned by Start while a session is running
var ErrAlreadyTracking = errors.New("tracking already started")

// TrackingState is the phase of the live tracking loop
type TrackingState int

const (
	// StateIdle means no tracking session is running
	StateIdle TrackingState = iota
	// StateSampling means the loop is collecting observations for a window
	StateSampling
	// StateClassified means a raw zone is known but not yet confirmed
	StateClassified
	// StateStable means a debounced zone has been published
	StateStable
)

func (s TrackingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateClassified:
		return "classified"
	case StateStable:
		return "stable"
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s TrackingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tracker defaults
const (
	DefaultWindow              = 1000 * time.Millisecond
	DefaultPruneInterval       = 250 * time.Millisecond
	DefaultMaxObservationAge   = 5000 * time.Millisecond
	DefaultOccurrenceThreshold = 2
	DefaultBuildingWait        = 500 * time.Millisecond
)

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithWindow sets the aggregation window length
func WithWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithPruneInterval sets how often stale observations are dropped
func WithPruneInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.pruneInterval = d
		}
	}
}

// WithMaxObservationAge sets the age after which buffered observations are pruned
func WithMaxObservationAge(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.maxAge = d
		}
	}
}

// WithOccurrenceThreshold sets how many identical raw classifications in a
// row are needed before the published zone changes
func WithOccurrenceThreshold(n int) TrackerOption {
	return func(t *Tracker) {
		t.threshold = n
	}
}

// WithBuildingWait sets the retry delay used while no building is loaded
func WithBuildingWait(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.buildingWait = d
		}
	}
}

// WithLogger sets the tracker's logger
func WithLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// withClock overrides the time source in tests
func withClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker runs the live tracking loop: every window it aggregates the buffered
// observations, classifies the fingerprint against the current building, and
// debounces the result before publishing it to subscribers.
type Tracker struct {
	buffer     *ObservationBuffer
	classifier Classifier
	logger     *zap.Logger
	now        func() time.Time

	window        time.Duration
	pruneInterval time.Duration
	maxAge        time.Duration
	buildingWait  time.Duration
	threshold     int

	building atomic.Pointer[Building]

	mu      sync.Mutex
	state   TrackingState
	filter  *OccurrenceFilter[uuid.UUID]
	current *ZoneEstimate
	subs    map[int]func(ZoneEstimate)
	nextSub int
	session *session
}

// session is one Start..Stop run of the loop goroutines
type session struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates an idle tracker reading from buffer
func NewTracker(buffer *ObservationBuffer, classifier Classifier, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		buffer:        buffer,
		classifier:    classifier,
		logger:        zap.L(),
		now:           time.Now,
		window:        DefaultWindow,
		pruneInterval: DefaultPruneInterval,
		maxAge:        DefaultMaxObservationAge,
		buildingWait:  DefaultBuildingWait,
		threshold:     DefaultOccurrenceThreshold,
		subs:          make(map[int]func(ZoneEstimate)),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.buffer == nil {
		t.buffer = NewObservationBuffer(0)
	}
	if t.classifier == nil {
		t.classifier = KNNClassifier{K: DefaultK}
	}
	t.filter = NewOccurrenceFilter[uuid.UUID](t.threshold)
	return t
}

// Buffer returns the observation buffer the tracker reads from
func (t *Tracker) Buffer() *ObservationBuffer {
	return t.buffer
}

// SetBuilding replaces the building snapshot used by the next classification
func (t *Tracker) SetBuilding(b *Building) {
	t.building.Store(b)
}

// Building returns the current building snapshot, or nil
func (t *Tracker) Building() *Building {
	return t.building.Load()
}

// Start begins a tracking session. It returns ErrAlreadyTracking when a
// session is already running. The session ends when ctx is cancelled or Stop
// is called.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return ErrAlreadyTracking
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel}
	t.session = s
	// drop whatever idle Process calls left behind
	t.filter.Reset()
	t.current = nil
	t.state = StateSampling

	s.wg.Add(2)
	go t.classifyLoop(runCtx, &s.wg)
	go t.pruneLoop(runCtx, &s.wg)

	t.logger.Info("tracking started",
		zap.Duration("window", t.window),
		zap.Int("threshold", t.filter.threshold))
	return nil
}

// Stop ends the session. Any window still being collected is discarded. The
// debounce state and published zone are cleared. Stop on an idle tracker is a
// no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	s.wg.Wait()

	t.mu.Lock()
	if t.session != s {
		// a concurrent Stop already finished this session
		t.mu.Unlock()
		return
	}
	t.session = nil
	t.filter.Reset()
	t.current = nil
	t.state = StateIdle
	t.mu.Unlock()

	t.logger.Info("tracking stopped")
}

// Running reports whether a session is active
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

// State returns the loop's current phase
func (t *Tracker) State() TrackingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns the last published estimate
func (t *Tracker) Current() (ZoneEstimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ZoneEstimate{}, false
	}
	return *t.current, true
}

// Subscribe registers fn to receive every newly published estimate. Callbacks
// run on the tracking goroutine and must not block. The returned function
// removes the subscription.
func (t *Tracker) Subscribe(fn func(ZoneEstimate)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Process runs one classify and debounce step on fp synchronously. It returns
// the new estimate and true only when the published zone changed.
//
// Process does not need a running session, so drivers and tests can feed
// fingerprints directly and subscribers are notified as usual. An estimate
// published while idle stays current until the next Start, which begins
// from a clean filter.
func (t *Tracker) Process(fp Fingerprint) (ZoneEstimate, bool) {
	return t.process(context.Background(), fp)
}

func (t *Tracker) process(ctx context.Context, fp Fingerprint) (ZoneEstimate, bool) {
	b := t.building.Load()
	if b == nil {
		return ZoneEstimate{}, false
	}

	raw := uuid.Nil
	if z := t.classifier.Classify(fp, b); z != nil {
		raw = z.ID
	}

	t.mu.Lock()
	// Stop may have won the race while we were classifying.
	if ctx.Err() != nil {
		t.mu.Unlock()
		return ZoneEstimate{}, false
	}

	stable := t.filter.Next(raw)
	published := uuid.Nil
	if t.current != nil {
		published = t.current.ZoneID
	}

	if stable == uuid.Nil || stable == published {
		switch {
		case raw != uuid.Nil && raw != published:
			t.state = StateClassified
		case published != uuid.Nil:
			t.state = StateStable
		default:
			t.state = StateSampling
		}
		t.mu.Unlock()
		return ZoneEstimate{}, false
	}

	zone := b.Zone(stable)
	est := ZoneEstimate{ZoneID: stable, Timestamp: t.now()}
	if zone != nil {
		est.ZoneName = zone.Name
		est.FloorID = zone.FloorID
		if f := b.Floor(zone.FloorID); f != nil {
			est.FloorName = f.Name
		}
	}
	t.current = &est
	t.state = StateStable

	subs := make([]func(ZoneEstimate), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	t.logger.Info("zone changed",
		zap.String("zone", est.ZoneName),
		zap.String("floor", est.FloorName),
		zap.Stringer("zoneId", est.ZoneID))

	for _, fn := range subs {
		fn(est)
	}
	return est, true
}

func (t *Tracker) classifyLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		if t.building.Load() == nil {
			t.logger.Debug("no building loaded, waiting")
			if !sleepCtx(ctx, t.buildingWait) {
				return
			}
			continue
		}

		t.setState(StateSampling)
		start := t.now()
		if !sleepCtx(ctx, t.window) {
			return
		}
		end := t.now()

		fp := Aggregate(t.buffer.Window(start, end))
		t.logger.Debug("window aggregated",
			zap.Int("tags", len(fp.Measurements)),
			zap.Time("from", start))
		t.process(ctx, fp)
	}
}

func (t *Tracker) pruneLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(t.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.buffer.Prune(t.now().Add(-t.maxAge)); n > 0 {
				t.logger.Debug("pruned stale observations", zap.Int("count", n))
			}
		}
	}
}

func (t *Tracker) setState(s TrackingState) {
	t.mu.Lock()
	// A published zone stays visible while the next window is collected.
	if t.current == nil {
		t.state = s
	}
	t.mu.Unlock()
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}
