package nav

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher publishes zone estimates, routes and scanner status as retained
// JSON under a topic prefix
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *zap.Logger

	mu   sync.RWMutex
	last *ZoneEstimate
}

// RouteZone is one hop of a published route
type RouteZone struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	FloorID string `json:"floorId"`
}

// RouteSummary is the JSON form of a Route
type RouteSummary struct {
	From         string      `json:"from"`
	To           string      `json:"to"`
	Zones        []RouteZone `json:"zones"`
	Cost         float64     `json:"cost"`
	FloorChanges int         `json:"floorChanges"`
}

// SummarizeRoute converts a route for publishing; nil routes give an empty
// zone list
func SummarizeRoute(r *Route) RouteSummary {
	s := RouteSummary{Zones: []RouteZone{}}
	if r == nil || len(r.Zones) == 0 {
		return s
	}
	for _, z := range r.Zones {
		s.Zones = append(s.Zones, RouteZone{ID: z.ID.String(), Name: z.Name, FloorID: z.FloorID.String()})
	}
	s.From = s.Zones[0].ID
	s.To = s.Zones[len(s.Zones)-1].ID
	s.Cost = r.Cost
	s.FloorChanges = r.FloorChanges()
	return s
}

type statusMessage struct {
	Error     *string `json:"error"`
	Message   string  `json:"message,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// NewPublisher creates a publisher. The prefix falls back to
// MQTT_PUBLISH_PREFIX and then "tudonav". A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = defaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		logger:        zap.L().Named("publisher"),
	}
}

// Topic returns the full topic for a suffix
func (p *Publisher) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, suffix)
}

// PublishLocation publishes the debounced zone estimate to {prefix}/location
func (p *Publisher) PublishLocation(est ZoneEstimate) error {
	p.mu.Lock()
	e := est
	p.last = &e
	p.mu.Unlock()

	if err := p.publishJSON("location", est); err != nil {
		return err
	}
	p.logger.Debug("published location", zap.String("zone", est.ZoneName), zap.String("floor", est.FloorName))
	return nil
}

// ClearLocation publishes {"zoneId":null} when tracking stops
func (p *Publisher) ClearLocation() error {
	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()
	return p.publishJSON("location", map[string]any{"zoneId": nil})
}

// LastLocation returns the most recently published estimate
func (p *Publisher) LastLocation() (ZoneEstimate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return ZoneEstimate{}, false
	}
	return *p.last, true
}

// PublishRoute publishes a computed route to {prefix}/route
func (p *Publisher) PublishRoute(r *Route) error {
	return p.publishJSON("route", SummarizeRoute(r))
}

// PublishStatus forwards a scanner error to {prefix}/status. A nil error
// publishes a healthy status.
func (p *Publisher) PublishStatus(scanErr error) error {
	msg := statusMessage{Timestamp: time.Now().UnixMilli()}
	if scanErr != nil {
		code := ScanErrorCode(scanErr)
		if code == "" {
			code = ErrScanFailed.Error()
		}
		msg.Error = &code
		msg.Message = scanErr.Error()
	}
	return p.publishJSON("status", msg)
}

func (p *Publisher) publishJSON(suffix string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}

	topic := p.Topic(suffix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
