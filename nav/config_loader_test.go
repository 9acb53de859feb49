package nav

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func validConfigYAML() string {
	return `mqtt:
  broker: tcp://localhost:1883
  publishPrefix: office
  clientId: tudonav-test
  scanTopic: ble/gateway/+/scan
  statusTopic: ble/gateway/status
building:
  path: building.json
tracking:
  windowMs: 1500
  k: 5
store:
  driver: sqlite
  path: fingerprints.db
log:
  level: debug
  format: json
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want a not found error", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want %q", cfg.MQTT.Broker, "tcp://localhost:1883")
	}
	if cfg.MQTT.ScanTopic != "ble/gateway/+/scan" {
		t.Errorf("ScanTopic = %q", cfg.MQTT.ScanTopic)
	}
	if cfg.Building.Path != "building.json" {
		t.Errorf("Building.Path = %q", cfg.Building.Path)
	}
	if cfg.Tracking.WindowMs != 1500 || cfg.Tracking.K != 5 {
		t.Errorf("Tracking = %+v, want windowMs 1500 and k 5", cfg.Tracking)
	}
	// unset fields fall back to defaults
	if cfg.Tracking.OccurrenceThreshold != DefaultOccurrenceThreshold {
		t.Errorf("OccurrenceThreshold = %d, want %d", cfg.Tracking.OccurrenceThreshold, DefaultOccurrenceThreshold)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP.Listen = %q, want :8080", cfg.HTTP.Listen)
	}
	if cfg.Store.Driver != StoreSQLite {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing building source",
			yaml: "mqtt:\n  broker: tcp://x:1883\n",
			want: "building",
		},
		{
			name: "unknown store driver",
			yaml: "building:\n  path: b.json\nstore:\n  driver: redis\n",
			want: "store.driver",
		},
		{
			name: "sqlite without path",
			yaml: "building:\n  path: b.json\nstore:\n  driver: sqlite\n",
			want: "store.path",
		},
		{
			name: "negative k",
			yaml: "building:\n  path: b.json\ntracking:\n  k: -1\n",
			want: "tracking.k",
		},
		{
			name: "bad log format",
			yaml: "building:\n  url: http://maps/b.json\nlog:\n  format: xml\n",
			want: "log.format",
		},
		{
			name: "invalid yaml",
			yaml: "building: [",
			want: "parsing config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Building.URL = "http://maps.local/building.json"
	cfg.MQTT.Broker = "tcp://broker:1883"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestTrackingConfig_TrackerOptions(t *testing.T) {
	tc := TrackingConfig{WindowMs: 200, PruneIntervalMs: 50, MaxObservationAgeMs: 900, OccurrenceThreshold: 4}
	tr := NewTracker(nil, nil, tc.TrackerOptions()...)

	if tr.window != 200*time.Millisecond {
		t.Errorf("window = %v", tr.window)
	}
	if tr.pruneInterval != 50*time.Millisecond {
		t.Errorf("pruneInterval = %v", tr.pruneInterval)
	}
	if tr.maxAge != 900*time.Millisecond {
		t.Errorf("maxAge = %v", tr.maxAge)
	}
	if tr.filter.threshold != 4 {
		t.Errorf("threshold = %d", tr.filter.threshold)
	}
}
