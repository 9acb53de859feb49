package nav

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TagManufacturerID is the BLE company identifier our beacons advertise under
const TagManufacturerID uint16 = 0xFFFF

// DecodeTagID reads the tag ID from a beacon's manufacturer payload. Only a
// payload of exactly four bytes, little-endian, is accepted.
func DecodeTagID(payload []byte) (TagID, bool) {
	if len(payload) != 4 {
		return 0, false
	}
	return TagID(int32(binary.LittleEndian.Uint32(payload))), true
}

// ScanReport is one advertisement as forwarded by a BLE gateway
type ScanReport struct {
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	RSSI      int    `json:"rssi"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix ms, 0 means time of arrival
	// ManufacturerData maps a hex company identifier ("ffff" or "0xFFFF") to
	// the hex-encoded payload
	ManufacturerData map[string]string `json:"manufacturerData"`
}

// Observation converts the report. It reports false when the advertisement
// carries no valid tag payload. When several keys spell our company id, the
// first one in sorted order decides.
func (r ScanReport) Observation(now time.Time) (Observation, bool) {
	for _, key := range slices.Sorted(maps.Keys(r.ManufacturerData)) {
		value := r.ManufacturerData[key]
		id, err := parseCompanyID(key)
		if err != nil || id != TagManufacturerID {
			continue
		}
		payload, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(value), "0x"))
		if err != nil {
			return Observation{}, false
		}
		tag, ok := DecodeTagID(payload)
		if !ok {
			return Observation{}, false
		}
		ts := now
		if r.Timestamp > 0 {
			ts = time.UnixMilli(r.Timestamp)
		}
		return Observation{TagID: tag, RSSI: RSSI(r.RSSI), Timestamp: ts}, true
	}
	return Observation{}, false
}

func parseCompanyID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing company id %q: %w", s, err)
	}
	return uint16(v), nil
}

// DecodeScanReport decodes a gateway message holding a single report or an
// array of reports. Reports without a valid tag payload are dropped.
func DecodeScanReport(payload []byte, now time.Time) ([]Observation, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty scan payload")
	}

	var reports []ScanReport
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reports); err != nil {
			return nil, fmt.Errorf("parsing scan reports: %w", err)
		}
	} else {
		var r ScanReport
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, fmt.Errorf("parsing scan report: %w", err)
		}
		reports = append(reports, r)
	}

	obs := make([]Observation, 0, len(reports))
	for _, r := range reports {
		if o, ok := r.Observation(now); ok {
			obs = append(obs, o)
		}
	}
	return obs, nil
}
