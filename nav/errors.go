package nav

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownZone is returned when an operation names a zone the building does not have
var ErrUnknownZone = errors.New("unknown zone")

// Scanner failures reported by the BLE gateway. They are forwarded to clients
// as-is; nothing here tries to recover from them.
var (
	ErrBluetoothDisabled = errors.New("bluetooth_disabled")
	ErrPermissionDenied  = errors.New("permission_denied")
	ErrScanFailed        = errors.New("scan_failed")
)

var scanErrors = map[string]error{
	ErrBluetoothDisabled.Error(): ErrBluetoothDisabled,
	ErrPermissionDenied.Error():  ErrPermissionDenied,
	ErrScanFailed.Error():        ErrScanFailed,
}

// ScanStatus is the payload a gateway publishes on its status topic
type ScanStatus struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseScanStatus maps a status payload to one of the scanner errors. A nil
// error means the scanner is healthy. Accepted shapes are
// {"error":"scan_failed","message":"..."}, a JSON string, or the bare error
// name. Unknown error names wrap ErrScanFailed.
func ParseScanStatus(payload []byte) error {
	var status ScanStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			name = strings.TrimSpace(string(payload))
		}
		status.Error = name
	}

	code := strings.ToLower(strings.TrimSpace(status.Error))
	if code == "" || code == "ok" {
		return nil
	}

	sentinel, ok := scanErrors[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScanFailed, code)
	}
	if status.Message != "" {
		return fmt.Errorf("%w: %s", sentinel, status.Message)
	}
	return sentinel
}

// ScanErrorCode returns the wire name of a scanner error, or "" when err is
// not one
func ScanErrorCode(err error) string {
	for code, sentinel := range scanErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}
