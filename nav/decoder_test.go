package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTagID(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    TagID
		ok      bool
	}{
		{"little endian", []byte{0x01, 0x02, 0x00, 0x00}, 0x0201, true},
		{"max positive", []byte{0xff, 0xff, 0xff, 0x7f}, 0x7fffffff, true},
		{"sign bit", []byte{0xff, 0xff, 0xff, 0xff}, -1, true},
		{"too short", []byte{0x01, 0x02, 0x03}, 0, false},
		{"too long", []byte{0x01, 0x02, 0x03, 0x04, 0x05}, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeTagID(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeScanReport_SingleObject(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"address":"AA:BB:CC:DD:EE:FF","rssi":-67,"timestamp":1700000000500,
		"manufacturerData":{"ffff":"2a000000"}}`)

	obs, err := DecodeScanReport(payload, now)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, TagID(42), obs[0].TagID)
	assert.Equal(t, RSSI(-67), obs[0].RSSI)
	assert.Equal(t, time.UnixMilli(1700000000500), obs[0].Timestamp)
}

func TestDecodeScanReport_ArrayDropsInvalid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`[
		{"address":"a","rssi":-50,"manufacturerData":{"0xFFFF":"01000000"}},
		{"address":"b","rssi":-60,"manufacturerData":{"004c":"01000000"}},
		{"address":"c","rssi":-70,"manufacturerData":{"ffff":"010000"}},
		{"address":"d","rssi":-80,"manufacturerData":{"ffff":"zz"}},
		{"address":"e","rssi":-90}
	]`)

	obs, err := DecodeScanReport(payload, now)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, TagID(1), obs[0].TagID)
	assert.Equal(t, now, obs[0].Timestamp, "missing timestamp means arrival time")
}

func TestScanReport_DuplicateCompanyKeys(t *testing.T) {
	r := ScanReport{
		RSSI: -60,
		ManufacturerData: map[string]string{
			"ffff":   "02000000",
			"0xFFFF": "01000000",
			"004c":   "03000000",
		},
	}
	for i := 0; i < 20; i++ {
		obs, ok := r.Observation(time.Unix(0, 0))
		require.True(t, ok)
		assert.Equal(t, TagID(1), obs.TagID, "0xFFFF sorts first")
	}

	r.ManufacturerData["0xFFFF"] = "0100"
	for i := 0; i < 20; i++ {
		_, ok := r.Observation(time.Unix(0, 0))
		assert.False(t, ok, "the first matching key is invalid")
	}
}

func TestDecodeScanReport_Errors(t *testing.T) {
	_, err := DecodeScanReport([]byte("  "), time.Now())
	assert.Error(t, err)

	_, err = DecodeScanReport([]byte("{not json"), time.Now())
	assert.Error(t, err)

	_, err = DecodeScanReport([]byte("[1,2]"), time.Now())
	assert.Error(t, err)
}
