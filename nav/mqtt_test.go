package nav

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mqttTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Building.Path = "building.json"
	cfg.MQTT.ScanTopic = "ble/+/scan"
	cfg.MQTT.StatusTopic = "ble/status"
	return cfg
}

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	client, err := InitMQTT(mqttTestConfig(), nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NilConfig(t *testing.T) {
	_, err := InitMQTT(nil, nil, nil)
	assert.Error(t, err)
}

func TestInitMQTT_NoScanTopic(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfg := mqttTestConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ScanTopic = ""

	_, err := InitMQTT(cfg, nil, nil)
	assert.Error(t, err)
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected())

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_OnConnectSubscribes(t *testing.T) {
	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, mqttTestConfig(), nil, nil)
	mock.SetOnConnect(c.onConnect)

	require.NoError(t, mock.Connect().Error())

	assert.True(t, c.IsConnected())
	assert.ElementsMatch(t, []string{"ble/+/scan", "ble/status"}, mock.Subscriptions())
}

func TestMQTTClient_ScanMessagesReachHandler(t *testing.T) {
	var mu sync.Mutex
	var got []Observation

	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, mqttTestConfig(), func(obs []Observation) {
		mu.Lock()
		got = append(got, obs...)
		mu.Unlock()
	}, nil)
	mock.SetOnConnect(c.onConnect)
	mock.Connect()

	mock.SimulateMessage("ble/gw1/scan", []byte(`[
		{"address":"a","rssi":-55,"manufacturerData":{"ffff":"07000000"}},
		{"address":"b","rssi":-65,"manufacturerData":{"ffff":"08000000"}}]`))
	// invalid payloads are dropped without reaching the handler
	mock.SimulateMessage("ble/gw1/scan", []byte(`not json`))
	mock.SimulateMessage("ble/gw1/scan", []byte(`{"address":"c","rssi":-1}`))
	// wrong topic
	mock.SimulateMessage("other/gw1/scan", []byte(`{"address":"d","rssi":-50,"manufacturerData":{"ffff":"09000000"}}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, TagID(7), got[0].TagID)
	assert.Equal(t, RSSI(-65), got[1].RSSI)
}

func TestMQTTClient_StatusForwarded(t *testing.T) {
	var got []error
	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, mqttTestConfig(), nil, func(err error) {
		got = append(got, err)
	})
	mock.SetOnConnect(c.onConnect)
	mock.Connect()

	mock.SimulateMessage("ble/status", []byte(`{"error":"permission_denied"}`))
	mock.SimulateMessage("ble/status", []byte(`{}`))

	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0], ErrPermissionDenied)
	assert.NoError(t, got[1])
}

func TestMQTTClient_SubscribeErrorIsLogged(t *testing.T) {
	mock := NewMockClient()
	mock.SetSubscribeError(errors.New("denied"))
	c := newMQTTClientWithMock(mock, mqttTestConfig(), nil, nil)
	mock.SetOnConnect(c.onConnect)

	assert.NoError(t, mock.Connect().Error())
	assert.Empty(t, mock.Subscriptions())
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, mqttTestConfig(), nil, nil)
	mock.SetOnConnect(c.onConnect)
	mock.Connect()
	require.True(t, mock.IsConnected())

	c.Disconnect()
	assert.False(t, mock.IsConnected())
	assert.False(t, c.IsConnected())
	assert.Same(t, mock, c.GetClient())
}

func TestMQTTClient_ConnectWithRetry(t *testing.T) {
	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, mqttTestConfig(), nil, nil)
	mock.SetOnConnect(c.onConnect)

	c.connectWithRetry()
	assert.True(t, c.IsConnected())
	assert.ElementsMatch(t, []string{"ble/+/scan", "ble/status"}, mock.Subscriptions())
}

func TestMQTTClient_DisconnectStopsRetry(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnectError(errors.New("connection refused"))
	c := newMQTTClientWithMock(mock, mqttTestConfig(), nil, nil)

	done := make(chan struct{})
	go func() {
		c.connectWithRetry()
		close(done)
	}()
	c.Disconnect()
	c.Disconnect()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connectWithRetry did not return after Disconnect")
	}
	assert.False(t, c.IsConnected())
}
