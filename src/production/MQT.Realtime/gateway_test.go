package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	fanout "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Fanout"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

func setupGateway(t *testing.T) (*fanout.Router, *metrics.Metrics, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewForTest()
	router := fanout.NewRouter(logger.NewNop(), m)
	gw := NewGateway(router, config.RealtimeConfig{SendBuffer: 8, WriteTimeout: time.Second, PingInterval: time.Minute}, []string{"*"}, logger.NewNop(), m)

	engine := gin.New()
	engine.GET("/ws", gw.HandleWS)
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})

	return router, m, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestGateway_JoinRoomAndReceive(t *testing.T) {
	router, m, url := setupGateway(t)

	viewer := dial(t, url)
	other := dial(t, url)

	require.NoError(t, viewer.WriteJSON(map[string]string{"event": "join-room", "data": "dev-1"}))
	require.Eventually(t, func() bool {
		members, groups := router.Stats()
		return members == 2 && groups == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectedClients))

	router.Publish("dev-1", mqtmodels.Event{Name: mqtmodels.EventNewTelemetry, Payload: map[string]float64{"temp": 15}})
	router.Publish(fanout.GlobalGroup, mqtmodels.Event{Name: mqtmodels.EventLatestDeviceUpdate, Payload: map[string]float64{"temp": 15}})

	first := readEvent(t, viewer)
	assert.Equal(t, "new-telemetry-data", first["event"])
	assert.Equal(t, 15.0, first["data"].(map[string]interface{})["temp"])
	assert.Equal(t, "latest-device-update", readEvent(t, viewer)["event"])

	// the other viewer never joined dev-1
	assert.Equal(t, "latest-device-update", readEvent(t, other)["event"])
}

func TestGateway_DisconnectLeavesAllGroups(t *testing.T) {
	router, m, url := setupGateway(t)

	viewer := dial(t, url)
	require.NoError(t, viewer.WriteJSON(map[string]string{"event": "join-room", "data": "dev-1"}))
	require.NoError(t, viewer.WriteJSON(map[string]string{"event": "join-room", "data": "dev-2"}))
	require.Eventually(t, func() bool {
		_, groups := router.Stats()
		return groups == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, viewer.Close())

	require.Eventually(t, func() bool {
		members, groups := router.Stats()
		return members == 0 && groups == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectedClients))
}

func TestGateway_IgnoresReservedAndMalformedFrames(t *testing.T) {
	router, _, url := setupGateway(t)

	viewer := dial(t, url)
	require.NoError(t, viewer.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, viewer.WriteJSON(map[string]string{"event": "join-room", "data": fanout.GlobalGroup}))
	require.NoError(t, viewer.WriteJSON(map[string]interface{}{"event": "join-room", "data": 42}))
	require.NoError(t, viewer.WriteJSON(map[string]string{"event": "join-room", "data": "dev-9"}))

	require.Eventually(t, func() bool {
		_, groups := router.Stats()
		return groups == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
}
