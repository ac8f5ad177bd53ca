package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/health"
	jwt "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/implementation/jwt"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/middleware"
	fanout "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Fanout"
	mqtingestor "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	registry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Registry"
	implementation "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Implementation"
	telemetry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Telemetry"
)

type eventLog struct {
	keys []string
}

func (e *eventLog) Publish(key string, event mqtmodels.Event) {
	e.keys = append(e.keys, key+"/"+event.Name)
}

type testServer struct {
	engine   *gin.Engine
	pipeline *mqtingestor.Pipeline
	events   *eventLog
}

func setupServer(t *testing.T, jwtService *jwt.Service) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewForTest()
	log := logger.NewNop()
	devices := implementation.NewMemoryDeviceRepository()
	reg := registry.NewRegistry(devices, log, m)
	store := telemetry.NewStore(devices, implementation.NewMemoryTelemetryRepository(), log, 10)
	events := &eventLog{}

	pipeline, err := mqtingestor.NewPipeline(reg, store, events, m, log, mqtingestor.PipelineOptions{})
	require.NoError(t, err)

	auth := middleware.NewAuthMiddleware(jwtService, middleware.DefaultConfig())
	checker := health.NewHealthChecker()
	checker.AddCheck("store", store.Ping)

	engine := gin.New()
	NewDeviceController(reg, store, 10, log, auth).RegisterRoutes(engine)
	NewTelemetryController(pipeline, log, auth).RegisterRoutes(engine)
	NewHealthController(checker, m.Handler()).RegisterRoutes(engine)

	return &testServer{engine: engine, pipeline: pipeline, events: events}
}

func (s *testServer) do(method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) ingest(t *testing.T, uid string, tts int) {
	t.Helper()
	payload := fmt.Sprintf(`{"uid":%q,"fw":"1.0.0","tts":%d,"data":{"temp":1097859072}}`, uid, tts)
	require.NoError(t, s.pipeline.Handle("/application/out/"+uid, []byte(payload)))
}

func TestListAndGetDevices(t *testing.T) {
	s := setupServer(t, nil)
	s.ingest(t, "dev-1", 1)
	s.ingest(t, "dev-2", 1)

	rec := s.do(http.MethodGet, "/api/devices", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var devices []mqtmodels.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	assert.Len(t, devices, 2)

	rec = s.do(http.MethodGet, "/api/devices/dev-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var device mqtmodels.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &device))
	assert.Equal(t, "Device-dev-1", device.Name)
	require.NotNil(t, device.LatestReading)
	assert.Equal(t, 15.0, *device.LatestReading.Temperature)

	rec = s.do(http.MethodGet, "/api/devices/dev-404", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDeviceData(t *testing.T) {
	s := setupServer(t, nil)
	for i := 0; i < 12; i++ {
		s.ingest(t, "dev-1", i)
	}

	rec := s.do(http.MethodGet, "/api/devices/dev-1/data", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Device   mqtmodels.Device    `json:"device"`
		Readings []mqtmodels.Reading `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dev-1", body.Device.UID)
	assert.Len(t, body.Readings, 10)

	rec = s.do(http.MethodGet, "/api/devices/dev-1/data?limit=3", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Readings, 3)

	rec = s.do(http.MethodGet, "/api/devices/dev-1/data?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/devices/nope/data", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTelemetry(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(http.MethodPost, "/api/telemetry", gin.H{"deviceId": "dev-1", "temp": 21.5}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.events.keys)

	s.ingest(t, "dev-1", 1)
	s.events.keys = nil

	rec = s.do(http.MethodPost, "/api/telemetry", gin.H{"deviceId": "dev-1", "temp": 21.5, "pm25": 4}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Data mqtmodels.HydratedReading `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 21.5, *body.Data.Temperature)
	assert.Nil(t, body.Data.Humidity)
	assert.Equal(t, "dev-1", body.Data.Device.UID)
	assert.Equal(t, []string{"dev-1/new-telemetry-data", fanout.GlobalGroup + "/latest-device-update"}, s.events.keys)

	rec = s.do(http.MethodPost, "/api/telemetry", gin.H{"temp": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticationGate(t *testing.T) {
	svc := jwt.NewService(jwt.Config{SecretKey: "secret", Issuer: "mpt-auth-service"})
	s := setupServer(t, svc)

	rec := s.do(http.MethodGet, "/api/devices", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/devices", nil, http.Header{"Authorization": {"Bearer garbage"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := svc.Issue("user-1", "viewer", time.Minute)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/devices", nil, http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays public
	rec = s.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := setupServer(t, nil)
	s.ingest(t, "dev-1", 1)

	rec := s.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "telemetry_readings_stored_total 1")
}

func TestHealthReady_Degraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := health.NewHealthChecker()
	checker.AddCheck("mqtt", func(ctx context.Context) error { return fmt.Errorf("not connected") })

	engine := gin.New()
	NewHealthController(checker, metrics.NewForTest().Handler()).RegisterRoutes(engine)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
