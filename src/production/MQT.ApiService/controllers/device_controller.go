package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	registry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Registry"
	telemetry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Telemetry"
)

// DeviceDirectory reads registered devices
type DeviceDirectory interface {
	Lookup(ctx context.Context, uid string) (*mqtmodels.Device, error)
	List(ctx context.Context) ([]mqtmodels.Device, error)
}

// ReadingHistory reads stored readings
type ReadingHistory interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error)
}

// DeviceController handles the device read API
type DeviceController struct {
	devices        DeviceDirectory
	readings       ReadingHistory
	defaultLimit   int
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewDeviceController creates a new device controller
func NewDeviceController(devices DeviceDirectory, readings ReadingHistory, defaultLimit int, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *DeviceController {
	if defaultLimit <= 0 {
		defaultLimit = telemetry.DefaultRecentLimit
	}
	return &DeviceController{
		devices:        devices,
		readings:       readings,
		defaultLimit:   defaultLimit,
		logger:         logger,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	devices := router.Group("/api/devices", c.authMiddleware.Authenticate())
	{
		devices.GET("", c.ListDevices)
		devices.GET("/:uid", c.GetDevice)
		devices.GET("/:uid/data", c.GetDeviceData)
	}
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	devices, err := c.devices.List(ctx.Request.Context())
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to list devices")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, devices)
}

func (c *DeviceController) GetDevice(ctx *gin.Context) {
	device, ok := c.lookup(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, device)
}

// GetDeviceData returns the device with its most recent readings, newest first
func (c *DeviceController) GetDeviceData(ctx *gin.Context) {
	limit := c.defaultLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > telemetry.MaxRecentLimit {
		limit = telemetry.MaxRecentLimit
	}

	device, ok := c.lookup(ctx)
	if !ok {
		return
	}

	readings, err := c.readings.Recent(ctx.Request.Context(), device.ID, limit)
	if err != nil {
		c.logger.Logger.Error().Err(err).Str("uid", device.UID).Msg("Failed to read device history")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"device":   device,
		"readings": readings,
	})
}

func (c *DeviceController) lookup(ctx *gin.Context) (*mqtmodels.Device, bool) {
	device, err := c.devices.Lookup(ctx.Request.Context(), ctx.Param("uid"))
	if errors.Is(err, registry.ErrDeviceNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"message": "Device not found"})
		return nil, false
	}
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to look up device")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return device, true
}
