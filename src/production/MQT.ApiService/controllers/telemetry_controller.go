package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	registry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Registry"
)

// ReadingSubmitter stores a manual reading and fans it out
type ReadingSubmitter interface {
	Submit(ctx context.Context, uid string, measurements mqtmodels.Measurements) (*mqtmodels.HydratedReading, error)
}

// TelemetryController accepts readings over HTTP for registered devices
type TelemetryController struct {
	submitter      ReadingSubmitter
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
}

func NewTelemetryController(submitter ReadingSubmitter, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *TelemetryController {
	return &TelemetryController{
		submitter:      submitter,
		logger:         logger,
		authMiddleware: authMiddleware,
	}
}

func (c *TelemetryController) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/telemetry", c.authMiddleware.Authenticate(), c.CreateTelemetry)
}

type CreateTelemetryRequest struct {
	DeviceID          string   `json:"deviceId" binding:"required"`
	Temperature       *float64 `json:"temp"`
	Humidity          *float64 `json:"hum"`
	ParticulateMatter *float64 `json:"pm25"`
}

func (c *TelemetryController) CreateTelemetry(ctx *gin.Context) {
	var req CreateTelemetryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reading, err := c.submitter.Submit(ctx.Request.Context(), req.DeviceID, mqtmodels.Measurements{
		Temperature:       req.Temperature,
		Humidity:          req.Humidity,
		ParticulateMatter: req.ParticulateMatter,
	})
	if errors.Is(err, registry.ErrDeviceNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"message": "Device not registered"})
		return
	}
	if err != nil {
		c.logger.Logger.Error().Err(err).Str("uid", req.DeviceID).Msg("Failed to store manual reading")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	evt := c.logger.Logger.Info().Str("uid", req.DeviceID).Str("reading", reading.ID)
	if userID, err := middleware.GetUserFromGinContext(ctx); err == nil {
		evt = evt.Str("user_id", userID)
	}
	evt.Msg("Manual reading stored")

	ctx.JSON(http.StatusCreated, gin.H{"message": "Data received", "data": reading})
}
