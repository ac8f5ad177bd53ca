package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	codec "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Codec"
	container "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Container"
	mqtingestor "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// channelRange bounds the uniformly random value generated for a channel
type channelRange struct {
	min, max float64
}

var (
	temperatureRange = channelRange{20, 30}
	humidityRange    = channelRange{40, 60}
	pm25Range        = channelRange{5, 15}
)

func (r channelRange) sample(rng *rand.Rand) *float64 {
	v := r.min + rng.Float64()*(r.max-r.min)
	return &v
}

func main() {
	ctr, err := container.NewSimulatorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}

	log := ctr.GetLogger().WithService("simulator")
	cfg := ctr.GetConfig()

	opts, err := mqtingestor.ClientOptions(cfg.MQTT)
	if err != nil {
		log.FatalWithError(err, "Invalid MQTT configuration")
	}
	client := mqtt.NewClient(opts)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := mqtingestor.Connect(ctx, client, cfg.MQTT.ConnectAttempts, log); err != nil {
		log.FatalWithError(err, "Failed to connect to MQTT broker")
	}
	defer client.Disconnect(250)

	log.Logger.Info().
		Strs("devices", cfg.Devices).
		Dur("interval", cfg.Interval).
		Msg("Simulator publishing... press Ctrl+C to stop")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		for _, uid := range cfg.Devices {
			publish(client, cfg.TopicPrefix, uid, cfg.Firmware, byte(cfg.MQTT.QoS), rng, log)
		}

		select {
		case <-ctx.Done():
			log.Info("Simulator stopped")
			return
		case <-ticker.C:
		}
	}
}

func publish(client mqtt.Client, prefix, uid, firmware string, qos byte, rng *rand.Rand, log *logger.Logger) {
	env := mqtmodels.Envelope{
		UID:             uid,
		Firmware:        firmware,
		DeviceTimestamp: time.Now().Unix(),
		Data: codec.EncodeChannels(mqtmodels.Measurements{
			Temperature:       temperatureRange.sample(rng),
			Humidity:          humidityRange.sample(rng),
			ParticulateMatter: pm25Range.sample(rng),
		}),
	}

	payload, err := json.Marshal(env)
	if err != nil {
		log.ErrorWithError(err, "Failed to encode message")
		return
	}

	token := client.Publish(prefix+uid, qos, false, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Logger.Error().Err(token.Error()).Str("uid", uid).Msg("Publish failed")
		return
	}
	log.Logger.Debug().Str("uid", uid).Msg("Published reading")
}
