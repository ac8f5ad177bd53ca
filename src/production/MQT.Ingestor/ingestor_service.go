package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
)

// Ingestor subscribes to the device topic and feeds messages to a Dispatcher
type Ingestor struct {
	cfg        config.MQTTConfig
	dispatcher *Dispatcher
	logger     *logger.Logger
	client     mqtt.Client
}

func New(cfg config.MQTTConfig, dispatcher *Dispatcher, log *logger.Logger) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     log.WithComponent("mqtt"),
	}
}

// Start connects to the broker, retrying with exponential backoff. Subscription
// happens in OnConnect so it is restored after every reconnect.
func (i *Ingestor) Start(ctx context.Context) error {
	opts, err := ClientOptions(i.cfg)
	if err != nil {
		return err
	}
	opts.SetOrderMatters(true).
		SetCleanSession(i.cfg.SharedGroup == "")

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		i.logger.Logger.Warn().Msg("MQTT reconnecting")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := i.cfg.SubscriptionTopic()
		i.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing")
		if token := c.Subscribe(topic, byte(i.cfg.QoS), i.onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Subscribe failed")
		}
	}

	i.client = mqtt.NewClient(opts)
	return Connect(ctx, i.client, i.cfg.ConnectAttempts, i.logger)
}

// Stop unsubscribes and disconnects so no new messages arrive, then drains the dispatcher
func (i *Ingestor) Stop() {
	if i.client != nil && i.client.IsConnected() {
		if token := i.client.Unsubscribe(i.cfg.SubscriptionTopic()); token.WaitTimeout(2*time.Second) && token.Error() != nil {
			i.logger.Logger.Warn().Err(token.Error()).Msg("Unsubscribe failed")
		}
		i.client.Disconnect(500)
	}
	i.dispatcher.Close()
}

func (i *Ingestor) IsConnected() bool {
	return i.client != nil && i.client.IsConnected()
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	if !i.dispatcher.Dispatch(m.Topic(), m.Payload()) {
		i.logger.Logger.Warn().Str("topic", m.Topic()).Msg("Message arrived after shutdown, ignored")
	}
}

// ClientOptions builds the paho options shared by the ingestor and the simulator
func ClientOptions(cfg config.MQTTConfig) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.GetMQTTBrokerURL()).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetPingTimeout(cfg.PingTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)

	if cfg.BrokerUser != "" {
		opts.SetUsername(cfg.BrokerUser)
		opts.SetPassword(cfg.BrokerPass)
	}

	if cfg.UseTLS {
		tlsCfg, err := tlsConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// Connect performs the initial connect, retrying up to attempts times
func Connect(ctx context.Context, client mqtt.Client, attempts int, log *logger.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	return backoff.Retry(func() error {
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Logger.Warn().Err(err).Msg("MQTT connect failed")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
