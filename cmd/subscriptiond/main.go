// Package main is the entry point for the OPC UA subscription daemon. It
// wires the server-side subscription engine, an in-process Loopback client
// exercising that engine end to end, the alarm-to-MQTT bridge, and the
// ambient health/metrics/logging stack described in SPEC_FULL.md.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/alarm"
	"github.com/nexus-edge/opcua-subscriptiond/internal/client"
	"github.com/nexus-edge/opcua-subscriptiond/internal/config"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/nexus-edge/opcua-subscriptiond/internal/health"
	"github.com/nexus-edge/opcua-subscriptiond/internal/metrics"
	"github.com/nexus-edge/opcua-subscriptiond/internal/notify"
	"github.com/nexus-edge/opcua-subscriptiond/internal/subscription"
	"github.com/nexus-edge/opcua-subscriptiond/internal/transport"
	"github.com/nexus-edge/opcua-subscriptiond/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceVersion = "1.0.0"

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Service.Name, serviceVersion)
	logger.Info().Str("environment", cfg.Service.Environment).Msg("starting subscription daemon")

	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := subscription.NewEngine(cfg.Engine.ToEngineLimits(), logger, metricsRegistry)
	go engine.Run(ctx)

	mqttClient, err := connectMQTT(cfg.MQTT)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to MQTT broker")
	}
	defer mqttClient.Disconnect(250)

	alarmBridge := notify.NewBridge(mqttClient, cfg.Alarm.MQTTBridgeTopic, cfg.MQTT.QoS, metricsRegistry, logger)

	startupCondition := alarm.NewCondition(ua.NewNumericNodeID(1, 1), int(cfg.Engine.MaxEventIDsRecorded), alarmBridge.OnEvent)
	startupCondition.SetAutoAcknowledgeable(cfg.Alarm.AutoAcknowledgeable)
	startupCondition.SetAutoConfirmable(cfg.Alarm.AutoConfirmable)
	startupCondition.SetAutoRetain(cfg.Alarm.AutoRetain)
	if err := startupCondition.SetActiveState(false, nil); err != nil {
		logger.Warn().Err(err).Msg("startup condition probe failed")
	}

	loopback := transport.NewLoopback(engine, domain.SessionID("local-loopback-session"))
	clientSM := client.New(loopback, cfg.Client.ToConnectionConfig(), func(subID domain.SubscriptionID, msg *ua.NotificationMessage) {}, logger)

	if err := clientSM.Start(ctx, nil); err != nil {
		logger.Error().Err(err).Msg("loopback client setup failed")
	}

	healthChecker := health.NewChecker(engine, clientSM, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LiveHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := clientSM.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error closing client subscription")
	}
	engine.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down http server")
	}

	logger.Info().Msg("subscription daemon shutdown complete")
}

func connectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectRetryInterval(cfg.ReconnectDelay).
		SetConnectRetry(true).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}
